// Package confluence harvests spaces, pages, blog posts and attachments
// from a Confluence Cloud or Server instance and streams them as
// normalized documents.
//
// The harvest is a producer/consumer pipeline: one producer task per
// resource class walks a paginated API endpoint and feeds a queue bounded
// by both item count and memory, spawning an extra producer per document
// that owns attachments. A single drain loop forwards documents
// downstream and counts producer completion markers to decide when the
// harvest is over. Failures while enumerating one resource are contained
// to that resource; the harvest as a whole always runs to completion
// unless configuration is invalid.
package confluence
