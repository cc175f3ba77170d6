// Package domain defines the core types of the harvester: the normalized
// document, the harvest item pairing a document with its lazy content
// fetch, and the access-control identity helpers.
package domain
