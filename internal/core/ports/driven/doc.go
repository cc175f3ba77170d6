// Package driven defines the outbound ports the harvester core depends
// on: binary content materialization and document persistence. Adapters
// under internal/adapters/driven implement them.
package driven
