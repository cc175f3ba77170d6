// Package connectors groups the source connectors. Each connector knows
// how to enumerate one vendor's content API and stream it as normalized
// documents; confluence is the only connector today.
package connectors
