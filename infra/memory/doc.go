// Package memory holds reuse primitives for hot paths that would otherwise
// allocate per command, such as journal frame buffers.
package memory
