// Package snapshot persists point-in-time copies of the order book together
// with the last journal sequence they cover, so startup only replays the
// journal tail.
package snapshot
