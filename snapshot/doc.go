// Package snapshot turns the book views published by pair workers into
// throttled snapshot events.
//
// A Snapshotter never touches a live book. It reads the immutable view the
// worker swaps in after every command, aggregates it into levels with
// cumulative depth and per-precision groupings, and hands the result to the
// in-process bus and an optional lossy sink such as the Kafka producer.
//
// Each snapshotter also watches its own output: when nothing was emitted for
// longer than the down timeout it raises a stack-down alert, backing off
// geometrically until the next snapshot goes out.
package snapshot
