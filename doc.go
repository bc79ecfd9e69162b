// Package scheduler drives per-frame updates for lighting-animation entities
// inside an interactive editor host and keeps one session with the Chroma
// lighting service alive while they run.
//
// The library is built from four cooperating parts:
//  1. Registry - weak handles to entities, deduplicated, stale ones compacted away
//  2. Guard - the single shared connection with idempotent connect/disconnect
//  3. Dispatcher - Idle/Active state machine subscribed to the host's tick source
//  4. Hooks - entry points the host calls on activation, inspection and teardown
//
// A Session wires them together from a Config. The host provides the tick
// source (update.Loop or its own) and the compile/simulation signals.
package scheduler
