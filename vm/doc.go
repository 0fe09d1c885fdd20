// Package vm implements the gmvm bytecode virtual machine.
//
// This package contains:
//   - Tagged Variable values with copy-on-write strings and arrays
//   - Bytecode, debug symbols and the code table
//   - The Executor: operand stack, call/return protocol, self/other contexts
//   - Handle tables for lists, maps, grids, stacks, queues, priority queues
//     and buffers, with the natives that operate on them
//   - Event dispatch over a World of instances
//   - StateStream serialization and full-state snapshots
//   - Debugging: breakpoints, stepping, tracing and profiling
package vm
