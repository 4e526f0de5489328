// Package vm implements the wang workflow interpreter.
//
// This package contains:
//   - Scope chain contexts and binding kinds
//   - A tree-walking evaluator over ast programs
//   - Closures, classes and instances
//   - Pipeline expressions
//   - Module loading with cycle detection and live imports
//   - Checkpointing, pause/resume and JSON-safe snapshots
package vm
