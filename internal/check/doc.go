// Package check provides the pluggable frame predicates a worker runs every
// check interval, and the policy applied when a predicate reports false.
//
// A predicate answers "does this stream still look alive?". The built-ins are:
//   - Hamming: true when the fraction of grayscale pixels that changed since
//     the previous sampled frame exceeds a threshold (a frozen stream fails)
//   - Expression: a CEL boolean expression over frame metadata
//   - Always: never fails
//
// Predicates are advisory; the Policy decides whether a false result is
// ignored, logged, or ends the worker so it is rebuilt.
package check
