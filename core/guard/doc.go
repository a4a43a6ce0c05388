// Package guard protects every actuator write with a circuit breaker, a
// stale-data gate, a fixed timeout and a read-back verification, and
// validates raw sensor readings before the rest of the core touches them.
package guard
