// Package interlock samples the fixed set of hardware safety signals and
// reduces them to an immutable Status snapshot for the safety authority.
//
// The monitor enforces the fail-safe reading policy: bounded read timeouts,
// any read error reported as a fault (never unknown-as-ok), asymmetric
// debounce that accepts fault transitions immediately but requires
// consecutive confirmation toward ok, and calibrated optical power
// verification with separate advisory and fault tolerance bands.
package interlock
