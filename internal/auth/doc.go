// Package auth issues and validates access tokens for the control API.
//
// Routine commands (arm, pause, protocol control) require an operator
// token. Fault recovery is deliberately harder: supervisor-clear accepts
// only tokens carrying the supervisor role, so a latched fault cannot be
// dismissed from the treatment console alone.
package auth
