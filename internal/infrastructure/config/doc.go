// Package config loads and validates Lumacore configuration from YAML with
// environment variable overrides.
//
// Safety-relevant parameters (sampling rate, staleness window, debounce
// count, power tolerance bands, watchdog intervals, emission limits) are all
// configurable here because they require recalibration per deployment, but
// validation refuses values that would weaken the positive-permission policy.
package config
