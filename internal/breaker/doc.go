// Package breaker tracks third-party integration health with per-integration
// circuit breakers (CLOSED/OPEN/HALF_OPEN) and classifies the health impact
// on dependent workflows from the fraction of their healthy dependencies.
package breaker
