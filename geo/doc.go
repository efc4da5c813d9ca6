// Package geo provides great-circle and polyline distance math used for
// sector membership tests and progress-along-route computation.
package geo
