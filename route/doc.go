// Package route resolves a sector's endpoints into a road-following polyline
// via a Mapbox-style directions service, with ordered profile fallback and a
// 24-hour success cache. Callers fall back to the straight line between
// endpoints when resolution fails.
package route
