// Package catalog holds the static list of average-speed enforcement sectors
// and answers point-membership queries against their route geometry.
package catalog
