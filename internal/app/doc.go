// Package app runs the plant simulation and exposes the read/acknowledge use
// cases served over HTTP. It depends on domain interfaces only.
package app
