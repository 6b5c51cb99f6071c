// Package domain defines the plant entity model and the contracts around it.
//
// Concept-oriented files (plant.go, store.go, errors.go, alerts.go) hold shared types,
// the Store interface every backing implements, and the pure alert rules used by the simulator.
// Apart from those rules and small value helpers there is no implementation here.
package domain
