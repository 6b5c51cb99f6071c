// Package broadcast pushes plant snapshots to WebSocket viewers.
//
// The Registry is an actor: one goroutine owns the session map and is driven
// through a command channel. Every viewer session runs its own ticker and its
// own writer goroutine, so a slow or broken viewer never stalls the others.
package broadcast
