// Package keys defines the store key layout. Everything a lobby owns
// lives under lobby:{code}, so one pattern sweep can find it all when
// the lobby is torn down.
package keys

const prefix = "lobby:"

// Session is the lobby document itself.
func Session(code string) string { return prefix + code }

// Events is the lobby's event queue list.
func Events(code string) string { return prefix + code + ":events" }

// Lock guards one named transition of a lobby.
func Lock(code, transition string) string { return prefix + code + ":lock:" + transition }

// Heartbeat marks a player's stream as alive.
func Heartbeat(code, playerID string) string { return prefix + code + ":hb:" + playerID }

// Joined marks when a player joined, granting them time to connect
// before presence sweeps may evict them.
func Joined(code, playerID string) string { return prefix + code + ":joined:" + playerID }

// Channel names the pub/sub channel events are pushed on. It is a
// channel name, not a stored key, so namespace sweeps never touch it.
func Channel(code string) string { return prefix + code + ":chan" }

// Namespace matches every stored key under a lobby except the session
// document itself.
func Namespace(code string) string { return prefix + code + ":*" }
