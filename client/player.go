package client

// Player is the local media player the engine observes and drives. The
// engine calls it only from its own event loop, so implementations need no
// locking of their own.
type Player interface {
	// Position returns the current playback position in seconds.
	Position() float64
	// Playing reports whether the player is currently playing.
	Playing() bool
	Play()
	Pause()
	Seek(pos float64)
}

// PlayerEvent is a locally observed player action (user pressed play,
// scrubbed the timeline, and so on). The host application feeds these to the
// engine via Engine.PlayerChanged.
type PlayerEvent struct {
	Action   string
	Position float64
}
