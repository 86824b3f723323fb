package turn

import "time"

// Turn is one user-utterance/agent-response cycle. Numbers are strictly
// increasing and contiguous within a session, starting at 1. A turn with a
// zero EndedAt is still open.
type Turn struct {
	Number         int
	StartedAt      time.Time
	EndedAt        time.Time
	WasInterrupted bool
}

// Open reports whether the turn has not yet ended.
func (t Turn) Open() bool { return t.EndedAt.IsZero() }

// Boundary is the notification payload emitted on turn start and end,
// consumed by the metrics aggregator and any dialogue-flow collaborator.
type Boundary struct {
	TurnNumber     int
	StartedAt      time.Time
	EndedAt        time.Time
	WasInterrupted bool
}

// Listener observes turn boundaries.
type Listener interface {
	OnTurnStarted(b Boundary)
	OnTurnEnded(b Boundary)
}
