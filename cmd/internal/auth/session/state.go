package session

import "time"

// State is the lifecycle position of a session token.
type State int

const (
	// StateActive: unexpired, not superseded, not revoked.
	StateActive State = iota
	// StateExpired: the session token is stale; its refresh token may still be live.
	StateExpired
	// StateRotated: a refresh replaced this session token with a new one.
	StateRotated
	// StateRevoked is terminal. Nothing in gatekeep revokes sessions yet.
	StateRevoked
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateExpired:
		return "expired"
	case StateRotated:
		return "rotated"
	case StateRevoked:
		return "revoked"
	default:
		return "unknown"
	}
}

// StateAt derives the state at now from stored fields.
func (s Session) StateAt(now time.Time) State {
	switch {
	case s.RevokedAt != nil:
		return StateRevoked
	case s.ReplacedBy != "":
		return StateRotated
	case !s.ExpiresAt.After(now):
		return StateExpired
	default:
		return StateActive
	}
}
