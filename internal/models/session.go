package models

import "time"

// ServerSession is the server-side record a session cookie refers to
type ServerSession struct {
	SessionID      string
	UserID         string
	LastActivityAt time.Time
	LastKnownIP    string
	CreatedAt      time.Time
}

// IdleFor returns how long the session has been idle at now
func (s *ServerSession) IdleFor(now time.Time) time.Duration {
	return now.Sub(s.LastActivityAt)
}

// SessionStatus reports the remaining idle budget of a live session
type SessionStatus struct {
	Active           bool          `json:"active"`
	IdleRemaining    time.Duration `json:"-"`
	IdleRemainingSec int64         `json:"idle_remaining_seconds"`
	ExpiresReason    string        `json:"expired_reason,omitempty"`
	LastActivityAt   time.Time     `json:"last_activity_at"`
}
