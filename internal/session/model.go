package session

import (
	"errors"
	"fmt"
	"time"
)

// Status is the lifecycle state stored inside every session record.
type Status string

const (
	StatusInProgress Status = "in_progress" // Game is running, no end observed yet
	StatusComplete   Status = "complete"    // Closed normally, has end time and duration
	StatusStale      Status = "stale"       // Close never observed, recorded without a duration
)

var (
	// ErrCorruptRecord marks a persisted record that cannot be trusted.
	ErrCorruptRecord = errors.New("corrupt session record")
	// ErrNoOpenSession is returned when closing a game with no in-progress record.
	ErrNoOpenSession = errors.New("no open session")
)

// Session is one play interval of one game.
type Session struct {
	SessionID string     `json:"sessionId"`
	GameID    string     `json:"gameId"`
	Status    Status     `json:"status"`
	StartTime time.Time  `json:"startTime"`
	EndTime   *time.Time `json:"endTime,omitempty"`
	Duration  *uint64    `json:"duration,omitempty"` // seconds
}

// Command is the wire form of a session open/close notification.
type Command struct {
	Session
	ClientUtcNow time.Time `json:"clientUtcNow"`
}

// Validate checks the fields every record must carry.
func (s Session) Validate() error {
	if s.SessionID == "" {
		return fmt.Errorf("%w: empty session id", ErrCorruptRecord)
	}
	if s.GameID == "" {
		return fmt.Errorf("%w: empty game id", ErrCorruptRecord)
	}
	if s.StartTime.IsZero() {
		return fmt.Errorf("%w: missing start time", ErrCorruptRecord)
	}
	switch s.Status {
	case StatusInProgress, StatusComplete, StatusStale:
		return nil
	default:
		return fmt.Errorf("%w: unknown status %q", ErrCorruptRecord, s.Status)
	}
}

// ValidInProgress reports a well-formed in-progress record.
func (s Session) ValidInProgress() bool {
	return s.Validate() == nil && s.Status == StatusInProgress && s.EndTime == nil && s.Duration == nil
}

// ValidComplete reports a well-formed complete record.
func (s Session) ValidComplete() bool {
	return s.Validate() == nil && s.Status == StatusComplete && s.EndTime != nil && s.Duration != nil
}

// ValidStale reports a well-formed stale record.
func (s Session) ValidStale() bool {
	return s.Validate() == nil && s.Status == StatusStale
}

// Terminal reports whether the record is complete or stale.
func (s Session) Terminal() bool {
	return s.Status == StatusComplete || s.Status == StatusStale
}

// complete closes the session at now with the given duration in seconds.
func (s Session) complete(duration uint64, now time.Time) Session {
	end := now.UTC()
	s.Status = StatusComplete
	s.EndTime = &end
	s.Duration = &duration
	return s
}

// stale marks the session stale. End time and duration are left as they are.
func (s Session) stale() Session {
	s.Status = StatusStale
	return s
}
