package models

import (
	"time"

	id "paybook/pkg/domain"
)

// User is a registered identity. The banking account shares its ID.
type User struct {
	ID           id.UserID
	Email        string
	PasswordHash []byte
	CreatedAt    time.Time
}

type SessionStatus string

const (
	SessionStatusActive  SessionStatus = "active"
	SessionStatusRevoked SessionStatus = "revoked"
)

// Session is one signed-in device. Access tokens reference it by ID.
type Session struct {
	ID                 id.SessionID  `json:"id"`
	UserID             id.UserID     `json:"user_id"`
	Email              string        `json:"email"`
	Status             SessionStatus `json:"status"`
	DeviceDisplayName  string        `json:"device_display_name"`
	ClientIP           string        `json:"client_ip,omitempty"`
	LastAccessTokenJTI string        `json:"last_access_token_jti"`
	CreatedAt          time.Time     `json:"created_at"`
	LastSeenAt         time.Time     `json:"last_seen_at"`
	ExpiresAt          time.Time     `json:"expires_at"`
	RevokedAt          *time.Time    `json:"revoked_at,omitempty"`
}

// IsActive reports whether the session can still authenticate requests at now.
func (s *Session) IsActive(now time.Time) bool {
	return s.Status == SessionStatusActive && now.Before(s.ExpiresAt)
}

// Revoke marks the session revoked. It returns false when already revoked.
func (s *Session) Revoke(now time.Time) bool {
	if s.Status == SessionStatusRevoked {
		return false
	}
	s.Status = SessionStatusRevoked
	s.RevokedAt = &now
	return true
}

// Principal is the authenticated caller attached to a request.
type Principal struct {
	UserID    id.UserID
	SessionID id.SessionID
	Email     string
	JTI       string
	ExpiresAt time.Time
}

// AuthResult is returned by sign-in, sign-up and refresh.
type AuthResult struct {
	AccessToken string
	ExpiresAt   time.Time
	User        *User
	Session     *Session
}

type SessionEventType string

const (
	EventSignedIn       SessionEventType = "signed_in"
	EventSignedOut      SessionEventType = "signed_out"
	EventTokenRefreshed SessionEventType = "token_refreshed"
	EventSessionRevoked SessionEventType = "session_revoked"
)

// SessionEvent is published whenever a user's session state changes.
type SessionEvent struct {
	Type      SessionEventType `json:"type"`
	UserID    id.UserID        `json:"user_id"`
	SessionID id.SessionID     `json:"session_id"`
	At        time.Time        `json:"at"`
}

// EndsSession reports whether the event leaves the session unusable.
func (e SessionEvent) EndsSession() bool {
	return e.Type == EventSignedOut || e.Type == EventSessionRevoked
}
