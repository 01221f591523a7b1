package models

import "time"

type SecurityEventType string

const (
	SecurityEventLogin          SecurityEventType = "login"
	SecurityEventLoginFailed    SecurityEventType = "login_failed"
	SecurityEventTokenRotated   SecurityEventType = "token_rotated"
	SecurityEventTokenReused    SecurityEventType = "token_reused"
	SecurityEventLogout         SecurityEventType = "logout"
	SecurityEventRevokeAll      SecurityEventType = "revoke_all"
	SecurityEventAuthTokenIssue SecurityEventType = "auth_token_issued"
	SecurityEventAuthTokenUsed  SecurityEventType = "auth_token_used"
)

type SecurityEvent struct {
	EventID   string            `json:"event_id" db:"event_id"`
	EventDate string            `json:"event_date" db:"event_date"`
	EventTime time.Time         `json:"event_time" db:"event_time"`
	EventType SecurityEventType `json:"event_type" db:"event_type"`
	AccountID string            `json:"account_id" db:"account_id"`
	IPAddress string            `json:"ip_address" db:"ip_address"`
	Details   string            `json:"details" db:"details"`
}
