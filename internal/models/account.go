package models

import (
	"slices"
	"time"
)

type RoleName string

const (
	RoleAnonymous     RoleName = "anonymous"
	RoleAuthenticated RoleName = "authenticated"
	RoleAdmin         RoleName = "admin"
)

type Role struct {
	Name        RoleName `json:"name"`
	Permissions []string `json:"permissions"`
}

// Account is the authoritative record in Scylla and, minus the password
// hash, the projection cached under account:{id}. Tokens holds encrypted
// refresh tokens only.
type Account struct {
	ID                string    `json:"id" db:"account_id"`
	Email             string    `json:"email" db:"email"`
	Firstname         string    `json:"firstname" db:"firstname"`
	Lastname          string    `json:"lastname" db:"lastname"`
	PhoneNumber       string    `json:"phone_number" db:"phone_number"`
	Role              Role      `json:"role" db:"-"`
	EmailVerified     bool      `json:"email_verified" db:"email_verified"`
	PhoneVerified     bool      `json:"phone_verified" db:"phone_verified"`
	HashedPassword    string    `json:"-" db:"hashed_password"`
	ActiveDeviceCount int       `json:"active_device_count" db:"active_device_count"`
	ActiveDevices     []string  `json:"active_devices" db:"active_devices"`
	Tokens            []string  `json:"tokens" db:"tokens"`
	Disabled          bool      `json:"disabled" db:"disabled"`
	Version           int       `json:"version" db:"version"`
	CreatedOn         time.Time `json:"created_on" db:"created_on"`
}

func (a *Account) IsAdmin() bool {
	return a.Role.Name == RoleAdmin
}

// HasToken reports whether encryptedToken is in the account's token set.
func (a *Account) HasToken(encryptedToken string) bool {
	return slices.Contains(a.Tokens, encryptedToken)
}

// SessionCount is the larger of the device counter and the token set size;
// the two drift when an event is lost.
func (a *Account) SessionCount() int {
	return max(a.ActiveDeviceCount, len(a.Tokens))
}

type ScreenInfo struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Device is the client metadata recorded alongside a session.
type Device struct {
	Name      string     `json:"name"`
	Platform  string     `json:"platform"`
	OS        string     `json:"os"`
	Browser   string     `json:"browser"`
	UserAgent string     `json:"user_agent"`
	Screen    ScreenInfo `json:"screen"`
}

// The mutators below keep Tokens and ActiveDevices index aligned and
// ActiveDeviceCount equal to the number of sessions. Each reports whether
// the account changed.

func (a *Account) AssignToken(encryptedToken, deviceIP string) bool {
	if a.HasToken(encryptedToken) {
		return false
	}
	a.alignDevices()
	a.Tokens = append(a.Tokens, encryptedToken)
	a.ActiveDevices = append(a.ActiveDevices, deviceIP)
	a.ActiveDeviceCount = len(a.Tokens)
	return true
}

// ReplaceToken swaps oldToken for newToken in place. It is a no-op when
// oldToken is no longer a member, which happens when a revocation won the race.
func (a *Account) ReplaceToken(oldToken, newToken string) bool {
	i := slices.Index(a.Tokens, oldToken)
	if i < 0 || a.HasToken(newToken) {
		return false
	}
	a.Tokens[i] = newToken
	return true
}

func (a *Account) RemoveToken(encryptedToken string) bool {
	i := slices.Index(a.Tokens, encryptedToken)
	if i < 0 {
		return false
	}
	a.alignDevices()
	a.Tokens = slices.Delete(a.Tokens, i, i+1)
	a.ActiveDevices = slices.Delete(a.ActiveDevices, i, i+1)
	a.ActiveDeviceCount = len(a.Tokens)
	return true
}

func (a *Account) ClearTokens() bool {
	if len(a.Tokens) == 0 && len(a.ActiveDevices) == 0 && a.ActiveDeviceCount == 0 {
		return false
	}
	a.Tokens = []string{}
	a.ActiveDevices = []string{}
	a.ActiveDeviceCount = 0
	return true
}

func (a *Account) alignDevices() {
	for len(a.ActiveDevices) < len(a.Tokens) {
		a.ActiveDevices = append(a.ActiveDevices, "")
	}
	a.ActiveDevices = a.ActiveDevices[:len(a.Tokens)]
}
