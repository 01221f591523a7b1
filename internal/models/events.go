package models

// CacheEnvelope asks the cache applier to SET Key to Data. TTLSeconds of zero
// means no expiry.
type CacheEnvelope struct {
	Key        string `json:"key"`
	Data       []byte `json:"data"`
	TTLSeconds int64  `json:"ttl_seconds,omitempty"`
}

type InvalidateCache struct {
	Key string `json:"key"`
}

// AssignToken adds a session to an account. Token is encrypted.
type AssignToken struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	DeviceIP   string `json:"device_ip"`
	Token      string `json:"token"`
	DeviceInfo Device `json:"device_info"`
}

// UpdateToken swaps one encrypted refresh token for another in place.
type UpdateToken struct {
	ID       string `json:"id"`
	OldToken string `json:"old_token"`
	NewToken string `json:"new_token"`
}

type RevokeRefreshToken struct {
	ID       string `json:"id"`
	Token    string `json:"token"`
	DeviceIP string `json:"device_ip"`
}

// ReusedToken revokes every session of the account.
type ReusedToken struct {
	ID string `json:"id"`
}

type Logout struct {
	Email        string `json:"email"`
	RefreshToken string `json:"refresh_token"`
}
