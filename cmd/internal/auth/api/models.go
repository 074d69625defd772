package authapi

import "time"

// deviceInfo is the optional client-reported part of the device fingerprint.
type deviceInfo struct {
	Timezone         string `json:"timezone"`
	ScreenResolution string `json:"screen_resolution"`
	Language         string `json:"language"`
}

type loginRequest struct {
	Email      string      `json:"email"`
	Password   string      `json:"password"`
	RememberMe bool        `json:"remember_me"`
	Platform   string      `json:"platform"`
	Device     *deviceInfo `json:"device"`
}

type refreshRequest struct {
	RefreshToken string      `json:"refresh_token"`
	Device       *deviceInfo `json:"device"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

type revokeResponse struct {
	RevokedSessions int64 `json:"revoked_sessions"`
}

type meResponse struct {
	UserID         string    `json:"user_id"`
	Email          string    `json:"email"`
	Tier           string    `json:"tier"`
	Scope          []string  `json:"scope"`
	ExpiresAt      time.Time `json:"expires_at"`
	ActiveSessions int64     `json:"active_sessions"`
}
