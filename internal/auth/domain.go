package auth

import "time"

// User represents the credential view of an account.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
}

// Token is the result of a successful login.
type Token struct {
	AccessToken string    `json:"accessToken"`
	TokenType   string    `json:"tokenType"`
	ExpiresAt   time.Time `json:"expiresAt"`
	UserID      int64     `json:"userId"`
	Username    string    `json:"username"`
}
