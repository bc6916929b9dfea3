package domain

import "time"

// User represents an account that can authenticate and chat.
type User struct {
	ID                int64
	Email             string
	EmailVerified     bool
	PasswordHash      string
	Name              string
	AboutMe           string
	Phone             string
	AvatarURL         string
	Online            bool
	PasswordChangedAt time.Time
	ResetTokenHash    string
	ResetTokenExpiry  time.Time
	VerifyTokenHash   string
	VerifyTokenExpiry time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
