package repository

import (
	"context"
	"time"

	"github.com/Abdullahkhan871/echoSphere-BACKEND/internal/domain"
)

// UserPatch updates a subset of user columns. Nil fields are left untouched;
// a pointer to the zero value clears the column.
type UserPatch struct {
	Name              *string
	PasswordHash      *string
	PasswordChangedAt *time.Time
	EmailVerified     *bool
	AboutMe           *string
	Phone             *string
	AvatarURL         *string
	Online            *bool
	ResetTokenHash    *string
	ResetTokenExpiry  *time.Time
	VerifyTokenHash   *string
	VerifyTokenExpiry *time.Time
}

// UserRepository exposes single-row persistence for users.
type UserRepository interface {
	GetByEmail(ctx context.Context, email string) (domain.User, error)
	GetByID(ctx context.Context, userID int64) (domain.User, error)
	Create(ctx context.Context, user domain.User) (domain.User, error)
	Update(ctx context.Context, userID int64, patch UserPatch) (domain.User, error)
}

// KeyRepository stores session signing keys.
type KeyRepository interface {
	GetActiveKey(ctx context.Context) (domain.SigningKey, error)
	CreateKey(ctx context.Context, key domain.SigningKey) (domain.SigningKey, error)
}
