package auth

import (
	"context"
	"errors"
	"time"
)

var ErrUserNotFound = errors.New("user not found")

// Repo stores users, OTP challenges, and bearer tokens.
type Repo interface {
	GetOrCreateUser(ctx context.Context, email string, now time.Time) (User, bool, error)
	GetUserByID(ctx context.Context, id string) (User, bool, error)
	GetUserByEmail(ctx context.Context, email string) (User, bool, error)
	SetStripeCustomerID(ctx context.Context, userID, customerID string) error
	DeleteUser(ctx context.Context, userID string) error

	PutChallenge(ctx context.Context, ch OTPChallenge) error
	GetChallenge(ctx context.Context, email string) (OTPChallenge, bool, error)
	DeleteChallenge(ctx context.Context, email string) error

	CreateToken(ctx context.Context, t Token) error
	GetTokenByHash(ctx context.Context, hash string) (Token, bool, error)
	TouchToken(ctx context.Context, id string, seen time.Time) error
	DeleteTokenByID(ctx context.Context, id string) error
	DeleteTokenByHash(ctx context.Context, hash string) error
	DeleteTokensForUser(ctx context.Context, userID string) error
}
