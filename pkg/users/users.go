// Package users authenticates account holders by email and password.
package users

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ohmage/ohmage-oauth/pkg/apierrors"
	"github.com/ohmage/ohmage-oauth/pkg/types"
	"golang.org/x/crypto/bcrypt"
)

// maxPasswordBytes is the longest input bcrypt accepts.
const maxPasswordBytes = 72

// dummyHash is compared against when the email is unknown so both failure paths cost one bcrypt comparison.
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

type Store interface {
	GetUserByEmail(ctx context.Context, email string) (*types.User, error)
	CreateUser(ctx context.Context, user *types.User) error
}

type Authenticator struct {
	store Store
	cost  int
}

func NewAuthenticator(store Store) *Authenticator {
	return &Authenticator{
		store: store,
		cost:  bcrypt.DefaultCost,
	}
}

// WithCost returns an Authenticator hashing new passwords with the given bcrypt cost.
func (a *Authenticator) WithCost(cost int) *Authenticator {
	return &Authenticator{
		store: a.store,
		cost:  cost,
	}
}

// Authenticate returns the user with the given credentials. An unknown email and a wrong password produce
// the same error.
func (a *Authenticator) Authenticate(ctx context.Context, email, password string) (*types.User, error) {
	if email == "" || password == "" {
		return nil, apierrors.Authentication("The email and password are required.")
	}

	user, err := a.store.GetUserByEmail(ctx, normalizeEmail(email))
	if err != nil && !errors.Is(err, types.ErrNotFound) {
		return nil, apierrors.Internal(err, "failed to look up user")
	}

	hash := dummyHash
	if user != nil {
		hash = user.PasswordHash
	}
	cmpErr := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))

	if user == nil || cmpErr != nil {
		return nil, apierrors.Authentication("The email or password is incorrect.")
	}

	return user, nil
}

// Create registers a new user.
func (a *Authenticator) Create(ctx context.Context, email, password string, now time.Time) (*types.User, error) {
	email = normalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, apierrors.InvalidArgument("The email address is invalid.")
	}
	if len(password) < 8 {
		return nil, apierrors.InvalidArgument("The password must be at least 8 characters.")
	}
	if len(password) > maxPasswordBytes {
		return nil, apierrors.InvalidArgument("The password must be at most %d bytes.", maxPasswordBytes)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), a.cost)
	if err != nil {
		return nil, apierrors.Internal(err, "failed to hash password")
	}

	user := &types.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    now,
	}
	if err := a.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, types.ErrConflict) {
			return nil, apierrors.InvalidArgument("A user with that email address already exists.")
		}
		return nil, apierrors.Internal(err, "failed to create user")
	}

	return user, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
