// Package flow implements the authorization code flow: issuing codes, recording the user's answer,
// exchanging codes for tokens, rotating tokens and invalidating them.
package flow

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"time"

	"github.com/ohmage/ohmage-oauth/pkg/apierrors"
	"github.com/ohmage/ohmage-oauth/pkg/metrics"
	"github.com/ohmage/ohmage-oauth/pkg/scope"
	"github.com/ohmage/ohmage-oauth/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	DefaultCodeTTL  = 5 * time.Minute
	DefaultTokenTTL = 30 * time.Minute
)

type ClientStore interface {
	GetClient(ctx context.Context, clientID string) (*types.OAuthClient, error)
	CreateClient(ctx context.Context, client *types.OAuthClient) error
	ListClientsByOwner(ctx context.Context, owner string) ([]types.OAuthClient, error)
}

type CodeStore interface {
	CreateCode(ctx context.Context, code *types.AuthorizationCode) error
	GetCode(ctx context.Context, code string) (*types.AuthorizationCode, error)
	SetCodeResponse(ctx context.Context, updated *types.AuthorizationCode) (bool, error)
	InvalidateCodeResponse(ctx context.Context, code, userID string, at time.Time) (bool, error)
	ListCodesByResponder(ctx context.Context, userID string) ([]types.AuthorizationCode, error)
}

type TokenStore interface {
	CreateToken(ctx context.Context, token *types.AuthorizationToken) error
	GetToken(ctx context.Context, accessToken string) (*types.AuthorizationToken, error)
	GetTokenByRefreshToken(ctx context.Context, refreshToken string) (*types.AuthorizationToken, error)
	GetTokenByAuthorizationCode(ctx context.Context, code string) (*types.AuthorizationToken, error)
	SetNextToken(ctx context.Context, updated *types.AuthorizationToken) (bool, error)
	InvalidateToken(ctx context.Context, accessToken string, at time.Time) (bool, error)
	ListTokensByOriginCode(ctx context.Context, code string) ([]types.AuthorizationToken, error)
}

type UserAuthenticator interface {
	Authenticate(ctx context.Context, email, password string) (*types.User, error)
}

type ScopeValidator interface {
	Validate(ctx context.Context, scopeString string) (scope.Set, error)
}

// Deps are the collaborators of the Service.
type Deps struct {
	Clients ClientStore
	Codes   CodeStore
	Tokens  TokenStore
	Users   UserAuthenticator
	Scopes  ScopeValidator
}

// Options tune the Service. Zero values fall back to defaults.
type Options struct {
	CodeTTL      time.Duration
	TokenTTL     time.Duration
	RequireHTTPS bool
	Logger       *zap.Logger
	Metrics      *metrics.Metrics
	Now          func() time.Time
}

// Service drives the authorization flow. It is safe for concurrent use; every state change is a
// conditional write at the store.
type Service struct {
	clients ClientStore
	codes   CodeStore
	tokens  TokenStore
	users   UserAuthenticator
	scopes  ScopeValidator

	codeTTL      time.Duration
	tokenTTL     time.Duration
	requireHTTPS bool
	logger       *zap.Logger
	metrics      *metrics.Metrics
	now          func() time.Time
}

func NewService(deps Deps, opts Options) *Service {
	s := &Service{
		clients:      deps.Clients,
		codes:        deps.Codes,
		tokens:       deps.Tokens,
		users:        deps.Users,
		scopes:       deps.Scopes,
		codeTTL:      opts.CodeTTL,
		tokenTTL:     opts.TokenTTL,
		requireHTTPS: opts.RequireHTTPS,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
		now:          opts.Now,
	}
	if s.codeTTL <= 0 {
		s.codeTTL = DefaultCodeTTL
	}
	if s.tokenTTL <= 0 {
		s.tokenTTL = DefaultTokenTTL
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.metrics == nil {
		s.metrics = metrics.New(prometheus.NewRegistry())
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// TokenTTL is the lifetime of issued access tokens.
func (s *Service) TokenTTL() time.Duration {
	return s.tokenTTL
}

// authenticateClient checks the client's credentials. Unknown clients and wrong secrets are reported alike.
func (s *Service) authenticateClient(ctx context.Context, clientID, clientSecret string) (*types.OAuthClient, error) {
	if clientID == "" || clientSecret == "" {
		return nil, apierrors.Authentication("The OAuth client credentials are missing.")
	}

	client, err := s.clients.GetClient(ctx, clientID)
	if errors.Is(err, types.ErrNotFound) {
		return nil, apierrors.Authentication("The OAuth client credentials are invalid.")
	} else if err != nil {
		return nil, apierrors.Internal(err, "failed to get client")
	}

	if subtle.ConstantTimeCompare([]byte(client.Secret), []byte(clientSecret)) != 1 {
		return nil, apierrors.Authentication("The OAuth client credentials are invalid.")
	}

	return client, nil
}

// hashID shortens an id to a stable, non-reversible form for logs.
func hashID(id string) string {
	sum := sha256.Sum256([]byte(id))
	return hex.EncodeToString(sum[:8])
}
