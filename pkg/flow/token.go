package flow

import (
	"context"
	"errors"
	"time"

	"github.com/ohmage/ohmage-oauth/pkg/apierrors"
	"github.com/ohmage/ohmage-oauth/pkg/redirect"
	"github.com/ohmage/ohmage-oauth/pkg/tokens"
	"github.com/ohmage/ohmage-oauth/pkg/types"
	"go.uber.org/zap"
)

const (
	grantAuthorizationCode = "authorization_code"
	grantRefreshToken      = "refresh_token"
	grantPassword          = "password"
)

func (s *Service) newToken(owner string, authorizationCode, originCode *string) *types.AuthorizationToken {
	now := s.now()
	accessToken, refreshToken := tokens.NewPair()
	return &types.AuthorizationToken{
		AccessToken:       accessToken,
		RefreshToken:      refreshToken,
		Owner:             owner,
		AuthorizationCode: authorizationCode,
		OriginCode:        originCode,
		CreatedAt:         now,
		ExpiresAt:         now.Add(s.tokenTTL),
	}
}

func (s *Service) recordTokenIssue(grantType string, start time.Time, err error) {
	result := "success"
	if err != nil {
		result = apierrors.KindOf(err).String()
	}
	s.metrics.RecordTokenIssue(grantType, result, time.Since(start))
}

// ExchangeCodeForToken returns the token for a granted authorization code. Exchanging the same code again
// returns the same token until that token is refreshed.
func (s *Service) ExchangeCodeForToken(ctx context.Context, clientID, clientSecret, codeString, redirectURI string) (token *types.AuthorizationToken, err error) {
	defer func(start time.Time) {
		s.recordTokenIssue(grantAuthorizationCode, start, err)
	}(time.Now())

	client, err := s.authenticateClient(ctx, clientID, clientSecret)
	if err != nil {
		return nil, err
	}

	if codeString == "" {
		return nil, apierrors.InvalidArgument("The authorization code is missing.")
	}
	code, err := s.codes.GetCode(ctx, codeString)
	if errors.Is(err, types.ErrNotFound) {
		return nil, apierrors.InvalidArgument("The authorization code is unknown.")
	} else if err != nil {
		return nil, apierrors.Internal(err, "failed to get authorization code")
	}

	if code.OAuthClientID != client.ID {
		return nil, apierrors.InvalidArgument("The authorization code belongs to a different OAuth client.")
	}

	now := s.now()
	if code.IsExpired(now) {
		return nil, apierrors.InvalidArgument("The authorization code has expired.")
	}

	if redirectURI == "" {
		if code.RedirectURI != client.RedirectURI {
			return nil, apierrors.InvalidArgument("The redirect URI is missing, but a non-default one was used to request the code.")
		}
	} else if candidate, err := redirect.Parse(redirectURI); err != nil || candidate.String() != code.RedirectURI {
		return nil, apierrors.InvalidArgument("The redirect URI does not match the one used to request the code.")
	}

	response := code.Response()
	if response == nil {
		return nil, apierrors.InvalidArgument("The user has not yet responded to the authorization request.")
	}
	if !response.Granted {
		return nil, apierrors.InvalidArgument("The user declined the authorization request.")
	}
	if response.InvalidationTimestamp != nil {
		return nil, apierrors.InvalidArgument("The user has revoked the authorization.")
	}

	existing, err := s.tokens.GetTokenByAuthorizationCode(ctx, code.Code)
	switch {
	case err == nil:
		return s.reissue(existing, now)
	case !errors.Is(err, types.ErrNotFound):
		return nil, apierrors.Internal(err, "failed to get token for authorization code")
	}

	token = s.newToken(response.UserID, &code.Code, &code.Code)
	if err := s.tokens.CreateToken(ctx, token); errors.Is(err, types.ErrConflict) {
		// A concurrent exchange of the same code created the token first.
		existing, err := s.tokens.GetTokenByAuthorizationCode(ctx, code.Code)
		if err != nil {
			return nil, apierrors.Internal(err, "failed to get token for authorization code")
		}
		return s.reissue(existing, now)
	} else if err != nil {
		return nil, apierrors.Internal(err, "failed to store token")
	}

	s.logger.Info("Issued token from authorization code",
		zap.String("client_id", client.ID),
		zap.String("user", hashID(token.Owner)))

	return token, nil
}

// reissue returns the token already created for a code, if it is still the live end of its chain.
func (s *Service) reissue(existing *types.AuthorizationToken, now time.Time) (*types.AuthorizationToken, error) {
	if existing.WasRefreshed() {
		return nil, apierrors.InvalidArgument("The token for this authorization code has already been refreshed.")
	}
	if existing.WasInvalidated(now) {
		return nil, apierrors.InvalidArgument("The token for this authorization code has been invalidated.")
	}
	return existing, nil
}

// Refresh returns the successor of the token with the given refresh token. Refreshing the same token again
// returns the same successor, as long as that successor has not been refreshed itself.
func (s *Service) Refresh(ctx context.Context, clientID, clientSecret, refreshToken string) (token *types.AuthorizationToken, err error) {
	defer func(start time.Time) {
		s.recordTokenIssue(grantRefreshToken, start, err)
	}(time.Now())

	client, err := s.authenticateClient(ctx, clientID, clientSecret)
	if err != nil {
		return nil, err
	}

	if refreshToken == "" {
		return nil, apierrors.InvalidArgument("The refresh token is missing.")
	}
	original, err := s.tokens.GetTokenByRefreshToken(ctx, refreshToken)
	if errors.Is(err, types.ErrNotFound) {
		return nil, apierrors.InvalidArgument("The refresh token is unknown.")
	} else if err != nil {
		return nil, apierrors.Internal(err, "failed to get token")
	}

	if original.OriginCode == nil {
		return nil, apierrors.InvalidArgument("The token was not issued through OAuth and cannot be refreshed here.")
	}

	code, err := s.codes.GetCode(ctx, *original.OriginCode)
	if err != nil {
		return nil, apierrors.Internal(err, "failed to get authorization code of token")
	}
	if code.OAuthClientID != client.ID {
		return nil, apierrors.InvalidArgument("The refresh token belongs to a different OAuth client.")
	}
	if response := code.Response(); response != nil && response.InvalidationTimestamp != nil {
		return nil, apierrors.InvalidArgument("The user has revoked the authorization.")
	}

	now := s.now()
	if original.WasRefreshed() {
		return s.successor(ctx, *original.NextToken, now)
	}
	if original.WasInvalidated(now) {
		return nil, apierrors.InvalidArgument("The token has been invalidated.")
	}

	next := s.newToken(original.Owner, nil, original.OriginCode)
	if err := s.tokens.CreateToken(ctx, next); err != nil {
		return nil, apierrors.Internal(err, "failed to store token")
	}

	linked := original.WithNextToken(next.AccessToken)
	won, err := s.tokens.SetNextToken(ctx, &linked)
	if err != nil {
		return nil, apierrors.Internal(err, "failed to link refreshed token")
	}
	if !won {
		// A concurrent refresh linked its own successor first. Retire ours and hand out theirs.
		if _, err := s.tokens.InvalidateToken(ctx, next.AccessToken, now); err != nil {
			return nil, apierrors.Internal(err, "failed to invalidate orphaned token")
		}
		current, err := s.tokens.GetToken(ctx, original.AccessToken)
		if err != nil {
			return nil, apierrors.Internal(err, "failed to reload token")
		}
		if current.NextToken == nil {
			return nil, apierrors.Internal(errors.New("next token missing after lost update"), "failed to refresh token")
		}
		return s.successor(ctx, *current.NextToken, now)
	}

	s.logger.Info("Refreshed token",
		zap.String("client_id", client.ID),
		zap.String("user", hashID(next.Owner)))

	return next, nil
}

// successor returns the token a refreshed token points to, unless it has moved on as well.
func (s *Service) successor(ctx context.Context, accessToken string, now time.Time) (*types.AuthorizationToken, error) {
	next, err := s.tokens.GetToken(ctx, accessToken)
	if err != nil {
		return nil, apierrors.Internal(err, "failed to get refreshed token")
	}
	if next.WasRefreshed() {
		return nil, apierrors.InvalidArgument("The token has already been refreshed, and its successor has also been refreshed.")
	}
	if next.WasInvalidated(now) {
		return nil, apierrors.InvalidArgument("The token has already been refreshed, and its successor has been invalidated.")
	}
	return next, nil
}

// Login issues an account token to the user with the given credentials. Account tokens are not tied to any
// authorization code.
func (s *Service) Login(ctx context.Context, email, password string) (token *types.AuthorizationToken, err error) {
	defer func(start time.Time) {
		s.recordTokenIssue(grantPassword, start, err)
	}(time.Now())

	user, err := s.users.Authenticate(ctx, email, password)
	if err != nil {
		return nil, err
	}

	token = s.newToken(user.ID, nil, nil)
	if err := s.tokens.CreateToken(ctx, token); err != nil {
		return nil, apierrors.Internal(err, "failed to store token")
	}

	s.logger.Info("Issued account token", zap.String("user", hashID(user.ID)))

	return token, nil
}

// Invalidate invalidates the token in an Authorization header. Unknown tokens are ignored.
func (s *Service) Invalidate(ctx context.Context, header string) error {
	accessToken, err := tokens.FromHeader(header)
	if err != nil {
		return apierrors.Authentication("The authorization header is missing or malformed.")
	}

	token, err := s.tokens.GetToken(ctx, accessToken)
	if errors.Is(err, types.ErrNotFound) {
		return nil
	} else if err != nil {
		return apierrors.Internal(err, "failed to get token")
	}

	invalidated, err := s.tokens.InvalidateToken(ctx, token.AccessToken, s.now())
	if err != nil {
		return apierrors.Internal(err, "failed to invalidate token")
	}
	if invalidated {
		s.metrics.RecordInvalidation("token")
		s.logger.Info("Invalidated token", zap.String("user", hashID(token.Owner)))
	}

	return nil
}

// ResolveToken authenticates a request to the account endpoints from its Authorization header.
func (s *Service) ResolveToken(ctx context.Context, header string) (*types.AuthorizationToken, error) {
	accessToken, err := tokens.FromHeader(header)
	if err != nil {
		return nil, apierrors.Authentication("The authorization header is missing or malformed.")
	}

	token, err := s.tokens.GetToken(ctx, accessToken)
	if errors.Is(err, types.ErrNotFound) {
		return nil, apierrors.Authentication("The token is unknown.")
	} else if err != nil {
		return nil, apierrors.Internal(err, "failed to get token")
	}

	now := s.now()
	if !token.IsValid(now) {
		return nil, apierrors.Authentication("The token is no longer valid.")
	}
	if token.IsExpired(now) {
		return nil, apierrors.Authentication("The token has expired.")
	}
	if token.OriginCode != nil {
		return nil, apierrors.InsufficientPermissions("The token was issued to an OAuth client and cannot be used to manage the account.")
	}

	return token, nil
}
