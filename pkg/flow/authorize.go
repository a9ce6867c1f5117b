package flow

import (
	"context"
	"errors"
	"net/url"

	"github.com/google/uuid"
	"github.com/ohmage/ohmage-oauth/pkg/apierrors"
	"github.com/ohmage/ohmage-oauth/pkg/redirect"
	"github.com/ohmage/ohmage-oauth/pkg/types"
	"go.uber.org/zap"
)

// Authorize issues a new authorization code for clientID. An empty redirectURI selects the client's default.
func (s *Service) Authorize(ctx context.Context, clientID, scopeString, redirectURI, state string) (*types.AuthorizationCode, error) {
	if clientID == "" {
		return nil, apierrors.Authentication("The OAuth client ID is missing.")
	}

	client, err := s.clients.GetClient(ctx, clientID)
	if errors.Is(err, types.ErrNotFound) {
		return nil, apierrors.Authentication("The OAuth client is unknown.")
	} else if err != nil {
		return nil, apierrors.Internal(err, "failed to get client")
	}

	scopes, err := s.scopes.Validate(ctx, scopeString)
	if err != nil {
		return nil, err
	}

	effectiveRedirectURI := client.RedirectURI
	if redirectURI != "" {
		candidate, err := redirect.Parse(redirectURI)
		if err != nil {
			return nil, apierrors.InvalidArgument("%v", err)
		}
		base, err := url.Parse(client.RedirectURI)
		if err != nil {
			return nil, apierrors.Internal(err, "client %s has an invalid redirect URI", client.ID)
		}
		if err := redirect.Supersedes(base, candidate); err != nil {
			return nil, apierrors.InvalidArgument("%v", err)
		}
		effectiveRedirectURI = candidate.String()
	}

	now := s.now()
	code := &types.AuthorizationCode{
		Code:          uuid.NewString(),
		OAuthClientID: client.ID,
		Scopes:        types.Scopes(scopes),
		RedirectURI:   effectiveRedirectURI,
		State:         state,
		CreatedAt:     now,
		ExpiresAt:     now.Add(s.codeTTL),
	}
	if err := s.codes.CreateCode(ctx, code); err != nil {
		return nil, apierrors.Internal(err, "failed to store authorization code")
	}

	s.metrics.RecordCodeIssued()
	s.logger.Info("Issued authorization code",
		zap.String("client_id", client.ID),
		zap.String("scope", scopes.String()),
		zap.Time("expires_at", code.ExpiresAt))

	return code, nil
}

// Respond records the answer of the user with the given credentials and returns where to send the user next.
func (s *Service) Respond(ctx context.Context, email, password, codeString string, granted bool) (*url.URL, error) {
	user, err := s.users.Authenticate(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return s.respond(ctx, user.ID, codeString, granted)
}

// RespondWithToken records the answer of the user owning the Authorization header's token.
func (s *Service) RespondWithToken(ctx context.Context, header, codeString string, granted bool) (*url.URL, error) {
	token, err := s.ResolveToken(ctx, header)
	if err != nil {
		return nil, err
	}
	return s.respond(ctx, token.Owner, codeString, granted)
}

func (s *Service) respond(ctx context.Context, userID, codeString string, granted bool) (*url.URL, error) {
	if codeString == "" {
		return nil, apierrors.InvalidArgument("The authorization code is missing.")
	}

	code, err := s.codes.GetCode(ctx, codeString)
	if errors.Is(err, types.ErrNotFound) {
		return nil, apierrors.InvalidArgument("The authorization code is unknown.")
	} else if err != nil {
		return nil, apierrors.Internal(err, "failed to get authorization code")
	}

	now := s.now()
	if code.IsExpired(now) {
		return nil, apierrors.InvalidArgument("The authorization code has expired.")
	}

	outcome := "replayed"
	if code.Response() == nil {
		updated := code.WithResponse(types.AuthorizationCodeResponse{
			UserID:    userID,
			Granted:   granted,
			CreatedAt: now,
		}, now)

		recorded, err := s.codes.SetCodeResponse(ctx, &updated)
		if err != nil {
			return nil, apierrors.Internal(err, "failed to store authorization code response")
		}
		if recorded {
			code = &updated
			outcome = "denied"
			if granted {
				outcome = "granted"
			}
		} else {
			// Somebody else answered first; judge this request against their answer.
			code, err = s.codes.GetCode(ctx, codeString)
			if err != nil {
				return nil, apierrors.Internal(err, "failed to reload authorization code")
			}
		}
	}

	response := code.Response()
	if response == nil {
		return nil, apierrors.Internal(errors.New("response missing after update"), "failed to record response")
	}
	if response.UserID != userID {
		return nil, apierrors.InvalidArgument("Another user already responded to this request.")
	}
	if response.Granted != granted {
		return nil, apierrors.InvalidArgument("The user has already responded to this request, however they gave a different answer last time.")
	}

	target, err := url.Parse(code.RedirectURI)
	if err != nil {
		return nil, apierrors.Internal(err, "authorization code %s has an invalid redirect URI", code.Code)
	}
	query := target.Query()
	query.Set("code", code.Code)
	query.Set("state", code.State)
	target.RawQuery = query.Encode()

	s.metrics.RecordCodeResponse(outcome)
	s.logger.Info("Recorded authorization code response",
		zap.String("client_id", code.OAuthClientID),
		zap.String("user", hashID(userID)),
		zap.String("outcome", outcome))

	return target, nil
}
