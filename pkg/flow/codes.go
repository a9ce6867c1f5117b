package flow

import (
	"context"
	"errors"

	"github.com/ohmage/ohmage-oauth/pkg/apierrors"
	"github.com/ohmage/ohmage-oauth/pkg/types"
	"go.uber.org/zap"
)

// ListCodes returns the codes userID has responded to.
func (s *Service) ListCodes(ctx context.Context, userID string) ([]types.AuthorizationCode, error) {
	codes, err := s.codes.ListCodesByResponder(ctx, userID)
	if err != nil {
		return nil, apierrors.Internal(err, "failed to list authorization codes")
	}
	return codes, nil
}

// GetCode returns a code. Anyone may look at a code nobody has answered yet, which is what the consent page
// does; once answered, only the responder may. An empty userID means the caller is anonymous.
func (s *Service) GetCode(ctx context.Context, userID, codeString string) (*types.AuthorizationCode, error) {
	code, err := s.codes.GetCode(ctx, codeString)
	if errors.Is(err, types.ErrNotFound) {
		return nil, apierrors.UnknownEntity("The code is unknown.")
	} else if err != nil {
		return nil, apierrors.Internal(err, "failed to get authorization code")
	}

	if response := code.Response(); response != nil {
		if userID == "" {
			return nil, apierrors.Authentication("The code has been responded to, so authentication is required.")
		}
		if response.UserID != userID {
			return nil, apierrors.InsufficientPermissions("The requesting user is not the responder for this code.")
		}
	}

	return code, nil
}

// InvalidateCode revokes userID's response to a code. Every still-valid token descended from the code is
// invalidated with it.
func (s *Service) InvalidateCode(ctx context.Context, userID, codeString string) error {
	code, err := s.codes.GetCode(ctx, codeString)
	if errors.Is(err, types.ErrNotFound) {
		return apierrors.UnknownEntity("The code is unknown.")
	} else if err != nil {
		return apierrors.Internal(err, "failed to get authorization code")
	}

	response := code.Response()
	if response == nil || response.UserID != userID {
		return apierrors.InsufficientPermissions("The requesting user is not the responder for this code.")
	}

	now := s.now()
	invalidated, err := s.codes.InvalidateCodeResponse(ctx, code.Code, userID, now)
	if err != nil {
		return apierrors.Internal(err, "failed to invalidate authorization code response")
	}
	if invalidated {
		s.metrics.RecordInvalidation("code")
	}

	chain, err := s.tokens.ListTokensByOriginCode(ctx, code.Code)
	if err != nil {
		return apierrors.Internal(err, "failed to list tokens of authorization code")
	}
	revoked := 0
	for _, token := range chain {
		if !token.IsValid(now) {
			continue
		}
		ok, err := s.tokens.InvalidateToken(ctx, token.AccessToken, now)
		if err != nil {
			return apierrors.Internal(err, "failed to invalidate token")
		}
		if ok {
			revoked++
			s.metrics.RecordInvalidation("token")
		}
	}

	s.logger.Info("Invalidated authorization code response",
		zap.String("client_id", code.OAuthClientID),
		zap.String("user", hashID(userID)),
		zap.Int("tokens_invalidated", revoked))

	return nil
}
