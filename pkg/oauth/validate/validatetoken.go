package validate

import (
	"context"
	"net/http"

	"github.com/ohmage/ohmage-oauth/pkg/handlerutils"
	"github.com/ohmage/ohmage-oauth/pkg/types"
)

type TokenResolver interface {
	ResolveToken(ctx context.Context, header string) (*types.AuthorizationToken, error)
}

type TokenValidator struct {
	resolver TokenResolver
}

func NewTokenValidator(resolver TokenResolver) *TokenValidator {
	return &TokenValidator{
		resolver: resolver,
	}
}

// WithTokenValidation rejects requests without a valid account token.
func (p *TokenValidator) WithTokenValidation(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, err := p.resolver.ResolveToken(r.Context(), r.Header.Get("Authorization"))
		if err != nil {
			handlerutils.Error(w, r, err)
			return
		}

		next(w, r.WithContext(context.WithValue(r.Context(), tokenInfoKey{}, token)))
	}
}

// WithOptionalTokenValidation validates the account token if one is sent and lets anonymous requests through.
func (p *TokenValidator) WithOptionalTokenValidation(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			next(w, r)
			return
		}
		p.WithTokenValidation(next)(w, r)
	}
}

// GetTokenInfo returns the validated token, or nil for anonymous requests.
func GetTokenInfo(r *http.Request) *types.AuthorizationToken {
	token, _ := r.Context().Value(tokenInfoKey{}).(*types.AuthorizationToken)
	return token
}

// GetUserID returns the owner of the validated token, or "" for anonymous requests.
func GetUserID(r *http.Request) string {
	if token := GetTokenInfo(r); token != nil {
		return token.Owner
	}
	return ""
}

type tokenInfoKey struct{}
