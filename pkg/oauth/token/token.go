package token

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/ohmage/ohmage-oauth/pkg/apierrors"
	"github.com/ohmage/ohmage-oauth/pkg/handlerutils"
	"github.com/ohmage/ohmage-oauth/pkg/types"
)

type TokenIssuer interface {
	ExchangeCodeForToken(ctx context.Context, clientID, clientSecret, codeString, redirectURI string) (*types.AuthorizationToken, error)
	Refresh(ctx context.Context, clientID, clientSecret, refreshToken string) (*types.AuthorizationToken, error)
}

type Handler struct {
	issuer TokenIssuer
	now    func() time.Time
}

func NewHandler(issuer TokenIssuer) http.Handler {
	return &Handler{
		issuer: issuer,
		now:    time.Now,
	}
}

func (p *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Parse form data
	if err := r.ParseForm(); err != nil {
		handlerutils.JSON(w, http.StatusBadRequest, types.OAuthError{
			Error:            "invalid_request",
			ErrorDescription: "Invalid request body",
		})
		return
	}

	clientID, clientSecret := clientCredentials(r)

	var (
		token *types.AuthorizationToken
		err   error
	)
	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		token, err = p.issuer.ExchangeCodeForToken(r.Context(), clientID, clientSecret, r.PostForm.Get("code"), r.PostForm.Get("redirect_uri"))
	case "refresh_token":
		token, err = p.issuer.Refresh(r.Context(), clientID, clientSecret, r.PostForm.Get("refresh_token"))
	default:
		handlerutils.JSON(w, http.StatusBadRequest, types.OAuthError{
			Error:            "unsupported_grant_type",
			ErrorDescription: "The grant type is not supported by this authorization server",
		})
		return
	}
	if err != nil {
		if apierrors.Is(err, apierrors.KindInvalidArgument) || apierrors.Is(err, apierrors.KindUnknownEntity) {
			handlerutils.ErrorWithCode(w, r, err, "invalid_grant")
			return
		}
		handlerutils.Error(w, r, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	handlerutils.JSON(w, http.StatusOK, token.Response(p.now()))
}

// clientCredentials reads HTTP Basic credentials, falling back to the form. Basic credentials are
// form-encoded per RFC 6749 section 2.3.1.
func clientCredentials(r *http.Request) (string, string) {
	if id, secret, ok := r.BasicAuth(); ok {
		if unescaped, err := url.QueryUnescape(id); err == nil {
			id = unescaped
		}
		if unescaped, err := url.QueryUnescape(secret); err == nil {
			secret = unescaped
		}
		return id, secret
	}
	return r.PostForm.Get("client_id"), r.PostForm.Get("client_secret")
}
