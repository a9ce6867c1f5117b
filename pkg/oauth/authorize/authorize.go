package authorize

import (
	"context"
	"net/http"
	"net/url"

	"github.com/ohmage/ohmage-oauth/pkg/handlerutils"
	"github.com/ohmage/ohmage-oauth/pkg/types"
)

type Authorizer interface {
	Authorize(ctx context.Context, clientID, scopeString, redirectURI, state string) (*types.AuthorizationCode, error)
}

type Handler struct {
	authorizer Authorizer
	pagePath   string
}

// NewHandler returns the handler that starts the flow. On success the user agent is sent to the consent page at
// pagePath with the new code.
func NewHandler(authorizer Authorizer, pagePath string) http.Handler {
	return &Handler{
		authorizer: authorizer,
		pagePath:   pagePath,
	}
}

func (p *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	query, err := handlerutils.Params(r)
	if err != nil {
		handlerutils.Error(w, r, err)
		return
	}

	if responseType := query.Get("response_type"); responseType != "" && responseType != "code" {
		handlerutils.JSON(w, http.StatusBadRequest, types.OAuthError{
			Error:            "unsupported_response_type",
			ErrorDescription: "Only the 'code' response type is supported.",
		})
		return
	}

	code, err := p.authorizer.Authorize(r.Context(),
		query.Get("client_id"),
		query.Get("scope"),
		query.Get("redirect_uri"),
		query.Get("state"),
	)
	if err != nil {
		handlerutils.Error(w, r, err)
		return
	}

	http.Redirect(w, r, p.pagePath+"?"+url.Values{"code": {code.Code}}.Encode(), http.StatusFound)
}
