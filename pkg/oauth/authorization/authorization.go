package authorization

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/ohmage/ohmage-oauth/pkg/apierrors"
	"github.com/ohmage/ohmage-oauth/pkg/handlerutils"
)

type Responder interface {
	Respond(ctx context.Context, email, password, codeString string, granted bool) (*url.URL, error)
	RespondWithToken(ctx context.Context, header, codeString string, granted bool) (*url.URL, error)
}

type Handler struct {
	responder Responder
	withToken bool
}

// NewHandler records the user's answer to a code, authenticating the user by email and password.
func NewHandler(responder Responder) http.Handler {
	return &Handler{
		responder: responder,
	}
}

// NewTokenHandler records the user's answer to a code, authenticating the user by an account token.
func NewTokenHandler(responder Responder) http.Handler {
	return &Handler{
		responder: responder,
		withToken: true,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	params, err := handlerutils.Params(r)
	if err != nil {
		handlerutils.Error(w, r, err)
		return
	}

	codeString := params.Get("code")
	if codeString == "" {
		handlerutils.Error(w, r, apierrors.InvalidArgument("The code is missing."))
		return
	}

	rawGranted := params.Get("granted")
	if rawGranted == "" {
		handlerutils.Error(w, r, apierrors.InvalidArgument("The granted parameter is missing."))
		return
	}
	granted, err := strconv.ParseBool(rawGranted)
	if err != nil {
		handlerutils.Error(w, r, apierrors.InvalidArgument("The granted parameter must be true or false."))
		return
	}

	var target *url.URL
	if h.withToken {
		target, err = h.responder.RespondWithToken(r.Context(), r.Header.Get("Authorization"), codeString, granted)
	} else {
		target, err = h.responder.Respond(r.Context(), params.Get("email"), params.Get("password"), codeString, granted)
	}
	if err != nil {
		handlerutils.Error(w, r, err)
		return
	}

	http.Redirect(w, r, target.String(), http.StatusFound)
}
