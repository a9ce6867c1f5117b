package authtoken

import (
	"context"
	"net/http"
	"time"

	"github.com/ohmage/ohmage-oauth/pkg/handlerutils"
	"github.com/ohmage/ohmage-oauth/pkg/types"
)

type Store interface {
	Login(ctx context.Context, email, password string) (*types.AuthorizationToken, error)
	Invalidate(ctx context.Context, header string) error
}

// Handler issues account tokens on POST and invalidates the presented token on DELETE.
type Handler struct {
	db  Store
	now func() time.Time
}

func NewHandler(db Store) http.Handler {
	return &Handler{
		db:  db,
		now: time.Now,
	}
}

func (p *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		p.login(w, r)
	case http.MethodDelete:
		p.invalidate(w, r)
	default:
		handlerutils.JSON(w, http.StatusMethodNotAllowed, types.OAuthError{
			Error:            "invalid_request",
			ErrorDescription: "Method not allowed",
		})
	}
}

func (p *Handler) login(w http.ResponseWriter, r *http.Request) {
	// Parse form data
	if err := r.ParseForm(); err != nil {
		handlerutils.JSON(w, http.StatusBadRequest, types.OAuthError{
			Error:            "invalid_request",
			ErrorDescription: "Invalid request body",
		})
		return
	}

	token, err := p.db.Login(r.Context(), r.PostForm.Get("email"), r.PostForm.Get("password"))
	if err != nil {
		handlerutils.Error(w, r, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	handlerutils.JSON(w, http.StatusOK, token.Response(p.now()))
}

func (p *Handler) invalidate(w http.ResponseWriter, r *http.Request) {
	if err := p.db.Invalidate(r.Context(), r.Header.Get("Authorization")); err != nil {
		handlerutils.Error(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}
