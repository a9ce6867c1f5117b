package codes

import (
	"context"
	"net/http"

	"github.com/ohmage/ohmage-oauth/pkg/handlerutils"
	"github.com/ohmage/ohmage-oauth/pkg/oauth/validate"
	"github.com/ohmage/ohmage-oauth/pkg/types"
)

type CodeStore interface {
	ListCodes(ctx context.Context, userID string) ([]types.AuthorizationCode, error)
	GetCode(ctx context.Context, userID, codeString string) (*types.AuthorizationCode, error)
	InvalidateCode(ctx context.Context, userID, codeString string) error
}

type Handler struct {
	db CodeStore
}

func NewHandler(db CodeStore) *Handler {
	return &Handler{
		db: db,
	}
}

// List returns the codes the authenticated user has responded to.
func (p *Handler) List(w http.ResponseWriter, r *http.Request) {
	codes, err := p.db.ListCodes(r.Context(), validate.GetUserID(r))
	if err != nil {
		handlerutils.Error(w, r, err)
		return
	}
	if codes == nil {
		codes = []types.AuthorizationCode{}
	}
	handlerutils.JSON(w, http.StatusOK, codes)
}

// Get returns a single code. Anonymous callers may only see codes nobody has answered.
func (p *Handler) Get(w http.ResponseWriter, r *http.Request) {
	code, err := p.db.GetCode(r.Context(), validate.GetUserID(r), r.PathValue("code"))
	if err != nil {
		handlerutils.Error(w, r, err)
		return
	}
	handlerutils.JSON(w, http.StatusOK, code)
}

// Invalidate revokes the authenticated user's response to a code.
func (p *Handler) Invalidate(w http.ResponseWriter, r *http.Request) {
	if err := p.db.InvalidateCode(r.Context(), validate.GetUserID(r), r.PathValue("code")); err != nil {
		handlerutils.Error(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}
