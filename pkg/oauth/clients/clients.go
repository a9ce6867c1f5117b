package clients

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/ohmage/ohmage-oauth/pkg/handlerutils"
	"github.com/ohmage/ohmage-oauth/pkg/oauth/validate"
	"github.com/ohmage/ohmage-oauth/pkg/types"
)

// SecretHeader carries the client secret in the registration response. It is never returned again.
const SecretHeader = "Shared-Secret"

const maxBodySize = 1024 * 1024

type ClientStore interface {
	CreateClient(ctx context.Context, owner, name, description, redirectURI string) (*types.OAuthClient, error)
	GetClient(ctx context.Context, clientID string) (*types.OAuthClient, error)
	ListClients(ctx context.Context, owner string) ([]types.OAuthClient, error)
}

type Registration struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	RedirectURI string `json:"redirect_uri"`
}

type Handler struct {
	db ClientStore
}

func NewHandler(db ClientStore) *Handler {
	return &Handler{
		db: db,
	}
}

// Create registers a client owned by the authenticated user.
func (p *Handler) Create(w http.ResponseWriter, r *http.Request) {
	// Check content length (max 1MB)
	if r.ContentLength > maxBodySize {
		handlerutils.JSON(w, http.StatusRequestEntityTooLarge, types.OAuthError{
			Error:            "invalid_request",
			ErrorDescription: "Request payload too large, must be under 1 MiB",
		})
		return
	}

	var reg Registration
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&reg); err != nil {
		handlerutils.JSON(w, http.StatusBadRequest, types.OAuthError{
			Error:            "invalid_request",
			ErrorDescription: "Invalid JSON payload",
		})
		return
	}

	client, err := p.db.CreateClient(r.Context(), validate.GetUserID(r), reg.Name, reg.Description, reg.RedirectURI)
	if err != nil {
		handlerutils.Error(w, r, err)
		return
	}

	w.Header().Set(SecretHeader, client.Secret)
	w.Header().Set("Cache-Control", "no-store")
	handlerutils.JSON(w, http.StatusCreated, client)
}

// List returns the clients owned by the authenticated user.
func (p *Handler) List(w http.ResponseWriter, r *http.Request) {
	clients, err := p.db.ListClients(r.Context(), validate.GetUserID(r))
	if err != nil {
		handlerutils.Error(w, r, err)
		return
	}
	if clients == nil {
		clients = []types.OAuthClient{}
	}
	handlerutils.JSON(w, http.StatusOK, clients)
}

// Get returns the public description of a client.
func (p *Handler) Get(w http.ResponseWriter, r *http.Request) {
	client, err := p.db.GetClient(r.Context(), r.PathValue("id"))
	if err != nil {
		handlerutils.Error(w, r, err)
		return
	}
	handlerutils.JSON(w, http.StatusOK, client)
}
