package flow

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/ohmage/ohmage-oauth/pkg/apierrors"
	"github.com/ohmage/ohmage-oauth/pkg/redirect"
	"github.com/ohmage/ohmage-oauth/pkg/tokens"
	"github.com/ohmage/ohmage-oauth/pkg/types"
	"go.uber.org/zap"
)

// CreateClient registers a new OAuth client owned by owner. The returned client carries its secret.
func (s *Service) CreateClient(ctx context.Context, owner, name, description, redirectURI string) (*types.OAuthClient, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apierrors.InvalidArgument("The OAuth client name is missing.")
	}
	if redirectURI == "" {
		return nil, apierrors.InvalidArgument("The redirect URI is missing.")
	}

	parsed, err := redirect.Parse(redirectURI)
	if err != nil {
		return nil, apierrors.InvalidArgument("%v", err)
	}
	if s.requireHTTPS && parsed.Scheme != "https" {
		return nil, apierrors.InvalidArgument("The redirect URI must use HTTPS.")
	}

	client := &types.OAuthClient{
		ID:          uuid.NewString(),
		Secret:      tokens.NewSecret(),
		Owner:       owner,
		Name:        name,
		Description: strings.TrimSpace(description),
		RedirectURI: parsed.String(),
		CreatedAt:   s.now(),
	}
	if err := s.clients.CreateClient(ctx, client); err != nil {
		return nil, apierrors.Internal(err, "failed to store client")
	}

	s.logger.Info("Registered OAuth client",
		zap.String("client_id", client.ID),
		zap.String("owner", hashID(owner)))

	return client, nil
}

// GetClient returns a registered client.
func (s *Service) GetClient(ctx context.Context, clientID string) (*types.OAuthClient, error) {
	client, err := s.clients.GetClient(ctx, clientID)
	if errors.Is(err, types.ErrNotFound) {
		return nil, apierrors.UnknownEntity("The client is unknown.")
	} else if err != nil {
		return nil, apierrors.Internal(err, "failed to get client")
	}
	return client, nil
}

// ListClients returns the clients owner registered.
func (s *Service) ListClients(ctx context.Context, owner string) ([]types.OAuthClient, error) {
	clients, err := s.clients.ListClientsByOwner(ctx, owner)
	if err != nil {
		return nil, apierrors.Internal(err, "failed to list clients")
	}
	return clients, nil
}
