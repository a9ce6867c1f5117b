package db

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ohmage/ohmage-oauth/pkg/types"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Store represents the database connection and operations
type Store struct {
	db     *gorm.DB
	dbType string // "postgres" or "sqlite"
}

// New creates a new database connection and sets up the schema
func New(dsn string) (*Store, error) {
	var gormDB *gorm.DB
	var dbType string
	var err error

	gormConfig := &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	}

	// If DSN is empty, use SQLite with local file
	if dsn == "" {
		dataDir := "data"
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}

		sqlitePath := filepath.Join(dataDir, "ohmage_oauth.db")
		gormDB, err = gorm.Open(sqlite.Open(sqlitePath), gormConfig)
		dbType = "sqlite"
	} else {
		if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
			gormDB, err = gorm.Open(postgres.Open(dsn), gormConfig)
			dbType = "postgres"
		} else {
			// Assume SQLite file path
			gormDB, err = gorm.Open(sqlite.Open(dsn), gormConfig)
			dbType = "sqlite"
		}
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if dbType == "sqlite" {
		// SQLite allows a single writer; serialize access instead of surfacing "database is locked".
		sqlDB, err := gormDB.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get database handle: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	database := &Store{db: gormDB, dbType: dbType}

	if err := database.setupSchema(); err != nil {
		return nil, fmt.Errorf("failed to setup schema: %w", err)
	}

	return database, nil
}

// setupSchema creates the necessary tables and handles migrations
func (d *Store) setupSchema() error {
	err := d.db.AutoMigrate(
		&types.User{},
		&types.OAuthClient{},
		&types.AuthorizationCode{},
		&types.AuthorizationToken{},
	)
	if err != nil {
		return fmt.Errorf("failed to auto-migrate database schema: %w", err)
	}

	return nil
}

// translate maps gorm errors onto the store errors callers check for.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return types.ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %v", types.ErrConflict, err)
	default:
		return err
	}
}

// CreateUser stores a new user
func (d *Store) CreateUser(ctx context.Context, user *types.User) error {
	return translate(d.db.WithContext(ctx).Create(user).Error)
}

// GetUser retrieves a user by ID
func (d *Store) GetUser(ctx context.Context, id string) (*types.User, error) {
	var user types.User
	if err := d.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

// GetUserByEmail retrieves a user by email address
func (d *Store) GetUserByEmail(ctx context.Context, email string) (*types.User, error) {
	var user types.User
	if err := d.db.WithContext(ctx).First(&user, "email = ?", email).Error; err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

// CreateClient stores a new client
func (d *Store) CreateClient(ctx context.Context, client *types.OAuthClient) error {
	return translate(d.db.WithContext(ctx).Create(client).Error)
}

// GetClient retrieves a client by ID
func (d *Store) GetClient(ctx context.Context, clientID string) (*types.OAuthClient, error) {
	var client types.OAuthClient
	if err := d.db.WithContext(ctx).First(&client, "id = ?", clientID).Error; err != nil {
		return nil, translate(err)
	}
	return &client, nil
}

// ListClientsByOwner returns the clients registered by owner, oldest first
func (d *Store) ListClientsByOwner(ctx context.Context, owner string) ([]types.OAuthClient, error) {
	var clients []types.OAuthClient
	err := d.db.WithContext(ctx).Where("owner = ?", owner).Order("created_at, id").Find(&clients).Error
	return clients, translate(err)
}

// CreateCode stores a new authorization code
func (d *Store) CreateCode(ctx context.Context, code *types.AuthorizationCode) error {
	return translate(d.db.WithContext(ctx).Create(code).Error)
}

// GetCode retrieves an authorization code
func (d *Store) GetCode(ctx context.Context, code string) (*types.AuthorizationCode, error) {
	var authCode types.AuthorizationCode
	if err := d.db.WithContext(ctx).First(&authCode, "code = ?", code).Error; err != nil {
		return nil, translate(err)
	}
	return &authCode, nil
}

// SetCodeResponse records the response carried by updated, but only if the stored code has none yet.
// It reports whether this call recorded it.
func (d *Store) SetCodeResponse(ctx context.Context, updated *types.AuthorizationCode) (bool, error) {
	result := d.db.WithContext(ctx).Model(&types.AuthorizationCode{}).
		Where("code = ? AND response_user_id IS NULL", updated.Code).
		Select("used_at", "response_user_id", "response_granted", "response_created_at", "response_invalidated_at").
		Updates(updated)
	if result.Error != nil {
		return false, translate(result.Error)
	}
	return result.RowsAffected == 1, nil
}

// InvalidateCodeResponse stamps the response of code as invalidated at the given time, if userID responded
// to it and it is not invalidated yet. It reports whether this call invalidated it.
func (d *Store) InvalidateCodeResponse(ctx context.Context, code, userID string, at time.Time) (bool, error) {
	result := d.db.WithContext(ctx).Model(&types.AuthorizationCode{}).
		Where("code = ? AND response_user_id = ? AND response_invalidated_at IS NULL", code, userID).
		Update("response_invalidated_at", at)
	if result.Error != nil {
		return false, translate(result.Error)
	}
	return result.RowsAffected == 1, nil
}

// ListCodesByResponder returns the codes userID responded to, newest first
func (d *Store) ListCodesByResponder(ctx context.Context, userID string) ([]types.AuthorizationCode, error) {
	var codes []types.AuthorizationCode
	err := d.db.WithContext(ctx).Where("response_user_id = ?", userID).Order("created_at DESC, code").Find(&codes).Error
	return codes, translate(err)
}

// CleanupExpiredCodes deletes codes that expired before the given time without anyone responding to them.
// Answered codes are kept because tokens refer to them.
func (d *Store) CleanupExpiredCodes(ctx context.Context, before time.Time) (int64, error) {
	result := d.db.WithContext(ctx).
		Where("expires_at < ? AND response_user_id IS NULL", before).
		Delete(&types.AuthorizationCode{})
	return result.RowsAffected, translate(result.Error)
}

// CreateToken stores a new token. A second token for the same authorization code fails with types.ErrConflict.
func (d *Store) CreateToken(ctx context.Context, token *types.AuthorizationToken) error {
	return translate(d.db.WithContext(ctx).Create(token).Error)
}

// GetToken retrieves a token by access token
func (d *Store) GetToken(ctx context.Context, accessToken string) (*types.AuthorizationToken, error) {
	return d.getToken(ctx, "access_token = ?", accessToken)
}

// GetTokenByRefreshToken retrieves a token by refresh token
func (d *Store) GetTokenByRefreshToken(ctx context.Context, refreshToken string) (*types.AuthorizationToken, error) {
	return d.getToken(ctx, "refresh_token = ?", refreshToken)
}

// GetTokenByAuthorizationCode retrieves the token created directly from code
func (d *Store) GetTokenByAuthorizationCode(ctx context.Context, code string) (*types.AuthorizationToken, error) {
	return d.getToken(ctx, "authorization_code = ?", code)
}

func (d *Store) getToken(ctx context.Context, query string, arg string) (*types.AuthorizationToken, error) {
	var token types.AuthorizationToken
	if err := d.db.WithContext(ctx).First(&token, query, arg).Error; err != nil {
		return nil, translate(err)
	}
	return &token, nil
}

// SetNextToken links updated to its successor, but only if it has none yet.
// It reports whether this call set the link.
func (d *Store) SetNextToken(ctx context.Context, updated *types.AuthorizationToken) (bool, error) {
	if updated.NextToken == nil {
		return false, errors.New("next token is not set")
	}
	result := d.db.WithContext(ctx).Model(&types.AuthorizationToken{}).
		Where("access_token = ? AND next_token IS NULL", updated.AccessToken).
		Update("next_token", *updated.NextToken)
	if result.Error != nil {
		return false, translate(result.Error)
	}
	return result.RowsAffected == 1, nil
}

// InvalidateToken stamps a token as invalidated at the given time, if it is not invalidated yet.
// It reports whether this call invalidated it.
func (d *Store) InvalidateToken(ctx context.Context, accessToken string, at time.Time) (bool, error) {
	result := d.db.WithContext(ctx).Model(&types.AuthorizationToken{}).
		Where("access_token = ? AND invalidation_timestamp IS NULL", accessToken).
		Update("invalidation_timestamp", at)
	if result.Error != nil {
		return false, translate(result.Error)
	}
	return result.RowsAffected == 1, nil
}

// ListTokensByOriginCode returns every token of the chain descended from code
func (d *Store) ListTokensByOriginCode(ctx context.Context, code string) ([]types.AuthorizationToken, error) {
	var tokens []types.AuthorizationToken
	err := d.db.WithContext(ctx).Where("origin_code = ?", code).Order("created_at").Find(&tokens).Error
	return tokens, translate(err)
}

// Ping checks that the database is reachable
func (d *Store) Ping(ctx context.Context) error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the database connection
func (d *Store) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
