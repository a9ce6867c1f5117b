package types

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by stores when the requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned by stores when an insert collides with a unique key.
	ErrConflict = errors.New("record already exists")
)

// Config holds all configuration values for the authorization server
type Config struct {
	Host         string
	Port         string
	DatabaseDSN  string
	CodeTTL      time.Duration
	TokenTTL     time.Duration
	RequireHTTPS bool
	Streams      []string
	Surveys      []string
	RedisURL     string
	RateLimit    float64
	RateBurst    int
}

// OAuthClient is a registered third-party application
type OAuthClient struct {
	ID          string    `gorm:"column:id;primaryKey" json:"id"`
	Secret      string    `gorm:"column:secret;not null" json:"-"`
	Owner       string    `gorm:"column:owner;not null;index" json:"owner"`
	Name        string    `gorm:"column:name;not null" json:"name"`
	Description string    `gorm:"column:description" json:"description,omitempty"`
	RedirectURI string    `gorm:"column:redirect_uri;not null" json:"redirect_uri"`
	CreatedAt   time.Time `gorm:"column:created_at;not null" json:"creation_timestamp"`
}

func (OAuthClient) TableName() string {
	return "oauth_clients"
}

// AuthorizationCodeResponse is a user's verdict on an authorization code
type AuthorizationCodeResponse struct {
	UserID                string     `json:"user_id"`
	Granted               bool       `json:"granted"`
	CreatedAt             time.Time  `json:"creation_timestamp"`
	InvalidationTimestamp *time.Time `json:"invalidation_timestamp,omitempty"`
}

// AuthorizationCode is a short-lived request for delegated access.
// The response columns are flattened so the store can set them with a single conditional update.
type AuthorizationCode struct {
	Code          string     `gorm:"column:code;primaryKey"`
	OAuthClientID string     `gorm:"column:oauth_client_id;not null;index"`
	Scopes        Scopes     `gorm:"column:scopes;type:text;not null"`
	RedirectURI   string     `gorm:"column:redirect_uri;not null"`
	State         string     `gorm:"column:state"`
	CreatedAt     time.Time  `gorm:"column:created_at;not null"`
	ExpiresAt     time.Time  `gorm:"column:expires_at;not null"`
	UsedAt        *time.Time `gorm:"column:used_at"`

	ResponseUserID        *string    `gorm:"column:response_user_id;index"`
	ResponseGranted       *bool      `gorm:"column:response_granted"`
	ResponseCreatedAt     *time.Time `gorm:"column:response_created_at"`
	ResponseInvalidatedAt *time.Time `gorm:"column:response_invalidated_at"`
}

func (AuthorizationCode) TableName() string {
	return "authorization_codes"
}

// Response returns the user's verdict, or nil if nobody has responded yet.
func (c *AuthorizationCode) Response() *AuthorizationCodeResponse {
	if c.ResponseUserID == nil {
		return nil
	}
	resp := &AuthorizationCodeResponse{
		UserID:                *c.ResponseUserID,
		InvalidationTimestamp: c.ResponseInvalidatedAt,
	}
	if c.ResponseGranted != nil {
		resp.Granted = *c.ResponseGranted
	}
	if c.ResponseCreatedAt != nil {
		resp.CreatedAt = *c.ResponseCreatedAt
	}
	return resp
}

// WithResponse returns a copy of c carrying resp, used at now.
func (c AuthorizationCode) WithResponse(resp AuthorizationCodeResponse, now time.Time) AuthorizationCode {
	userID := resp.UserID
	granted := resp.Granted
	createdAt := resp.CreatedAt
	c.ResponseUserID = &userID
	c.ResponseGranted = &granted
	c.ResponseCreatedAt = &createdAt
	c.ResponseInvalidatedAt = resp.InvalidationTimestamp
	c.UsedAt = &now
	return c
}

// IsExpired reports whether the code can no longer be used at now.
func (c *AuthorizationCode) IsExpired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

type authorizationCodeJSON struct {
	Code          string                     `json:"code"`
	OAuthClientID string                     `json:"client_id"`
	Scopes        Scopes                     `json:"scopes"`
	RedirectURI   string                     `json:"redirect_uri"`
	State         string                     `json:"state,omitempty"`
	CreatedAt     time.Time                  `json:"creation_timestamp"`
	ExpiresAt     time.Time                  `json:"expiration_timestamp"`
	UsedAt        *time.Time                 `json:"used_timestamp,omitempty"`
	Response      *AuthorizationCodeResponse `json:"response,omitempty"`
}

func (c AuthorizationCode) MarshalJSON() ([]byte, error) {
	return json.Marshal(authorizationCodeJSON{
		Code:          c.Code,
		OAuthClientID: c.OAuthClientID,
		Scopes:        c.Scopes,
		RedirectURI:   c.RedirectURI,
		State:         c.State,
		CreatedAt:     c.CreatedAt,
		ExpiresAt:     c.ExpiresAt,
		UsedAt:        c.UsedAt,
		Response:      c.Response(),
	})
}

// AuthorizationToken is an issued access/refresh token pair.
//
// AuthorizationCode is only set on the token created directly from a code. OriginCode is copied to every
// token refreshed from it, so each link of a chain still knows which client it belongs to.
type AuthorizationToken struct {
	AccessToken           string     `gorm:"column:access_token;primaryKey"`
	RefreshToken          string     `gorm:"column:refresh_token;not null;uniqueIndex"`
	Owner                 string     `gorm:"column:owner;not null;index"`
	AuthorizationCode     *string    `gorm:"column:authorization_code;uniqueIndex"`
	OriginCode            *string    `gorm:"column:origin_code;index"`
	NextToken             *string    `gorm:"column:next_token"`
	CreatedAt             time.Time  `gorm:"column:created_at;not null"`
	ExpiresAt             time.Time  `gorm:"column:expires_at;not null"`
	InvalidationTimestamp *time.Time `gorm:"column:invalidation_timestamp"`
}

func (AuthorizationToken) TableName() string {
	return "authorization_tokens"
}

// WasRefreshed reports whether a successor has been issued for this token.
func (t *AuthorizationToken) WasRefreshed() bool {
	return t.NextToken != nil
}

// WasInvalidated reports whether the token was invalidated at or before now.
func (t *AuthorizationToken) WasInvalidated(now time.Time) bool {
	return t.InvalidationTimestamp != nil && !t.InvalidationTimestamp.After(now)
}

// IsValid reports whether the token is the live end of its chain.
func (t *AuthorizationToken) IsValid(now time.Time) bool {
	return !t.WasRefreshed() && !t.WasInvalidated(now)
}

// IsExpired reports whether the access token lifetime has passed.
func (t *AuthorizationToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// WithNextToken returns a copy of t pointing at its successor.
func (t AuthorizationToken) WithNextToken(next string) AuthorizationToken {
	t.NextToken = &next
	return t
}

// Response renders the token for the token endpoints. expires_in counts down from now.
func (t *AuthorizationToken) Response(now time.Time) TokenResponse {
	expiresIn := int64(t.ExpiresAt.Sub(now).Seconds())
	if expiresIn < 0 {
		expiresIn = 0
	}
	return TokenResponse{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    expiresIn,
		UserID:       t.Owner,
	}
}

// User is an account that can respond to authorization codes
type User struct {
	ID           string    `gorm:"column:id;primaryKey" json:"id"`
	Email        string    `gorm:"column:email;not null;uniqueIndex" json:"email"`
	PasswordHash string    `gorm:"column:password_hash;not null" json:"-"`
	CreatedAt    time.Time `gorm:"column:created_at;not null" json:"creation_timestamp"`
}

func (User) TableName() string {
	return "users"
}

// TokenResponse represents the OAuth token response
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	UserID       string `json:"user_id"`
}

// OAuthError represents an OAuth error response
type OAuthError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// OAuthMetadata represents RFC 8414 authorization server metadata
type OAuthMetadata struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`
	ServiceDocumentation              string   `json:"service_documentation,omitempty"`
}
