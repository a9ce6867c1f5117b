package flow

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ohmage/ohmage-oauth/pkg/apierrors"
	"github.com/ohmage/ohmage-oauth/pkg/db"
	"github.com/ohmage/ohmage-oauth/pkg/registry"
	"github.com/ohmage/ohmage-oauth/pkg/scope"
	"github.com/ohmage/ohmage-oauth/pkg/types"
	"github.com/ohmage/ohmage-oauth/pkg/users"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	defaultRedirect = "https://cb.example/r"
	stepsScope      = "omh:ohmage:stream:steps"
	password        = "correct horse"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	svc    *Service
	store  *db.Store
	clock  *clock
	client *types.OAuthClient
	alice  *types.User
	bob    *types.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	store, err := db.New(filepath.Join(t.TempDir(), "flow.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.Close()
	})

	reg, err := registry.NewStatic([]string{"steps"}, []string{"known-id"})
	require.NoError(t, err)

	c := &clock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	auth := users.NewAuthenticator(store).WithCost(bcrypt.MinCost)

	svc := NewService(Deps{
		Clients: store,
		Codes:   store,
		Tokens:  store,
		Users:   auth,
		Scopes:  scope.NewValidator(reg),
	}, Options{
		CodeTTL:      5 * time.Minute,
		TokenTTL:     30 * time.Minute,
		RequireHTTPS: true,
		Logger:       zap.NewNop(),
		Now:          c.Now,
	})

	alice, err := auth.Create(ctx, "alice@example.com", password, c.Now())
	require.NoError(t, err)
	bob, err := auth.Create(ctx, "bob@example.com", password, c.Now())
	require.NoError(t, err)

	client, err := svc.CreateClient(ctx, alice.ID, "Step Tracker", "", defaultRedirect)
	require.NoError(t, err)

	return &fixture{svc: svc, store: store, clock: c, client: client, alice: alice, bob: bob}
}

// grantedCode runs authorize and respond, returning a code granted by alice.
func (f *fixture) grantedCode(t *testing.T) *types.AuthorizationCode {
	t.Helper()
	ctx := context.Background()
	code, err := f.svc.Authorize(ctx, f.client.ID, stepsScope, "", "xyz")
	require.NoError(t, err)
	_, err = f.svc.Respond(ctx, f.alice.Email, password, code.Code, true)
	require.NoError(t, err)
	return code
}

func assertKind(t *testing.T, err error, kind apierrors.Kind) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, kind, apierrors.KindOf(err), "unexpected error: %v", err)
}

func TestEndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	k1, err := f.svc.Authorize(ctx, f.client.ID, stepsScope, "", "")
	require.NoError(t, err)
	assert.Equal(t, defaultRedirect, k1.RedirectURI)
	assert.Equal(t, f.clock.Now().Add(5*time.Minute), k1.ExpiresAt)

	_, err = f.svc.Respond(ctx, f.alice.Email, password, k1.Code, true)
	require.NoError(t, err)

	t1, err := f.svc.ExchangeCodeForToken(ctx, f.client.ID, f.client.Secret, k1.Code, "")
	require.NoError(t, err)
	assert.Equal(t, f.alice.ID, t1.Owner)

	t2, err := f.svc.Refresh(ctx, f.client.ID, f.client.Secret, t1.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, t1.AccessToken, t2.AccessToken)
	assert.Nil(t, t2.AuthorizationCode)
	require.NotNil(t, t2.OriginCode)
	assert.Equal(t, k1.Code, *t2.OriginCode)

	again, err := f.svc.Refresh(ctx, f.client.ID, f.client.Secret, t1.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, t2.AccessToken, again.AccessToken)
	assert.Equal(t, t2.RefreshToken, again.RefreshToken)

	t3, err := f.svc.Refresh(ctx, f.client.ID, f.client.Secret, t2.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, t2.AccessToken, t3.AccessToken)

	_, err = f.svc.Refresh(ctx, f.client.ID, f.client.Secret, t1.RefreshToken)
	assertKind(t, err, apierrors.KindInvalidArgument)

	again, err = f.svc.Refresh(ctx, f.client.ID, f.client.Secret, t2.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, t3.AccessToken, again.AccessToken)

	_, err = f.svc.ExchangeCodeForToken(ctx, f.client.ID, f.client.Secret, k1.Code, "")
	assertKind(t, err, apierrors.KindInvalidArgument)
}

func TestAuthorize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("UnknownClient", func(t *testing.T) {
		_, err := f.svc.Authorize(ctx, "missing", stepsScope, "", "")
		assertKind(t, err, apierrors.KindAuthentication)
	})

	t.Run("MissingClient", func(t *testing.T) {
		_, err := f.svc.Authorize(ctx, "", stepsScope, "", "")
		assertKind(t, err, apierrors.KindAuthentication)
	})

	t.Run("UnknownStream", func(t *testing.T) {
		_, err := f.svc.Authorize(ctx, f.client.ID, "omh:ohmage:stream:unknown-stream-id", "", "")
		assertKind(t, err, apierrors.KindInvalidArgument)
		assert.Contains(t, err.Error(), "unknown-stream-id")
	})

	t.Run("MalformedScope", func(t *testing.T) {
		_, err := f.svc.Authorize(ctx, f.client.ID, "steps", "", "")
		assertKind(t, err, apierrors.KindInvalidArgument)
	})

	t.Run("MissingScope", func(t *testing.T) {
		_, err := f.svc.Authorize(ctx, f.client.ID, "", "", "")
		assertKind(t, err, apierrors.KindInvalidArgument)
	})

	t.Run("KnownSurvey", func(t *testing.T) {
		code, err := f.svc.Authorize(ctx, f.client.ID, "omh:ohmage:survey:known-id "+stepsScope, "", "")
		require.NoError(t, err)
		assert.Len(t, code.Scopes, 2)
	})

	t.Run("SubPathRedirect", func(t *testing.T) {
		code, err := f.svc.Authorize(ctx, f.client.ID, stepsScope, defaultRedirect+"/extra/./deeper/..", "s")
		require.NoError(t, err)
		assert.Equal(t, defaultRedirect+"/extra/", code.RedirectURI)
		assert.Equal(t, "s", code.State)
	})

	t.Run("RedirectOutsideDefault", func(t *testing.T) {
		_, err := f.svc.Authorize(ctx, f.client.ID, stepsScope, "https://cb.example/other", "")
		assertKind(t, err, apierrors.KindInvalidArgument)
	})

	t.Run("RedirectWithFragment", func(t *testing.T) {
		_, err := f.svc.Authorize(ctx, f.client.ID, stepsScope, defaultRedirect+"#frag", "")
		assertKind(t, err, apierrors.KindInvalidArgument)
	})

	t.Run("Persisted", func(t *testing.T) {
		code, err := f.svc.Authorize(ctx, f.client.ID, stepsScope, "", "")
		require.NoError(t, err)
		stored, err := f.store.GetCode(ctx, code.Code)
		require.NoError(t, err)
		assert.Equal(t, f.client.ID, stored.OAuthClientID)
		assert.Nil(t, stored.Response())
	})
}

func TestRespond(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	code, err := f.svc.Authorize(ctx, f.client.ID, stepsScope, "", "xyz")
	require.NoError(t, err)

	target, err := f.svc.Respond(ctx, f.alice.Email, password, code.Code, true)
	require.NoError(t, err)
	assert.Equal(t, "cb.example", target.Host)
	assert.Equal(t, "/r", target.Path)
	assert.Equal(t, code.Code, target.Query().Get("code"))
	assert.Equal(t, "xyz", target.Query().Get("state"))

	t.Run("SameAnswerIsNoOp", func(t *testing.T) {
		replay, err := f.svc.Respond(ctx, f.alice.Email, password, code.Code, true)
		require.NoError(t, err)
		assert.Equal(t, target.String(), replay.String())
	})

	t.Run("DifferentAnswerIsRejected", func(t *testing.T) {
		_, err := f.svc.Respond(ctx, f.alice.Email, password, code.Code, false)
		assertKind(t, err, apierrors.KindInvalidArgument)
	})

	t.Run("OtherUserIsRejected", func(t *testing.T) {
		_, err := f.svc.Respond(ctx, f.bob.Email, password, code.Code, true)
		assertKind(t, err, apierrors.KindInvalidArgument)
		_, err = f.svc.Respond(ctx, f.bob.Email, password, code.Code, false)
		assertKind(t, err, apierrors.KindInvalidArgument)
	})

	t.Run("ResponseIsUnchanged", func(t *testing.T) {
		stored, err := f.store.GetCode(ctx, code.Code)
		require.NoError(t, err)
		require.NotNil(t, stored.Response())
		assert.Equal(t, f.alice.ID, stored.Response().UserID)
		assert.True(t, stored.Response().Granted)
		assert.NotNil(t, stored.UsedAt)
	})

	t.Run("WrongPassword", func(t *testing.T) {
		_, err := f.svc.Respond(ctx, f.alice.Email, "wrong password", code.Code, true)
		assertKind(t, err, apierrors.KindAuthentication)
	})

	t.Run("UnknownCode", func(t *testing.T) {
		_, err := f.svc.Respond(ctx, f.alice.Email, password, "missing", true)
		assertKind(t, err, apierrors.KindInvalidArgument)
	})

	t.Run("Expired", func(t *testing.T) {
		fresh, err := f.svc.Authorize(ctx, f.client.ID, stepsScope, "", "")
		require.NoError(t, err)
		f.clock.Advance(5 * time.Minute)
		defer f.clock.Advance(-5 * time.Minute)
		_, err = f.svc.Respond(ctx, f.alice.Email, password, fresh.Code, true)
		assertKind(t, err, apierrors.KindInvalidArgument)
	})

	t.Run("WithToken", func(t *testing.T) {
		fresh, err := f.svc.Authorize(ctx, f.client.ID, stepsScope, "", "")
		require.NoError(t, err)
		login, err := f.svc.Login(ctx, f.bob.Email, password)
		require.NoError(t, err)

		_, err = f.svc.RespondWithToken(ctx, "ohmage "+login.AccessToken, fresh.Code, false)
		require.NoError(t, err)

		stored, err := f.store.GetCode(ctx, fresh.Code)
		require.NoError(t, err)
		assert.Equal(t, f.bob.ID, stored.Response().UserID)
		assert.False(t, stored.Response().Granted)
	})
}

func TestExchangeCodeForToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("Idempotent", func(t *testing.T) {
		code := f.grantedCode(t)
		first, err := f.svc.ExchangeCodeForToken(ctx, f.client.ID, f.client.Secret, code.Code, "")
		require.NoError(t, err)
		second, err := f.svc.ExchangeCodeForToken(ctx, f.client.ID, f.client.Secret, code.Code, defaultRedirect)
		require.NoError(t, err)
		assert.Equal(t, first.AccessToken, second.AccessToken)
		assert.Equal(t, first.RefreshToken, second.RefreshToken)
		require.NotNil(t, first.AuthorizationCode)
		assert.Equal(t, code.Code, *first.AuthorizationCode)
	})

	t.Run("WrongSecret", func(t *testing.T) {
		code := f.grantedCode(t)
		_, err := f.svc.ExchangeCodeForToken(ctx, f.client.ID, "wrong", code.Code, "")
		assertKind(t, err, apierrors.KindAuthentication)
		_, err = f.svc.ExchangeCodeForToken(ctx, "missing", f.client.Secret, code.Code, "")
		assertKind(t, err, apierrors.KindAuthentication)
	})

	t.Run("OtherClient", func(t *testing.T) {
		other, err := f.svc.CreateClient(ctx, f.bob.ID, "Other", "", "https://other.example/cb")
		require.NoError(t, err)
		code := f.grantedCode(t)
		_, err = f.svc.ExchangeCodeForToken(ctx, other.ID, other.Secret, code.Code, "")
		assertKind(t, err, apierrors.KindInvalidArgument)
	})

	t.Run("UnknownCode", func(t *testing.T) {
		_, err := f.svc.ExchangeCodeForToken(ctx, f.client.ID, f.client.Secret, "missing", "")
		assertKind(t, err, apierrors.KindInvalidArgument)
	})

	t.Run("ExpiredAfterGrant", func(t *testing.T) {
		code := f.grantedCode(t)
		f.clock.Advance(5 * time.Minute)
		defer f.clock.Advance(-5 * time.Minute)
		_, err := f.svc.ExchangeCodeForToken(ctx, f.client.ID, f.client.Secret, code.Code, "")
		assertKind(t, err, apierrors.KindInvalidArgument)
	})

	t.Run("NotResponded", func(t *testing.T) {
		code, err := f.svc.Authorize(ctx, f.client.ID, stepsScope, "", "")
		require.NoError(t, err)
		_, err = f.svc.ExchangeCodeForToken(ctx, f.client.ID, f.client.Secret, code.Code, "")
		assertKind(t, err, apierrors.KindInvalidArgument)
	})

	t.Run("Declined", func(t *testing.T) {
		code, err := f.svc.Authorize(ctx, f.client.ID, stepsScope, "", "")
		require.NoError(t, err)
		_, err = f.svc.Respond(ctx, f.alice.Email, password, code.Code, false)
		require.NoError(t, err)
		_, err = f.svc.ExchangeCodeForToken(ctx, f.client.ID, f.client.Secret, code.Code, "")
		assertKind(t, err, apierrors.KindInvalidArgument)
	})

	t.Run("RedirectConsistency", func(t *testing.T) {
		code, err := f.svc.Authorize(ctx, f.client.ID, stepsScope, defaultRedirect+"/sub", "")
		require.NoError(t, err)
		_, err = f.svc.Respond(ctx, f.alice.Email, password, code.Code, true)
		require.NoError(t, err)

		_, err = f.svc.ExchangeCodeForToken(ctx, f.client.ID, f.client.Secret, code.Code, "")
		assertKind(t, err, apierrors.KindInvalidArgument)

		_, err = f.svc.ExchangeCodeForToken(ctx, f.client.ID, f.client.Secret, code.Code, defaultRedirect)
		assertKind(t, err, apierrors.KindInvalidArgument)

		_, err = f.svc.ExchangeCodeForToken(ctx, f.client.ID, f.client.Secret, code.Code, defaultRedirect+"/sub")
		require.NoError(t, err)
	})

	t.Run("Concurrent", func(t *testing.T) {
		code := f.grantedCode(t)
		const workers = 8
		results := make([]*types.AuthorizationToken, workers)
		errs := make([]error, workers)
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i], errs[i] = f.svc.ExchangeCodeForToken(ctx, f.client.ID, f.client.Secret, code.Code, "")
			}(i)
		}
		wg.Wait()

		for i := 0; i < workers; i++ {
			require.NoError(t, errs[i])
			assert.Equal(t, results[0].AccessToken, results[i].AccessToken)
		}
	})
}

func TestRefresh(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	code := f.grantedCode(t)
	token, err := f.svc.ExchangeCodeForToken(ctx, f.client.ID, f.client.Secret, code.Code, "")
	require.NoError(t, err)

	t.Run("UnknownRefreshToken", func(t *testing.T) {
		_, err := f.svc.Refresh(ctx, f.client.ID, f.client.Secret, "missing")
		assertKind(t, err, apierrors.KindInvalidArgument)
	})

	t.Run("WrongSecret", func(t *testing.T) {
		_, err := f.svc.Refresh(ctx, f.client.ID, "wrong", token.RefreshToken)
		assertKind(t, err, apierrors.KindAuthentication)
	})

	t.Run("OtherClient", func(t *testing.T) {
		other, err := f.svc.CreateClient(ctx, f.bob.ID, "Other", "", "https://other.example/cb")
		require.NoError(t, err)
		_, err = f.svc.Refresh(ctx, other.ID, other.Secret, token.RefreshToken)
		assertKind(t, err, apierrors.KindInvalidArgument)
	})

	t.Run("AccountToken", func(t *testing.T) {
		login, err := f.svc.Login(ctx, f.alice.Email, password)
		require.NoError(t, err)
		_, err = f.svc.Refresh(ctx, f.client.ID, f.client.Secret, login.RefreshToken)
		assertKind(t, err, apierrors.KindInvalidArgument)
	})

	t.Run("Concurrent", func(t *testing.T) {
		fresh := f.grantedCode(t)
		head, err := f.svc.ExchangeCodeForToken(ctx, f.client.ID, f.client.Secret, fresh.Code, "")
		require.NoError(t, err)

		const workers = 8
		results := make([]*types.AuthorizationToken, workers)
		errs := make([]error, workers)
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i], errs[i] = f.svc.Refresh(ctx, f.client.ID, f.client.Secret, head.RefreshToken)
			}(i)
		}
		wg.Wait()

		for i := 0; i < workers; i++ {
			require.NoError(t, errs[i])
			assert.Equal(t, results[0].AccessToken, results[i].AccessToken)
		}

		stored, err := f.store.GetToken(ctx, head.AccessToken)
		require.NoError(t, err)
		require.NotNil(t, stored.NextToken)
		assert.Equal(t, results[0].AccessToken, *stored.NextToken)

		live, err := f.store.GetToken(ctx, results[0].AccessToken)
		require.NoError(t, err)
		assert.True(t, live.IsValid(f.clock.Now()))
	})
}

func TestInvalidate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	code := f.grantedCode(t)
	token, err := f.svc.ExchangeCodeForToken(ctx, f.client.ID, f.client.Secret, code.Code, "")
	require.NoError(t, err)

	assertKind(t, f.svc.Invalidate(ctx, ""), apierrors.KindAuthentication)
	assertKind(t, f.svc.Invalidate(ctx, "Basic abc"), apierrors.KindAuthentication)
	assert.NoError(t, f.svc.Invalidate(ctx, "ohmage unknown-token"))

	require.NoError(t, f.svc.Invalidate(ctx, "Bearer "+token.AccessToken))
	require.NoError(t, f.svc.Invalidate(ctx, "Bearer "+token.AccessToken), "invalidation is idempotent")

	stored, err := f.store.GetToken(ctx, token.AccessToken)
	require.NoError(t, err)
	require.NotNil(t, stored.InvalidationTimestamp)
	assert.True(t, stored.InvalidationTimestamp.Equal(f.clock.Now()))

	_, err = f.svc.Refresh(ctx, f.client.ID, f.client.Secret, token.RefreshToken)
	assertKind(t, err, apierrors.KindInvalidArgument)

	_, err = f.svc.ExchangeCodeForToken(ctx, f.client.ID, f.client.Secret, code.Code, "")
	assertKind(t, err, apierrors.KindInvalidArgument)
}

func TestLoginAndResolveToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	login, err := f.svc.Login(ctx, f.alice.Email, password)
	require.NoError(t, err)
	assert.Nil(t, login.AuthorizationCode)
	assert.Nil(t, login.OriginCode)

	resolved, err := f.svc.ResolveToken(ctx, "ohmage "+login.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, f.alice.ID, resolved.Owner)

	_, err = f.svc.Login(ctx, f.alice.Email, "wrong password")
	assertKind(t, err, apierrors.KindAuthentication)

	_, err = f.svc.ResolveToken(ctx, "ohmage missing")
	assertKind(t, err, apierrors.KindAuthentication)

	code := f.grantedCode(t)
	oauthToken, err := f.svc.ExchangeCodeForToken(ctx, f.client.ID, f.client.Secret, code.Code, "")
	require.NoError(t, err)
	_, err = f.svc.ResolveToken(ctx, "Bearer "+oauthToken.AccessToken)
	assertKind(t, err, apierrors.KindInsufficientPermissions)

	f.clock.Advance(30 * time.Minute)
	_, err = f.svc.ResolveToken(ctx, "ohmage "+login.AccessToken)
	assertKind(t, err, apierrors.KindAuthentication)
	f.clock.Advance(-30 * time.Minute)

	require.NoError(t, f.svc.Invalidate(ctx, "ohmage "+login.AccessToken))
	_, err = f.svc.ResolveToken(ctx, "ohmage "+login.AccessToken)
	assertKind(t, err, apierrors.KindAuthentication)
}

func TestClients(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateClient(ctx, f.alice.ID, "Plain", "", "http://cb.example/r")
	assertKind(t, err, apierrors.KindInvalidArgument)

	_, err = f.svc.CreateClient(ctx, f.alice.ID, "", "", defaultRedirect)
	assertKind(t, err, apierrors.KindInvalidArgument)

	_, err = f.svc.CreateClient(ctx, f.alice.ID, "Relative", "", "/cb")
	assertKind(t, err, apierrors.KindInvalidArgument)

	second, err := f.svc.CreateClient(ctx, f.alice.ID, "Second", "desc", "https://two.example/cb")
	require.NoError(t, err)
	assert.NotEmpty(t, second.Secret)
	assert.NotEqual(t, f.client.Secret, second.Secret)

	clients, err := f.svc.ListClients(ctx, f.alice.ID)
	require.NoError(t, err)
	assert.Len(t, clients, 2)

	clients, err = f.svc.ListClients(ctx, f.bob.ID)
	require.NoError(t, err)
	assert.Empty(t, clients)

	got, err := f.svc.GetClient(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, "desc", got.Description)

	_, err = f.svc.GetClient(ctx, "missing")
	assertKind(t, err, apierrors.KindUnknownEntity)
}

func TestCodes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pending, err := f.svc.Authorize(ctx, f.client.ID, stepsScope, "", "")
	require.NoError(t, err)

	t.Run("PendingCodeIsPublic", func(t *testing.T) {
		code, err := f.svc.GetCode(ctx, "", pending.Code)
		require.NoError(t, err)
		assert.Equal(t, pending.Code, code.Code)
	})

	t.Run("Unknown", func(t *testing.T) {
		_, err := f.svc.GetCode(ctx, f.alice.ID, "missing")
		assertKind(t, err, apierrors.KindUnknownEntity)
		assertKind(t, f.svc.InvalidateCode(ctx, f.alice.ID, "missing"), apierrors.KindUnknownEntity)
	})

	code := f.grantedCode(t)

	t.Run("RespondedCodeIsPrivate", func(t *testing.T) {
		_, err := f.svc.GetCode(ctx, "", code.Code)
		assertKind(t, err, apierrors.KindAuthentication)
		_, err = f.svc.GetCode(ctx, f.bob.ID, code.Code)
		assertKind(t, err, apierrors.KindInsufficientPermissions)
		got, err := f.svc.GetCode(ctx, f.alice.ID, code.Code)
		require.NoError(t, err)
		assert.Equal(t, code.Code, got.Code)
	})

	t.Run("List", func(t *testing.T) {
		codes, err := f.svc.ListCodes(ctx, f.alice.ID)
		require.NoError(t, err)
		require.Len(t, codes, 1)
		assert.Equal(t, code.Code, codes[0].Code)
	})

	t.Run("InvalidateCascades", func(t *testing.T) {
		t1, err := f.svc.ExchangeCodeForToken(ctx, f.client.ID, f.client.Secret, code.Code, "")
		require.NoError(t, err)
		t2, err := f.svc.Refresh(ctx, f.client.ID, f.client.Secret, t1.RefreshToken)
		require.NoError(t, err)

		assertKind(t, f.svc.InvalidateCode(ctx, f.bob.ID, code.Code), apierrors.KindInsufficientPermissions)
		assertKind(t, f.svc.InvalidateCode(ctx, f.alice.ID, pending.Code), apierrors.KindInsufficientPermissions)

		require.NoError(t, f.svc.InvalidateCode(ctx, f.alice.ID, code.Code))
		require.NoError(t, f.svc.InvalidateCode(ctx, f.alice.ID, code.Code), "invalidation is idempotent")

		stored, err := f.store.GetCode(ctx, code.Code)
		require.NoError(t, err)
		require.NotNil(t, stored.Response().InvalidationTimestamp)

		live, err := f.store.GetToken(ctx, t2.AccessToken)
		require.NoError(t, err)
		assert.True(t, live.WasInvalidated(f.clock.Now()))

		head, err := f.store.GetToken(ctx, t1.AccessToken)
		require.NoError(t, err)
		assert.Nil(t, head.InvalidationTimestamp, "refreshed tokens are left as they were")

		_, err = f.svc.Refresh(ctx, f.client.ID, f.client.Secret, t2.RefreshToken)
		assertKind(t, err, apierrors.KindInvalidArgument)
		_, err = f.svc.ExchangeCodeForToken(ctx, f.client.ID, f.client.Secret, code.Code, "")
		assertKind(t, err, apierrors.KindInvalidArgument)
	})
}

type failingTokens struct {
	*db.Store
}

func (failingTokens) GetTokenByAuthorizationCode(context.Context, string) (*types.AuthorizationToken, error) {
	return nil, errors.New("connection reset")
}

func TestStoreFailureIsInternal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	code := f.grantedCode(t)

	f.svc.tokens = failingTokens{f.store}
	_, err := f.svc.ExchangeCodeForToken(ctx, f.client.ID, f.client.Secret, code.Code, "")
	assertKind(t, err, apierrors.KindInternal)
	assert.Equal(t, "The server encountered an internal error.", apierrors.Description(err))
}
