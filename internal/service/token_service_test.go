package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"lti-booking/internal/domain/booking"
	"lti-booking/internal/infrastructure/lms"
	"lti-booking/internal/infrastructure/repository"
	interfaces "lti-booking/internal/interfaces/infrastructure"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingOAuth struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (o *countingOAuth) RefreshToken(ctx context.Context, refreshToken string) (*interfaces.OAuthToken, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	if o.err != nil {
		return nil, o.err
	}
	return &interfaces.OAuthToken{AccessToken: "fresh-access", ExpiresIn: 3600}, nil
}

var tokenOwner = interfaces.TokenOwner{UserID: "u1", Domain: "lms.example.edu"}

func storeToken(t *testing.T, svc *TokenService, expiresAt time.Time) {
	t.Helper()
	require.NoError(t, svc.Store(context.Background(), &booking.CachedToken{
		UserID:       tokenOwner.UserID,
		Domain:       tokenOwner.Domain,
		AccessToken:  "stored-access",
		RefreshToken: "stored-refresh",
		ExpiresAt:    &expiresAt,
	}))
}

func TestTokenService_ValidTokenIsReturned(t *testing.T) {
	oauth := &countingOAuth{}
	svc := NewTokenService(repository.NewMemoryStore().Tokens(), oauth)
	storeToken(t, svc, time.Now().Add(time.Hour))

	token, err := svc.Token(context.Background(), tokenOwner)
	require.NoError(t, err)
	assert.Equal(t, "stored-access", token)
	assert.Zero(t, oauth.calls)
}

func TestTokenService_ExpiredTokenIsRefreshed(t *testing.T) {
	oauth := &countingOAuth{}
	tokens := repository.NewMemoryStore().Tokens()
	svc := NewTokenService(tokens, oauth)
	storeToken(t, svc, time.Now().Add(-time.Minute))

	token, err := svc.Token(context.Background(), tokenOwner)
	require.NoError(t, err)
	assert.Equal(t, "fresh-access", token)

	stored, err := tokens.Get(context.Background(), tokenOwner.UserID, tokenOwner.Domain)
	require.NoError(t, err)
	assert.Equal(t, "fresh-access", stored.AccessToken)
	assert.Equal(t, "stored-refresh", stored.RefreshToken)
	assert.False(t, stored.Expired(time.Now()))
}

func TestTokenService_ConcurrentRefreshHitsOAuthOnce(t *testing.T) {
	oauth := &countingOAuth{}
	svc := NewTokenService(repository.NewMemoryStore().Tokens(), oauth)
	storeToken(t, svc, time.Now().Add(time.Hour))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			token, err := svc.Refresh(context.Background(), tokenOwner)
			assert.NoError(t, err)
			assert.Equal(t, "fresh-access", token)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, oauth.calls)
}

func TestTokenService_MissingToken(t *testing.T) {
	svc := NewTokenService(repository.NewMemoryStore().Tokens(), &countingOAuth{})

	_, err := svc.Token(context.Background(), tokenOwner)
	assert.ErrorIs(t, err, lms.ErrReauthenticationRequired)

	_, err = svc.Refresh(context.Background(), tokenOwner)
	assert.ErrorIs(t, err, lms.ErrReauthenticationRequired)
}

func TestTokenService_RefreshRejected(t *testing.T) {
	oauth := &countingOAuth{err: lms.ErrReauthenticationRequired}
	svc := NewTokenService(repository.NewMemoryStore().Tokens(), oauth)
	storeToken(t, svc, time.Now().Add(-time.Minute))

	_, err := svc.Token(context.Background(), tokenOwner)
	assert.ErrorIs(t, err, lms.ErrReauthenticationRequired)
}

// gatedOAuth holds refreshes of one refresh token until release is closed.
type gatedOAuth struct {
	slowToken string
	started   chan struct{}
	release   chan struct{}
}

func (o *gatedOAuth) RefreshToken(ctx context.Context, refreshToken string) (*interfaces.OAuthToken, error) {
	if refreshToken == o.slowToken {
		close(o.started)
		<-o.release
	}
	return &interfaces.OAuthToken{AccessToken: "fresh-" + refreshToken, ExpiresIn: 3600}, nil
}

func TestTokenService_SlowRefreshDoesNotBlockOtherOwners(t *testing.T) {
	oauth := &gatedOAuth{slowToken: "refresh-a", started: make(chan struct{}), release: make(chan struct{})}
	svc := NewTokenService(repository.NewMemoryStore().Tokens(), oauth)
	for _, id := range []string{"a", "b"} {
		require.NoError(t, svc.Store(context.Background(), &booking.CachedToken{
			UserID: id, Domain: "lms.example.edu", AccessToken: "old", RefreshToken: "refresh-" + id,
		}))
	}

	slow := make(chan string, 1)
	go func() {
		token, _ := svc.Refresh(context.Background(), interfaces.TokenOwner{UserID: "a", Domain: "lms.example.edu"})
		slow <- token
	}()
	<-oauth.started

	token, err := svc.Refresh(context.Background(), interfaces.TokenOwner{UserID: "b", Domain: "lms.example.edu"})
	require.NoError(t, err)
	assert.Equal(t, "fresh-refresh-b", token)

	close(oauth.release)
	assert.Equal(t, "fresh-refresh-a", <-slow)
}

func TestTokenService_WaiterHonoursItsContext(t *testing.T) {
	oauth := &gatedOAuth{slowToken: "refresh-a", started: make(chan struct{}), release: make(chan struct{})}
	svc := NewTokenService(repository.NewMemoryStore().Tokens(), oauth)
	owner := interfaces.TokenOwner{UserID: "a", Domain: "lms.example.edu"}
	require.NoError(t, svc.Store(context.Background(), &booking.CachedToken{
		UserID: "a", Domain: "lms.example.edu", AccessToken: "old", RefreshToken: "refresh-a",
	}))

	go func() { _, _ = svc.Refresh(context.Background(), owner) }()
	<-oauth.started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := svc.Refresh(ctx, owner)
	assert.ErrorIs(t, err, context.Canceled)

	close(oauth.release)
}

func TestTokenService_PruneRecent(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	svc := NewTokenService(repository.NewMemoryStore().Tokens(), &countingOAuth{})
	svc.clock = func() time.Time { return now }
	storeToken(t, svc, now.Add(-time.Minute))

	_, err := svc.Refresh(context.Background(), tokenOwner)
	require.NoError(t, err)
	assert.Zero(t, svc.PruneRecent(), "a fresh refresh is kept")

	now = now.Add(refreshWindow + time.Second)
	assert.Equal(t, 1, svc.PruneRecent())
	assert.Empty(t, svc.recent)
}
