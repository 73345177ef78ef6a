package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"lti-booking/internal/domain/booking"
	"lti-booking/internal/infrastructure/lms"
	interfaces "lti-booking/internal/interfaces/infrastructure"
	"lti-booking/pkg/logger"

	"golang.org/x/sync/singleflight"
)

// refreshWindow is how long a completed refresh answers later 401s for the
// same owner without another round trip.
const refreshWindow = 5 * time.Second

// TokenService hands out stored LMS tokens and refreshes them through the
// OAuth client. Concurrent refreshes for one owner share a single call;
// different owners never wait on each other.
type TokenService struct {
	repo     interfaces.TokenRepository
	oauth    interfaces.OAuthClient
	clock    func() time.Time
	inflight singleflight.Group

	mu     sync.Mutex
	recent map[string]time.Time
}

func NewTokenService(repo interfaces.TokenRepository, oauth interfaces.OAuthClient) *TokenService {
	return &TokenService{
		repo:   repo,
		oauth:  oauth,
		clock:  func() time.Time { return time.Now().UTC() },
		recent: make(map[string]time.Time),
	}
}

func (s *TokenService) Token(ctx context.Context, owner interfaces.TokenOwner) (string, error) {
	token, err := s.repo.Get(ctx, owner.UserID, owner.Domain)
	if err != nil {
		return "", fmt.Errorf("failed to load token: %w", err)
	}
	if token == nil {
		return "", lms.ErrReauthenticationRequired
	}
	if token.Expired(s.clock()) {
		return s.Refresh(ctx, owner)
	}
	return token.AccessToken, nil
}

// Refresh exchanges the owner's refresh token. The shared call outlives a
// cancelled caller so the other waiters still get its result.
func (s *TokenService) Refresh(ctx context.Context, owner interfaces.TokenOwner) (string, error) {
	key := owner.UserID + "@" + owner.Domain
	ch := s.inflight.DoChan(key, func() (interface{}, error) {
		return s.refresh(context.WithoutCancel(ctx), owner, key)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return "", r.Err
		}
		return r.Val.(string), nil
	}
}

func (s *TokenService) refresh(ctx context.Context, owner interfaces.TokenOwner, key string) (string, error) {
	token, err := s.repo.Get(ctx, owner.UserID, owner.Domain)
	if err != nil {
		return "", fmt.Errorf("failed to load token: %w", err)
	}
	if token == nil || token.RefreshToken == "" {
		return "", lms.ErrReauthenticationRequired
	}

	now := s.clock()
	// another request refreshed this token a moment ago
	if s.refreshedSince(key, now.Add(-refreshWindow)) && !token.Expired(now) {
		return token.AccessToken, nil
	}

	fresh, err := s.oauth.RefreshToken(ctx, token.RefreshToken)
	if err != nil {
		logger.Warn("Token refresh failed for user %s on %s: %v", owner.UserID, owner.Domain, err)
		return "", err
	}

	token.AccessToken = fresh.AccessToken
	if fresh.RefreshToken != "" {
		token.RefreshToken = fresh.RefreshToken
	}
	token.ExpiresAt = nil
	if fresh.ExpiresIn > 0 {
		exp := now.Add(time.Duration(fresh.ExpiresIn) * time.Second)
		token.ExpiresAt = &exp
	}
	token.UpdatedAt = now

	if err := s.repo.Upsert(ctx, token); err != nil {
		return "", fmt.Errorf("failed to store refreshed token: %w", err)
	}

	s.mu.Lock()
	s.recent[key] = now
	s.mu.Unlock()

	logger.Debug("Refreshed LMS token for user %s on %s", owner.UserID, owner.Domain)
	return token.AccessToken, nil
}

func (s *TokenService) refreshedSince(key string, since time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.recent[key]
	return ok && at.After(since)
}

// PruneRecent forgets refreshes older than the reuse window and returns how
// many were dropped.
func (s *TokenService) PruneRecent() int {
	cutoff := s.clock().Add(-refreshWindow)

	s.mu.Lock()
	defer s.mu.Unlock()
	pruned := 0
	for key, at := range s.recent {
		if !at.After(cutoff) {
			delete(s.recent, key)
			pruned++
		}
	}
	return pruned
}

// Store saves the token obtained at launch.
func (s *TokenService) Store(ctx context.Context, token *booking.CachedToken) error {
	token.UpdatedAt = s.clock()
	return s.repo.Upsert(ctx, token)
}

var _ interfaces.TokenSource = (*TokenService)(nil)
