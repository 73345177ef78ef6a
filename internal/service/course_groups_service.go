package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"lti-booking/internal/domain/booking"
	"lti-booking/internal/infrastructure/cache"
	interfaces "lti-booking/internal/interfaces/infrastructure"
	serviceInterfaces "lti-booking/internal/interfaces/service"
)

const GroupCacheName = "course_groups"

type groupCacheKey struct {
	lmsCourseID      string
	tokenFingerprint string
}

// CourseGroupsService resolves the actor's LMS groups. Answers are cached per
// course and access token, so a refreshed token starts a fresh entry.
type CourseGroupsService struct {
	gateway interfaces.LMSGateway
	tokens  interfaces.TokenSource
	cache   *cache.TTLMap[groupCacheKey, []booking.Group]
}

func NewCourseGroupsService(gateway interfaces.LMSGateway, tokens interfaces.TokenSource, ttl time.Duration, size int, metrics interfaces.CacheMetrics) *CourseGroupsService {
	return &CourseGroupsService{
		gateway: gateway,
		tokens:  tokens,
		cache:   cache.NewTTLMap[groupCacheKey, []booking.Group](GroupCacheName, ttl, size, metrics),
	}
}

func (s *CourseGroupsService) GroupsFor(ctx context.Context, actor booking.Actor) ([]booking.Group, error) {
	if actor.LMSCourseID == "" {
		return nil, nil
	}

	owner := interfaces.TokenOwner{UserID: actor.UserID, Domain: actor.Domain}
	token, err := s.tokens.Token(ctx, owner)
	if err != nil {
		return nil, err
	}

	key := groupCacheKey{lmsCourseID: actor.LMSCourseID, tokenFingerprint: fingerprint(token)}
	if groups, ok := s.cache.Get(key); ok {
		return groups, nil
	}

	groups, err := s.gateway.OwnGroups(ctx, owner, actor.LMSCourseID)
	if err != nil {
		return nil, fmt.Errorf("failed to load groups of course %s: %w", actor.LMSCourseID, err)
	}
	s.cache.Set(key, groups)
	return groups, nil
}

// Sweep drops expired cache entries.
func (s *CourseGroupsService) Sweep() int {
	return s.cache.Sweep()
}

func (s *CourseGroupsService) CacheSize() int {
	return s.cache.Len()
}

func fingerprint(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:8])
}

var _ serviceInterfaces.GroupResolver = (*CourseGroupsService)(nil)
