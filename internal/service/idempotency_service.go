package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"lti-booking/internal/domain/booking"
	interfaces "lti-booking/internal/interfaces/infrastructure"
	"lti-booking/pkg/logger"
)

const (
	DefaultIdempotencyTTL = 24 * time.Hour
)

// ErrIdempotencyKeyReused is returned when a key comes back with a different payload.
var ErrIdempotencyKeyReused = errors.New("idempotency key already used with different request data")

type IdempotencyService struct {
	idempotencyRepo interfaces.IdempotencyRepository
	ttl             time.Duration
}

func NewIdempotencyService(idempotencyRepo interfaces.IdempotencyRepository) *IdempotencyService {
	return &IdempotencyService{
		idempotencyRepo: idempotencyRepo,
		ttl:             DefaultIdempotencyTTL,
	}
}

// CheckDuplicateRequest returns the stored response when key was already
// processed for the same user and payload.
func (s *IdempotencyService) CheckDuplicateRequest(ctx context.Context, key string, userID string, requestData any) (*booking.IdempotencyKey, bool, error) {
	if key == "" {
		return nil, false, nil
	}

	existingKey, err := s.idempotencyRepo.GetByKey(ctx, key)
	if err != nil {
		logger.Error("Failed to check idempotency key: %v", err)
		return nil, false, fmt.Errorf("failed to check idempotency key: %w", err)
	}
	if existingKey == nil {
		return nil, false, nil
	}

	if existingKey.IsExpired() {
		if err := s.idempotencyRepo.Delete(ctx, key); err != nil {
			logger.Warn("Failed to delete expired idempotency key %s: %v", key, err)
		}
		return nil, false, nil
	}

	if existingKey.RequestHash != s.generateRequestHash(userID, requestData) {
		logger.Warn("Idempotency key %s used with different request data", key)
		return nil, false, ErrIdempotencyKeyReused
	}

	logger.Info("Duplicate request detected for idempotency key: %s", key)
	return existingKey, true, nil
}

func (s *IdempotencyService) StoreProcessedRequest(ctx context.Context, key string, userID string, requestData any, responseData any, statusCode int) error {
	if key == "" {
		return nil
	}

	responseJSON, err := json.Marshal(responseData)
	if err != nil {
		logger.Error("Failed to marshal response data for idempotency key %s: %v", key, err)
		return fmt.Errorf("failed to marshal response data: %w", err)
	}

	now := time.Now()
	idempotencyKey := &booking.IdempotencyKey{
		Key:          key,
		UserID:       userID,
		RequestHash:  s.generateRequestHash(userID, requestData),
		ResponseData: string(responseJSON),
		StatusCode:   statusCode,
		ProcessedAt:  now,
		ExpiresAt:    now.Add(s.ttl),
		CreatedAt:    now,
	}

	if err := s.idempotencyRepo.Create(ctx, idempotencyKey); err != nil {
		if errors.Is(err, booking.ErrDuplicate) {
			// a concurrent request with the same key stored first
			return nil
		}
		logger.Error("Failed to store idempotency key %s: %v", key, err)
		return fmt.Errorf("failed to store idempotency key: %w", err)
	}

	logger.Debug("Stored idempotency key: %s", key)
	return nil
}

func (s *IdempotencyService) CleanupExpiredKeys(ctx context.Context) error {
	if err := s.idempotencyRepo.DeleteExpired(ctx); err != nil {
		logger.Error("Failed to cleanup expired idempotency keys: %v", err)
		return fmt.Errorf("failed to cleanup expired keys: %w", err)
	}
	return nil
}

func (s *IdempotencyService) generateRequestHash(userID string, requestData any) string {
	data := map[string]any{
		"user_id":      userID,
		"request_data": requestData,
	}

	jsonData, _ := json.Marshal(data)
	hash := sha256.Sum256(jsonData)
	return hex.EncodeToString(hash[:])
}
