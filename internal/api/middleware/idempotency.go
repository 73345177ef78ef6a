package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"lti-booking/internal/service"
	"lti-booking/pkg/logger"

	"github.com/gin-gonic/gin"
)

const IdempotencyHeader = "Idempotency-Key"

// responseRecorder keeps a copy of the body written by the handler.
type responseRecorder struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *responseRecorder) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// IdempotencyMiddleware replays the stored response when a request comes back
// with an Idempotency-Key already processed for the same user and body.
// Requests without the header pass through untouched. Must run after Session.
func IdempotencyMiddleware(idempotency *service.IdempotencyService) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(IdempotencyHeader)
		c.Set("idempotency_key", key)
		if key == "" || c.Request.Method != http.MethodPost {
			c.Next()
			return
		}

		actor, _ := CurrentActor(c)

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"success": false, "message": "Unreadable request body"})
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))
		payload := c.Request.URL.Path + "\n" + string(body)

		stored, duplicate, err := idempotency.CheckDuplicateRequest(c.Request.Context(), key, actor.UserID, payload)
		if err != nil {
			if errors.Is(err, service.ErrIdempotencyKeyReused) {
				c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"success": false, "message": err.Error()})
				return
			}
			// the store is down; process the request without replay protection
			logger.Warn("Idempotency check failed for key %s: %v", key, err)
			c.Next()
			return
		}
		if duplicate {
			c.Header("Idempotent-Replayed", "true")
			c.Data(stored.StatusCode, "application/json; charset=utf-8", []byte(stored.ResponseData))
			c.Abort()
			return
		}

		recorder := &responseRecorder{ResponseWriter: c.Writer}
		c.Writer = recorder
		c.Next()

		status := recorder.Status()
		if status >= http.StatusInternalServerError || recorder.body.Len() == 0 {
			return
		}
		response := json.RawMessage(recorder.body.Bytes())
		if err := idempotency.StoreProcessedRequest(c.Request.Context(), key, actor.UserID, payload, response, status); err != nil {
			logger.Warn("Failed to store idempotent response for key %s: %v", key, err)
		}
	}
}
