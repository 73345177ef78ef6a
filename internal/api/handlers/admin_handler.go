package handlers

import (
	"net/http"

	"lti-booking/internal/infrastructure/cache"

	"github.com/gin-gonic/gin"
)

// CacheSizer reports the number of live entries in an in-process cache.
type CacheSizer interface {
	CacheSize() int
}

type AdminHandler struct {
	metrics *cache.CounterMetrics
	sizes   map[string]CacheSizer
}

func NewAdminHandler(metrics *cache.CounterMetrics, sizes map[string]CacheSizer) *AdminHandler {
	return &AdminHandler{metrics: metrics, sizes: sizes}
}

// CacheStats handles GET /api/v1/admin/cache/stats
func (h *AdminHandler) CacheStats(c *gin.Context) {
	entries := make(map[string]int, len(h.sizes))
	for name, s := range h.sizes {
		entries[name] = s.CacheSize()
	}

	c.JSON(http.StatusOK, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"caches":  h.metrics.Snapshot(),
			"entries": entries,
		},
	})
}
