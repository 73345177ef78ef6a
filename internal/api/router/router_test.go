package router

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"lti-booking/internal/config"
	"lti-booking/internal/domain/booking"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type testServer struct {
	t      *testing.T
	stack  *Stack
	router http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	cfg := &config.Config{
		App:          config.AppConfig{Version: "test"},
		Database:     config.DatabaseConfig{Driver: "memory"},
		Cache:        config.CacheConfig{Type: "none", SlotViewTTL: 30},
		LMS:          config.LMSConfig{BaseURL: "http://lms.invalid", Timeout: 1, GroupCacheTTL: 60, GroupCacheSize: 10},
		Notification: config.NotificationConfig{Mode: "inline", TemplateDir: t.TempDir(), JobTimeout: 1},
		Session:      config.SessionConfig{Secret: "test-secret", Issuer: "lti-booking", TTL: 10},
	}

	stack, err := BuildStack(cfg)
	require.NoError(t, err)
	t.Cleanup(stack.Close)

	return &testServer{t: t, stack: stack, router: NewRouter(stack)}
}

func (s *testServer) token(userID string, roles booking.Roles, lmsCourseID string) string {
	s.t.Helper()
	tok, _, err := s.stack.Signer.Issue(booking.Actor{
		UserID:      userID,
		Name:        "User " + userID,
		Roles:       roles,
		LMSCourseID: lmsCourseID,
		Domain:      "lms.example.edu",
	})
	require.NoError(s.t, err)
	return tok
}

func (s *testServer) do(method, path, token string, body interface{}, headers ...string) (*httptest.ResponseRecorder, envelope) {
	s.t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(s.t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 {
		_ = json.Unmarshal(w.Body.Bytes(), &env)
	}
	return w, env
}

// seed creates a course with one slot through the admin API.
func (s *testServer) seed(lmsCourseID string, resMax int) (courseID, slotID string) {
	s.t.Helper()
	admin := s.token("instructor", booking.RoleInstructor, lmsCourseID)

	w, env := s.do(http.MethodPost, "/api/v1/admin/courses", admin, map[string]interface{}{
		"lms_course_id":             lmsCourseID,
		"name":                      "Networks",
		"capacity_type":             "individual",
		"max_per_type":              1,
		"cancellation_policy_hours": 1,
	})
	require.Equal(s.t, http.StatusCreated, w.Code, w.Body.String())
	var course booking.Course
	require.NoError(s.t, json.Unmarshal(env.Data, &course))

	w, env = s.do(http.MethodPost, fmt.Sprintf("/api/v1/admin/courses/%s/slots", course.ID), admin, map[string]interface{}{
		"first_start":      time.Now().Add(72 * time.Hour).UTC().Format(time.RFC3339),
		"duration_minutes": 30,
		"count":            1,
		"res_max":          resMax,
	})
	require.Equal(s.t, http.StatusCreated, w.Code, w.Body.String())
	var created struct {
		Slots []booking.Slot `json:"slots"`
	}
	require.NoError(s.t, json.Unmarshal(env.Data, &created))
	require.Len(s.t, created.Slots, 1)

	return course.ID.String(), created.Slots[0].ID.String()
}

func TestHealthEndpoints(t *testing.T) {
	s := newTestServer(t)

	w, _ := s.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = s.do(http.MethodGet, "/live", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSessionRequired(t *testing.T) {
	s := newTestServer(t)

	w, _ := s.do(http.MethodGet, "/api/v1/courses", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = s.do(http.MethodGet, "/api/v1/courses", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAdminRequiresManager(t *testing.T) {
	s := newTestServer(t)
	learner := s.token("u1", booking.RoleLearner, "501")

	w, _ := s.do(http.MethodPost, "/api/v1/admin/courses", learner, map[string]interface{}{"name": "x"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestBookingFlow(t *testing.T) {
	s := newTestServer(t)
	courseID, slotID := s.seed("502", 1)

	first := s.token("u1", booking.RoleLearner, "502")
	second := s.token("u2", booking.RoleLearner, "502")

	w, env := s.do(http.MethodGet, "/api/v1/courses/"+courseID+"/slots", first, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), `"availability":"1 place left"`)

	w, env = s.do(http.MethodPost, "/api/v1/reservations", first, map[string]string{"slot_id": slotID})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.True(t, env.Success)
	var result struct {
		ReservationID string `json:"reservation_id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &result))

	w, env = s.do(http.MethodPost, "/api/v1/reservations", second, map[string]string{"slot_id": slotID})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.False(t, env.Success)
	assert.Contains(t, string(env.Data), string(booking.SlotFull))

	w, env = s.do(http.MethodGet, "/api/v1/reservations/mine", first, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), `"is_cancelable":true`)

	w, _ = s.do(http.MethodPost, "/api/v1/reservations/"+result.ReservationID+"/cancel", second, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w, env = s.do(http.MethodPost, "/api/v1/reservations/"+result.ReservationID+"/cancel", first, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, env.Success)

	w, _ = s.do(http.MethodPost, "/api/v1/reservations/"+result.ReservationID+"/cancel", first, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCreateReservationValidation(t *testing.T) {
	s := newTestServer(t)
	learner := s.token("u1", booking.RoleLearner, "503")

	w, env := s.do(http.MethodPost, "/api/v1/reservations", learner, map[string]string{"message": "hi"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Validation failed", env.Message)

	w, _ = s.do(http.MethodPost, "/api/v1/reservations", learner, map[string]string{"slot_id": "00000000-0000-0000-0000-000000000001"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = s.do(http.MethodPost, "/api/v1/reservations/not-a-uuid/cancel", learner, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateReservationIdempotent(t *testing.T) {
	s := newTestServer(t)
	_, slotID := s.seed("504", 3)
	learner := s.token("u1", booking.RoleLearner, "504")
	body := map[string]string{"slot_id": slotID}

	w1, env1 := s.do(http.MethodPost, "/api/v1/reservations", learner, body, "Idempotency-Key", "abc-1")
	require.Equal(t, http.StatusCreated, w1.Code)

	w2, env2 := s.do(http.MethodPost, "/api/v1/reservations", learner, body, "Idempotency-Key", "abc-1")
	assert.Equal(t, http.StatusCreated, w2.Code)
	assert.Equal(t, "true", w2.Header().Get("Idempotent-Replayed"))
	assert.JSONEq(t, string(env1.Data), string(env2.Data))

	w3, _ := s.do(http.MethodPost, "/api/v1/reservations", learner, map[string]string{"slot_id": slotID, "message": "changed"}, "Idempotency-Key", "abc-1")
	assert.Equal(t, http.StatusUnprocessableEntity, w3.Code)

	// without the key the same body is a second booking attempt
	w4, env4 := s.do(http.MethodPost, "/api/v1/reservations", learner, body)
	assert.Equal(t, http.StatusConflict, w4.Code)
	assert.Contains(t, string(env4.Data), string(booking.AlreadyReservedThisSlot))
}

func TestSlotMessagesForManager(t *testing.T) {
	s := newTestServer(t)
	courseID, slotID := s.seed("505", 2)
	instructor := s.token("instructor", booking.RoleInstructor, "505")

	w, _ := s.do(http.MethodPost, "/api/v1/reservations", s.token("u1", booking.RoleLearner, "505"), map[string]string{"slot_id": slotID})
	require.Equal(t, http.StatusCreated, w.Code)

	w, env := s.do(http.MethodGet, "/api/v1/admin/slots/"+slotID+"/reservations", instructor, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), `"user_id":"u1"`)

	w, _ = s.do(http.MethodDelete, "/api/v1/admin/slots/"+slotID, instructor, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w, _ = s.do(http.MethodGet, "/api/v1/courses/"+courseID+"/slots", instructor, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w, env = s.do(http.MethodGet, "/api/v1/admin/cache/stats", instructor, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), "slot_views")
}

func TestAdminRoutesStayInCourse(t *testing.T) {
	s := newTestServer(t)
	courseID, slotID := s.seed("506", 2)
	outsider := s.token("instructor2", booking.RoleInstructor, "507")

	w, _ := s.do(http.MethodGet, "/api/v1/admin/slots/"+slotID+"/reservations", outsider, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = s.do(http.MethodDelete, "/api/v1/admin/slots/"+slotID, outsider, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = s.do(http.MethodPost, "/api/v1/admin/courses", outsider, map[string]interface{}{
		"lms_course_id": "506-b",
		"name":          "Elsewhere",
		"capacity_type": "individual",
		"max_per_type":  1,
	})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = s.do(http.MethodGet, "/api/v1/courses/"+courseID+"/slots", outsider, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}
