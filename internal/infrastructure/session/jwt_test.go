package session

import (
	"testing"
	"time"

	"lti-booking/internal/domain/booking"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSigner_RoundTrip(t *testing.T) {
	s, err := NewSigner("secret", "lti-booking", time.Hour)
	require.NoError(t, err)

	actor := booking.Actor{
		UserID:      "42",
		Name:        "Ada",
		Roles:       booking.RoleLearner,
		LMSCourseID: "101",
		Domain:      "lms.example.edu",
	}

	token, expires, err := s.Issue(actor)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expires, 5*time.Second)

	got, err := s.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, actor, got)
}

func TestSigner_RejectsForeignAndExpiredTokens(t *testing.T) {
	s, _ := NewSigner("secret", "lti-booking", time.Hour)
	other, _ := NewSigner("other-secret", "lti-booking", time.Hour)

	token, _, err := other.Issue(booking.Actor{UserID: "1"})
	require.NoError(t, err)
	_, err = s.Parse(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	s.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, _, err = s.Issue(booking.Actor{UserID: "1"})
	require.NoError(t, err)
	s.now = time.Now
	_, err = s.Parse(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = s.Parse("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestSigner_IssuerMismatch(t *testing.T) {
	a, _ := NewSigner("secret", "a", time.Hour)
	b, _ := NewSigner("secret", "b", time.Hour)

	token, _, err := a.Issue(booking.Actor{UserID: "1"})
	require.NoError(t, err)
	_, err = b.Parse(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewSigner_EmptySecret(t *testing.T) {
	_, err := NewSigner("", "x", time.Hour)
	assert.Error(t, err)
}
