package session

import (
	"errors"
	"fmt"
	"time"

	"lti-booking/internal/domain/booking"

	"github.com/golang-jwt/jwt/v4"
)

var ErrInvalidToken = errors.New("invalid session token")

// Claims is what an LTI launch resolves into. Roles are already mapped to
// booking.Roles so later requests never look at the raw LTI role string.
type Claims struct {
	Name        string        `json:"name"`
	Roles       booking.Roles `json:"roles"`
	LMSCourseID string        `json:"course"`
	Domain      string        `json:"domain"`
	jwt.RegisteredClaims
}

type Signer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewSigner(secret, issuer string, ttl time.Duration) (*Signer, error) {
	if secret == "" {
		return nil, errors.New("session secret is empty")
	}
	if ttl <= 0 {
		ttl = 8 * time.Hour
	}
	return &Signer{secret: []byte(secret), issuer: issuer, ttl: ttl, now: time.Now}, nil
}

// Issue signs a session for actor. Groups are not embedded; they are looked
// up through the LMS when a group slot is booked.
func (s *Signer) Issue(actor booking.Actor) (string, time.Time, error) {
	now := s.now()
	expires := now.Add(s.ttl)

	claims := Claims{
		Name:        actor.Name,
		Roles:       actor.Roles,
		LMSCourseID: actor.LMSCourseID,
		Domain:      actor.Domain,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.UserID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign session: %w", err)
	}
	return token, expires, nil
}

func (s *Signer) Parse(tokenStr string) (booking.Actor, error) {
	claims := &Claims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	token, err := parser.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return booking.Actor{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if s.issuer != "" && !claims.VerifyIssuer(s.issuer, true) {
		return booking.Actor{}, fmt.Errorf("%w: unexpected issuer %q", ErrInvalidToken, claims.Issuer)
	}
	if claims.Subject == "" {
		return booking.Actor{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	return booking.Actor{
		UserID:      claims.Subject,
		Name:        claims.Name,
		Roles:       claims.Roles,
		LMSCourseID: claims.LMSCourseID,
		Domain:      claims.Domain,
	}, nil
}
