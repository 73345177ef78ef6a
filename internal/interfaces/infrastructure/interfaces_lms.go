package interfaces

import (
	"context"

	"lti-booking/internal/domain/booking"
)

// TokenOwner identifies whose LMS token a call is made with.
type TokenOwner struct {
	UserID string
	Domain string
}

// TokenSource hands out LMS access tokens and refreshes them on demand.
type TokenSource interface {
	Token(ctx context.Context, owner TokenOwner) (string, error)
	Refresh(ctx context.Context, owner TokenOwner) (string, error)
}

type LMSGateway interface {
	SendConversation(ctx context.Context, owner TokenOwner, req booking.DispatchRequest) error
	OwnGroups(ctx context.Context, owner TokenOwner, lmsCourseID string) ([]booking.Group, error)
}

type OAuthToken struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

type OAuthClient interface {
	RefreshToken(ctx context.Context, refreshToken string) (*OAuthToken, error)
}
