package lms

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"lti-booking/internal/config"
	interfaces "lti-booking/internal/interfaces/infrastructure"
)

var _ interfaces.OAuthClient = (*OAuthClient)(nil)

// OAuthClient exchanges refresh tokens at the LMS token endpoint.
type OAuthClient struct {
	tokenURL     string
	clientID     string
	clientSecret string
	httpClient   *http.Client
}

func NewOAuthClient(cfg config.LMSConfig, httpClient *http.Client) *OAuthClient {
	if httpClient == nil {
		timeout := cfg.TimeoutDuration()
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &OAuthClient{
		tokenURL:     strings.TrimRight(cfg.BaseURL, "/") + "/login/oauth2/token",
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		httpClient:   httpClient,
	}
}

func (o *OAuthClient) RefreshToken(ctx context.Context, refreshToken string) (*interfaces.OAuthToken, error) {
	if refreshToken == "" {
		return nil, ErrReauthenticationRequired
	}

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {o.clientID},
		"client_secret": {o.clientSecret},
		"refresh_token": {refreshToken},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("lms: build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("lms: token refresh: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("lms: read token response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized:
		// invalid_grant: the refresh token was revoked
		return nil, ErrReauthenticationRequired
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, &APIError{Method: http.MethodPost, URL: o.tokenURL, StatusCode: resp.StatusCode, Body: truncate(body)}
	}

	var token interfaces.OAuthToken
	if err := json.Unmarshal(body, &token); err != nil {
		return nil, fmt.Errorf("lms: decode token response: %w", err)
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("lms: token response without access_token")
	}
	return &token, nil
}
