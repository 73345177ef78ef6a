package lms

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"lti-booking/internal/domain/booking"
	interfaces "lti-booking/internal/interfaces/infrastructure"
)

var _ interfaces.LMSGateway = (*Client)(nil)

type lmsGroup struct {
	ID   json.Number `json:"id"`
	Name string      `json:"name"`
}

// OwnGroups lists the groups the token owner belongs to in the course.
func (c *Client) OwnGroups(ctx context.Context, owner interfaces.TokenOwner, lmsCourseID string) ([]booking.Group, error) {
	path := fmt.Sprintf("/api/v1/courses/%s/groups", url.PathEscape(lmsCourseID))
	query := url.Values{"only_own_groups": {"true"}}

	items, err := c.Get(ctx, owner, path, query)
	if err != nil {
		return nil, err
	}

	groups := make([]booking.Group, 0, len(items))
	for _, raw := range items {
		var g lmsGroup
		if err := json.Unmarshal(raw, &g); err != nil {
			return nil, fmt.Errorf("lms: decode group: %w", err)
		}
		groups = append(groups, booking.Group{ID: g.ID.String(), Name: g.Name})
	}
	return groups, nil
}

// SendConversation starts a new conversation. Group recipients ("group_<id>")
// reach every member of the group.
func (c *Client) SendConversation(ctx context.Context, owner interfaces.TokenOwner, req booking.DispatchRequest) error {
	if len(req.Recipients) == 0 {
		return fmt.Errorf("%w: no recipients", ErrBadRequest)
	}

	form := url.Values{}
	for _, r := range req.Recipients {
		form.Add("recipients[]", r)
	}
	form.Set("subject", req.Subject)
	form.Set("body", req.Body)
	form.Set("force_new", "true")
	form.Set("group_conversation", "true")
	if req.ContextID != "" {
		ctxCode := req.ContextID
		if !strings.HasPrefix(ctxCode, "course_") {
			ctxCode = "course_" + ctxCode
		}
		form.Set("context_code", ctxCode)
	}

	_, err := c.Post(ctx, owner, "/api/v1/conversations", form)
	return err
}
