// Package schema validates inbound API payloads before they reach the
// service layer.
package schema

import (
	"fmt"
	"net/url"
	"strings"

	"recording-ingress-service/internal/models"
)

type Validator struct{}

func New() *Validator {
	return &Validator{}
}

// ValidateStartRequest checks a session-start request. The meeting URL
// must be an absolute http(s) URL the recorder can join.
func (v *Validator) ValidateStartRequest(meetingURL, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("userId is required")
	}
	if strings.TrimSpace(meetingURL) == "" {
		return fmt.Errorf("meetingUrl is required")
	}
	u, err := url.Parse(meetingURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("meetingUrl must be an absolute http(s) URL")
	}
	return nil
}

// ValidateEnvelope checks the minimal shape of a lifecycle event.
func (v *Validator) ValidateEnvelope(env models.WebhookEnvelope) error {
	if env.Event == "" {
		return fmt.Errorf("event kind is required")
	}
	return nil
}
