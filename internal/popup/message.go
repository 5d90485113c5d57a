package popup

import (
	"encoding/json"
	"strings"
)

// Message tags a popup sends once sign-in completed.
const (
	TagOAuthSuccess = "OAUTH_SUCCESS"
	// TagLegacySuccess is still sent by older popup-close pages.
	TagLegacySuccess = "NEXUS_AUTH_SUCCESS"
)

// DefaultSuccessTags is the recognized completion set.
func DefaultSuccessTags() []string {
	return []string{TagOAuthSuccess, TagLegacySuccess}
}

// messagePayload is the only shape we read out of a message.
type messagePayload struct {
	Type string `json:"type"`
}

// sameOrigin compares origins the way browsers serialize them.
func sameOrigin(a, b string) bool {
	a = strings.TrimRight(strings.TrimSpace(a), "/")
	b = strings.TrimRight(strings.TrimSpace(b), "/")
	return a != "" && strings.EqualFold(a, b)
}

// IsCompletion reports whether msg is a completion signal for a host at
// origin. The payload is decoded only after the origin matched.
func IsCompletion(msg Message, origin string, tags []string) bool {
	if !sameOrigin(msg.Origin, origin) {
		return false
	}
	var payload messagePayload
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		return false
	}
	for _, tag := range tags {
		if payload.Type == tag {
			return true
		}
	}
	return false
}
