package api

import (
	"regexp"
	"strings"

	"releasepulse/internal/replay"
)

const maxScrubbedStringLength = 6_000

var (
	eventEmailRegex      = regexp.MustCompile(`(?i)\b[\w.+-]+@[\w.-]+\.[a-z]{2,}\b`)
	eventBearerRegex     = regexp.MustCompile(`(?i)\bbearer\s+[a-z0-9._~+/=-]{8,}\b`)
	eventHexTokenRegex   = regexp.MustCompile(`(?i)\b[0-9a-f]{24,}\b`)
	eventIPv4Regex       = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)
	eventLongNumberRegex = regexp.MustCompile(`\b\d{12,19}\b`)
	eventCardRegex       = regexp.MustCompile(`\b(?:\d[ -]*?){13,16}\b`)
)

var sensitiveKeyFragments = []string{
	"password",
	"passwd",
	"secret",
	"token",
	"authorization",
	"cookie",
	"api_key",
	"apikey",
	"email",
	"ip_address",
}

// scrubEvent redacts PII from the free-form parts of a replay event. IDs and
// timestamps are left alone so the reader can still line parts up.
func scrubEvent(event replay.Event) replay.Event {
	event.Title = scrubString(event.Title, "title")
	tags := make([]replay.Tag, 0, len(event.Tags))
	for _, tag := range event.Tags {
		tags = append(tags, replay.Tag{Key: tag.Key, Value: scrubString(tag.Value, tag.Key)})
	}
	event.Tags = tags
	if event.Contexts != nil {
		event.Contexts = scrubValue(event.Contexts, "").(map[string]any)
	}
	return event
}

func scrubCrumbs(crumbs []replay.Crumb) []replay.Crumb {
	scrubbed := make([]replay.Crumb, 0, len(crumbs))
	for _, crumb := range crumbs {
		crumb.Message = scrubString(crumb.Message, "message")
		if crumb.Data != nil {
			crumb.Data = scrubValue(crumb.Data, "").(map[string]any)
		}
		scrubbed = append(scrubbed, crumb)
	}
	return scrubbed
}

func scrubValue(value any, key string) any {
	switch typed := value.(type) {
	case map[string]any:
		scrubbed := make(map[string]any, len(typed))
		for childKey, childValue := range typed {
			scrubbed[childKey] = scrubValue(childValue, childKey)
		}
		return scrubbed
	case []any:
		scrubbed := make([]any, 0, len(typed))
		for _, childValue := range typed {
			scrubbed = append(scrubbed, scrubValue(childValue, key))
		}
		return scrubbed
	case string:
		return scrubString(typed, key)
	default:
		if isSensitiveKey(key) && value != nil {
			return "<redacted>"
		}
		return value
	}
}

func scrubString(value string, key string) string {
	if isSensitiveKey(key) {
		return "<redacted>"
	}

	redacted := value
	redacted = eventEmailRegex.ReplaceAllString(redacted, "<email>")
	redacted = eventBearerRegex.ReplaceAllString(redacted, "<token>")
	redacted = eventHexTokenRegex.ReplaceAllString(redacted, "<token>")
	redacted = eventIPv4Regex.ReplaceAllString(redacted, "<ip>")
	redacted = eventCardRegex.ReplaceAllString(redacted, "<card-number>")
	redacted = eventLongNumberRegex.ReplaceAllString(redacted, "<long-number>")
	if len(redacted) > maxScrubbedStringLength {
		return redacted[:maxScrubbedStringLength]
	}
	return redacted
}

func isSensitiveKey(key string) bool {
	normalized := strings.ToLower(strings.TrimSpace(key))
	if normalized == "" {
		return false
	}
	for _, fragment := range sensitiveKeyFragments {
		if strings.Contains(normalized, fragment) {
			return true
		}
	}
	return false
}
