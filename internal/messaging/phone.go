package messaging

import (
	"regexp"
	"strings"
)

var phoneDigitsRe = regexp.MustCompile(`\d+`)

// NormalizeAddress reduces a receiving/sending address to its digits,
// stripping provider prefixes ("whatsapp:+15551234567") and formatting
// variants so that the same number always yields the same key.
func NormalizeAddress(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if idx := strings.IndexByte(value, ':'); idx >= 0 {
		value = value[idx+1:]
	}
	digits := phoneDigitsRe.FindAllString(value, -1)
	return strings.Join(digits, "")
}

// NormalizeE164 ensures the value begins with + and only contains digits afterward.
func NormalizeE164(value string) string {
	digits := NormalizeAddress(value)
	if digits == "" {
		return ""
	}
	return "+" + digits
}
