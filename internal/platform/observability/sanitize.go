package observability

import (
	"strings"
	"unicode"
)

// Request-derived values pass through these helpers before they become log
// fields, so a crafted header or path cannot smuggle control bytes into logs.

func sanitizeString(value string, limit int) string {
	if limit <= 0 {
		limit = 256
	}
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', '\t':
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, value)
	runes := []rune(cleaned)
	if len(runes) > limit {
		return string(runes[:limit])
	}
	return cleaned
}

// SanitizeRoute bounds route patterns logged for each request.
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return sanitizeString(route, 180)
}

// SanitizeMethod bounds the HTTP method string.
func SanitizeMethod(method string) string {
	return sanitizeString(method, 10)
}

// SanitizeUserID truncates caller identifiers so logs carry enough to
// correlate a request without echoing arbitrarily long header values.
func SanitizeUserID(uid string) string {
	if uid == "" {
		return ""
	}
	return sanitizeString(uid, 64)
}

// SanitizeTenantID applies the identifier bounds to tenant slugs.
func SanitizeTenantID(tid string) string {
	if tid == "" {
		return ""
	}
	return sanitizeString(tid, 64)
}
