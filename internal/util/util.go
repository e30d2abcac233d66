// Package util holds small helpers for keeping provider keys and bearer tokens out of logs.
package util

import (
	"net/url"
	"strings"
)

// sensitiveQueryMarkers flag query parameters whose values are masked in access logs.
var sensitiveQueryMarkers = []string{"api-key", "apikey", "api_key", "token", "secret"}

// HideAPIKey keeps a few leading and trailing characters of a credential and elides the rest.
func HideAPIKey(apiKey string) string {
	var keep int
	switch n := len(apiKey); {
	case n > 8:
		keep = 4
	case n > 4:
		keep = 2
	case n > 2:
		keep = 1
	default:
		return apiKey
	}
	return apiKey[:keep] + "..." + apiKey[len(apiKey)-keep:]
}

// MaskSensitiveQuery masks credential-like parameters of a raw query string, keeping the rest verbatim.
func MaskSensitiveQuery(raw string) string {
	if raw == "" {
		return ""
	}
	pairs := strings.Split(raw, "&")
	masked := false
	for i, pair := range pairs {
		key, value, _ := strings.Cut(pair, "=")
		if key == "" {
			continue
		}
		name, errKey := url.QueryUnescape(key)
		if errKey != nil {
			name = key
		}
		if !isSensitiveQueryKey(name) {
			continue
		}
		plain, errValue := url.QueryUnescape(value)
		if errValue != nil {
			plain = value
		}
		pairs[i] = key + "=" + url.QueryEscape(HideAPIKey(strings.TrimSpace(plain)))
		masked = true
	}
	if !masked {
		return raw
	}
	return strings.Join(pairs, "&")
}

func isSensitiveQueryKey(key string) bool {
	key = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(key)), "[]")
	switch key {
	case "":
		return false
	case "key", "authorization":
		return true
	}
	for _, marker := range sensitiveQueryMarkers {
		if strings.Contains(key, marker) {
			return true
		}
	}
	return false
}

// MaskBearer hides the credential part of an Authorization header value.
func MaskBearer(header string) string {
	trimmed := strings.TrimSpace(header)
	if trimmed == "" {
		return ""
	}
	scheme, credential, found := strings.Cut(trimmed, " ")
	if !found {
		return HideAPIKey(trimmed)
	}
	return scheme + " " + HideAPIKey(strings.TrimSpace(credential))
}
