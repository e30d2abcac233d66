// Package settings keeps an in-memory snapshot of the settings table so limits can change without a restart.
package settings

import (
	"bytes"
	"encoding/json"
	"maps"
	"math"
	"slices"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

type snapshot struct {
	updatedAt time.Time
	values    map[string]json.RawMessage
}

var current atomic.Pointer[snapshot]

// StoreDBConfig replaces the snapshot. Keys are trimmed and values copied.
func StoreDBConfig(updatedAt time.Time, values map[string]json.RawMessage) {
	next := &snapshot{updatedAt: updatedAt.UTC(), values: make(map[string]json.RawMessage, len(values))}
	for k, v := range values {
		if key := strings.TrimSpace(k); key != "" {
			next.values[key] = slices.Clone(v)
		}
	}
	current.Store(next)
}

// DBConfigUpdatedAt returns the newest updated_at of the loaded rows.
func DBConfigUpdatedAt() time.Time {
	if snap := current.Load(); snap != nil {
		return snap.updatedAt
	}
	return time.Time{}
}

// DBConfigValue returns a copy of the raw value stored under key.
func DBConfigValue(key string) (json.RawMessage, bool) {
	snap := current.Load()
	if snap == nil {
		return nil, false
	}
	val, ok := snap.values[strings.TrimSpace(key)]
	if !ok {
		return nil, false
	}
	return slices.Clone(val), true
}

// Keys lists the loaded override names in sorted order.
func Keys() []string {
	snap := current.Load()
	if snap == nil {
		return nil
	}
	return slices.Sorted(maps.Keys(snap.values))
}

// IntValue returns the integer stored under key, or fallback when absent or malformed.
func IntValue(key string, fallback int) int {
	raw, ok := DBConfigValue(key)
	if !ok {
		return fallback
	}
	if parsed, okParse := parseInt(raw); okParse {
		return parsed
	}
	return fallback
}

// parseInt accepts JSON numbers, integral floats, numeric strings and {"value": ...} wrappers.
func parseInt(raw json.RawMessage) (int, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return 0, false
	}
	var n int
	if errUnmarshal := json.Unmarshal(raw, &n); errUnmarshal == nil {
		return n, true
	}
	var f float64
	if errUnmarshal := json.Unmarshal(raw, &f); errUnmarshal == nil {
		if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
			return 0, false
		}
		return int(f), true
	}
	var s string
	if errUnmarshal := json.Unmarshal(raw, &s); errUnmarshal == nil {
		parsed, errParse := strconv.Atoi(strings.TrimSpace(s))
		if errParse == nil {
			return parsed, true
		}
	}
	var wrapper struct {
		Value json.RawMessage `json:"value"`
	}
	if errUnmarshal := json.Unmarshal(raw, &wrapper); errUnmarshal == nil && len(wrapper.Value) > 0 {
		return parseInt(wrapper.Value)
	}
	return 0, false
}

// StringValue returns the string stored under key, or fallback when absent.
func StringValue(key, fallback string) string {
	raw, ok := DBConfigValue(key)
	if !ok || len(raw) == 0 {
		return fallback
	}
	var s string
	if errStr := json.Unmarshal(raw, &s); errStr != nil {
		return fallback
	}
	if trimmed := strings.TrimSpace(s); trimmed != "" {
		return trimmed
	}
	return fallback
}
