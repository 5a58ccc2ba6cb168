package catalog

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Bounds applied to provider-supplied metadata before it is stored.
const (
	maxMetadataDepth  = 4
	maxMetadataString = 512
	maxMetadataItems  = 50
	maxMetadataKeys   = 50
	maxMetadataKey    = 64
)

// sanitizeMetadata renders v as bounded, canonical JSON.
func sanitizeMetadata(v map[string]any) string {
	b, err := json.Marshal(sanitizeValue(v, 0))
	if err != nil {
		return "{}"
	}
	return string(b)
}

func sanitizeValue(v any, depth int) any {
	switch t := v.(type) {
	case nil, bool, json.Number:
		return t
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return nil
		}
		return t
	case string:
		return cleanString(t, maxMetadataString)
	case []any:
		if depth >= maxMetadataDepth {
			return nil
		}
		n := len(t)
		if n > maxMetadataItems {
			n = maxMetadataItems
		}
		out := make([]any, 0, n)
		for _, item := range t[:n] {
			out = append(out, sanitizeValue(item, depth+1))
		}
		return out
	case map[string]any:
		if depth >= maxMetadataDepth {
			return nil
		}
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		if len(keys) > maxMetadataKeys {
			keys = keys[:maxMetadataKeys]
		}
		out := make(map[string]any, len(keys))
		for _, k := range keys {
			ck := cleanString(k, maxMetadataKey)
			if ck == "" {
				continue
			}
			out[ck] = sanitizeValue(t[k], depth+1)
		}
		return out
	default:
		return cleanString(fmt.Sprint(t), maxMetadataString)
	}
}

// cleanString drops control characters and invalid UTF-8, trims, and caps the rune count.
func cleanString(s string, limit int) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			return -1
		}
		return r
	}, s)
	s = strings.TrimSpace(s)

	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}
