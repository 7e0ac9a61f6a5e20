package repositories

import (
	"encoding/json"
	"strings"
)

// normalizeKeywords lowercases, trims, and de-duplicates keywords before
// storage, preserving first-seen order.
func normalizeKeywords(keywords []string) []string {
	seen := make(map[string]struct{}, len(keywords))
	out := make([]string, 0, len(keywords))
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

// decodeKeywords parses a stored keywords column. New rows hold a JSON array,
// but older data may hold a JSON-encoded string (itself containing an array)
// or a bare comma-joined string; all three shapes decode.
func decodeKeywords(raw []byte) []string {
	if len(raw) == 0 {
		return nil
	}

	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return normalizeKeywords(list)
	}

	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		if err := json.Unmarshal([]byte(str), &list); err == nil {
			return normalizeKeywords(list)
		}
		return normalizeKeywords(strings.Split(str, ","))
	}

	return normalizeKeywords(strings.Split(string(raw), ","))
}
