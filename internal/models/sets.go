package models

import (
	"encoding/json"
	"sort"
)

// DecodeSet — JSON array column -> string slice. Empty column is an empty set.
func DecodeSet(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

// EncodeSet — sorted, de-duplicated JSON array. Deterministic encoding keeps
// repeated merges of the same members byte-identical.
func EncodeSet(members []string) string {
	seen := make(map[string]struct{}, len(members))
	uniq := make([]string, 0, len(members))
	for _, m := range members {
		if m == "" {
			continue
		}
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		uniq = append(uniq, m)
	}
	sort.Strings(uniq)
	b, _ := json.Marshal(uniq)
	return string(b)
}

// UnionSet — merge new members into an encoded set; returns the new encoding
// and how many members were actually added.
func UnionSet(raw string, add ...string) (string, int) {
	cur := DecodeSet(raw)
	seen := make(map[string]struct{}, len(cur))
	for _, m := range cur {
		seen[m] = struct{}{}
	}
	added := 0
	for _, m := range add {
		if m == "" {
			continue
		}
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		cur = append(cur, m)
		added++
	}
	if added == 0 && raw != "" {
		return raw, 0
	}
	return EncodeSet(cur), added
}
