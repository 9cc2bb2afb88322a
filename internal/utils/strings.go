package utils

import "strings"

// ParseCSV splits a comma-separated string and returns trimmed non-empty values.
// Returns nil for empty/whitespace-only input.
// Used for list-valued settings such as KAFKA_BROKERS.
func ParseCSV(s string) []string {
	if s == "" {
		return nil
	}

	var result []string
	for _, v := range strings.Split(s, ",") {
		trimmed := strings.TrimSpace(v)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	if len(result) == 0 {
		return nil
	}

	return result
}

// ParsePairs parses "key:value,key:value" into a map. Entries without a
// separator or with an empty side are skipped. Later keys win.
func ParsePairs(s string) map[string]string {
	items := ParseCSV(s)
	if len(items) == 0 {
		return nil
	}

	result := make(map[string]string, len(items))
	for _, item := range items {
		key, value, ok := strings.Cut(item, ":")
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if !ok || key == "" || value == "" {
			continue
		}
		result[key] = value
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
