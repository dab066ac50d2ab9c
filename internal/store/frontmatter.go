package store

import "time"

// GetString returns a string value from frontmatter.
func GetString(meta map[string]any, key string) string {
	if s, ok := meta[key].(string); ok {
		return s
	}
	return ""
}

// GetInt returns an int value from frontmatter.
func GetInt(meta map[string]any, key string) int {
	switch n := meta[key].(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

// GetTime returns a time value from frontmatter. yaml.v3 decodes RFC 3339
// timestamps to time.Time; strings are parsed as a fallback.
func GetTime(meta map[string]any, key string) time.Time {
	switch t := meta[key].(type) {
	case time.Time:
		return t
	case string:
		if parsed, err := time.Parse(time.RFC3339, t); err == nil {
			return parsed
		}
	}
	return time.Time{}
}

// FormatTime formats a time for frontmatter storage.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
