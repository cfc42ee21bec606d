package normalize

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	time.DateOnly,
}

func objectValue(raw any) (map[string]any, bool) {
	object, isObject := raw.(map[string]any)
	return object, isObject && object != nil
}

func listValue(raw any) ([]any, bool) {
	list, isList := raw.([]any)
	return list, isList
}

func stringValue(raw any) string {
	switch typed := raw.(type) {
	case string:
		return typed
	case float64:
		if typed == math.Trunc(typed) && math.Abs(typed) < 1e15 {
			return strconv.FormatInt(int64(typed), 10)
		}
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case json.Number:
		return typed.String()
	case bool:
		return strconv.FormatBool(typed)
	default:
		return ""
	}
}

func nonEmptyString(raw any) (string, bool) {
	value := strings.TrimSpace(stringValue(raw))
	return value, value != ""
}

func intValue(raw any) int {
	switch typed := raw.(type) {
	case float64:
		return int(typed)
	case json.Number:
		parsed, parseErr := typed.Int64()
		if parseErr != nil {
			return 0
		}
		return int(parsed)
	case string:
		parsed, parseErr := strconv.Atoi(strings.TrimSpace(typed))
		if parseErr != nil {
			return 0
		}
		return parsed
	default:
		return 0
	}
}

// timeValue accepts ISO timestamps and epoch milliseconds. Unparseable values
// yield the zero time.
func timeValue(raw any) time.Time {
	switch typed := raw.(type) {
	case string:
		trimmed := strings.TrimSpace(typed)
		for _, layout := range timeLayouts {
			parsed, parseErr := time.Parse(layout, trimmed)
			if parseErr == nil {
				return parsed.UTC()
			}
		}
		if milliseconds, parseErr := strconv.ParseInt(trimmed, 10, 64); parseErr == nil {
			return time.UnixMilli(milliseconds).UTC()
		}
	case float64:
		return time.UnixMilli(int64(typed)).UTC()
	case json.Number:
		if milliseconds, parseErr := typed.Int64(); parseErr == nil {
			return time.UnixMilli(milliseconds).UTC()
		}
	}
	return time.Time{}
}

func firstNonEmpty(candidates ...string) string {
	for _, candidate := range candidates {
		if candidate != "" {
			return candidate
		}
	}
	return ""
}
