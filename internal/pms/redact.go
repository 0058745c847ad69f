package pms

import (
	"encoding/json"
	"strings"

	"gorm.io/datatypes"
)

const maxLoggedPayload = 4096

var secretKeys = map[string]bool{
	"token":        true,
	"refreshtoken": true,
	"password":     true,
	"apikey":       true,
	"secret":       true,
}

// payloadForLog returns a JSON value safe to persist: secrets replaced and
// large bodies cut down to a JSON string.
func payloadForLog(raw []byte) datatypes.JSON {
	if len(raw) == 0 {
		return nil
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		s, _ := json.Marshal(truncate(string(raw), maxLoggedPayload))
		return datatypes.JSON(s)
	}

	out, err := json.Marshal(redact(v))
	if err != nil {
		return nil
	}
	if len(out) > maxLoggedPayload {
		s, _ := json.Marshal(truncate(string(out), maxLoggedPayload))
		return datatypes.JSON(s)
	}
	return datatypes.JSON(out)
}

func redact(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			if secretKeys[strings.ToLower(k)] {
				t[k] = "[REDACTED]"
				continue
			}
			t[k] = redact(val)
		}
		return t
	case []any:
		for i := range t {
			t[i] = redact(t[i])
		}
		return t
	default:
		return v
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "...(truncated)"
}
