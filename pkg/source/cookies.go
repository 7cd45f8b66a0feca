package source

import (
	"encoding/json"
	"strings"
)

// Cookie is a browser session cookie as exported by common cookie tools.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain,omitempty"`
	Path     string  `json:"path,omitempty"`
	Expires  float64 `json:"expires,omitempty"`
	HTTPOnly bool    `json:"httpOnly,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	SameSite string  `json:"sameSite,omitempty"`
}

// ParseCookieList decodes a JSON array of cookie objects. The array may
// also arrive wrapped in a JSON string (double-encoded env values).
// Non-object entries are skipped; invalid input yields nil.
func ParseCookieList(raw string) []Cookie {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	var entries []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		var inner string
		if err := json.Unmarshal([]byte(raw), &inner); err != nil {
			return nil
		}
		if err := json.Unmarshal([]byte(inner), &entries); err != nil {
			return nil
		}
	}

	var cookies []Cookie
	for _, e := range entries {
		trimmed := strings.TrimSpace(string(e))
		if !strings.HasPrefix(trimmed, "{") {
			continue
		}
		var c Cookie
		if err := json.Unmarshal(e, &c); err != nil {
			continue
		}
		cookies = append(cookies, c)
	}
	return cookies
}

// CookieNames returns the non-empty names in order.
func CookieNames(cookies []Cookie) []string {
	var names []string
	for _, c := range cookies {
		if c.Name != "" {
			names = append(names, c.Name)
		}
	}
	return names
}
