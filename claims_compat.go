package auth

import (
	"bytes"
	"encoding/json"
	"strings"
)

// legacySubject holds the subject shapes older clients and services still send:
// {"id": ...}, {"userId": ...} and {"user": {"id": ...}}.
type legacySubject struct {
	ID     json.RawMessage `json:"id,omitempty"`
	UserID json.RawMessage `json:"userId,omitempty"`
	User   *struct {
		ID json.RawMessage `json:"id,omitempty"`
	} `json:"user,omitempty"`
}

func (l legacySubject) subject() string {
	for _, raw := range []json.RawMessage{l.ID, l.UserID, l.userID()} {
		if v := rawIDString(raw); v != "" {
			return v
		}
	}
	return ""
}

func (l legacySubject) userID() json.RawMessage {
	if l.User == nil {
		return nil
	}
	return l.User.ID
}

// UnmarshalJSON decodes the canonical payload and falls back to the legacy
// subject shapes when neither sub nor uid is present.
func (c *SessionClaims) UnmarshalJSON(data []byte) error {
	type canonical SessionClaims
	var out canonical
	if err := json.Unmarshal(data, &out); err != nil {
		return err
	}

	if out.RegisteredClaims.Subject == "" && out.UID == "" {
		var legacy legacySubject
		if err := json.Unmarshal(data, &legacy); err != nil {
			return err
		}
		if sub := legacy.subject(); sub != "" {
			out.RegisteredClaims.Subject = sub
			out.UID = sub
		}
	}

	*c = SessionClaims(out)
	return nil
}

// rawIDString accepts string or numeric ids.
func rawIDString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}

	return ""
}
