package document

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Millis is an epoch timestamp in milliseconds. Older documents stored some
// timestamps as ISO strings or numeric strings; both decode transparently.
type Millis int64

func MillisOf(t time.Time) Millis {
	if t.IsZero() {
		return 0
	}
	return Millis(t.UnixMilli())
}

func (m Millis) Time() time.Time {
	if m == 0 {
		return time.Time{}
	}
	return time.UnixMilli(int64(m))
}

func (m Millis) IsZero() bool {
	return m == 0
}

func (m *Millis) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*m = 0
		return nil
	}
	if data[0] == '"' {
		var raw string
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		*m = parseMillisString(raw)
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		// Booleans and objects carry no usable time.
		*m = 0
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		*m = 0
		return nil
	}
	*m = Millis(int64(f))
	return nil
}

func parseMillisString(raw string) Millis {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return Millis(n)
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return MillisOf(t)
		}
	}
	return 0
}

// ID identifies tasks and requests. Clients historically wrote both numeric
// and string identifiers, so either form decodes into the string form.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var raw string
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		*id = ID(raw)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string {
	return string(id)
}

// UnmarshalJSON accepts the legacy roster entry form, a bare name string, and
// upgrades it to a member with an empty password.
func (m *Member) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var name string
		if err := json.Unmarshal(data, &name); err != nil {
			return err
		}
		*m = Member{Name: name, Password: ""}
		return nil
	}
	type plain Member
	var out plain
	if err := json.Unmarshal(data, &out); err != nil {
		return err
	}
	*m = Member(out)
	return nil
}
