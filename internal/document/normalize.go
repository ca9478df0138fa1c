package document

import (
	"bytes"
	"encoding/json"
	"fmt"
)

const (
	FieldTasks        = "tasks"
	FieldDeletedTasks = "deletedTasks"
	FieldRequests     = "requests"
	FieldLeaves       = "leaves"
	FieldAmirs        = "amirs"
	FieldUstas        = "ustas"
	FieldUpdatedAt    = "updatedAt"
)

var collectionFields = []string{FieldTasks, FieldDeletedTasks, FieldRequests, FieldLeaves, FieldAmirs, FieldUstas}

// Repairs describes what Decode had to fix to produce the current shape.
type Repairs struct {
	LegacyArray    bool
	MissingFields  []string
	LegacyMembers  int
	DroppedEntries int
}

func (r Repairs) Any() bool {
	return r.LegacyArray || len(r.MissingFields) > 0 || r.LegacyMembers > 0 || r.DroppedEntries > 0
}

// Decode parses a stored payload and normalizes it:
//   - a bare top-level array is the legacy shape and becomes the tasks collection
//   - absent or null collections become empty
//   - bare-string roster entries become members with an empty password
//   - entries that cannot be decoded, or collections that are not arrays, are dropped
//
// Only payloads that are not JSON at all (or a JSON scalar) return an error.
func Decode(data []byte) (Document, Repairs, error) {
	var repairs Repairs
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		repairs.MissingFields = append(repairs.MissingFields, collectionFields...)
		return Empty(), repairs, nil
	}

	switch trimmed[0] {
	case '[':
		repairs.LegacyArray = true
		doc := Empty()
		tasks, dropped, ok := decodeList[Task](trimmed)
		if !ok {
			return Document{}, repairs, fmt.Errorf("%w: legacy task array", ErrMalformed)
		}
		doc.Tasks = tasks
		repairs.DroppedEntries += dropped
		return doc, repairs, nil
	case '{':
	default:
		return Document{}, repairs, fmt.Errorf("%w: unexpected %q", ErrMalformed, trimmed[0])
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return Document{}, repairs, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	doc := Empty()
	for _, name := range collectionFields {
		raw, present := fields[name]
		if !present || isNull(raw) {
			repairs.MissingFields = append(repairs.MissingFields, name)
			continue
		}
		switch name {
		case FieldTasks:
			doc.Tasks = decodeInto[Task](raw, &repairs)
		case FieldDeletedTasks:
			doc.DeletedTasks = decodeInto[Task](raw, &repairs)
		case FieldRequests:
			doc.Requests = decodeInto[MaterialRequest](raw, &repairs)
		case FieldLeaves:
			doc.Leaves = decodeInto[LeaveRequest](raw, &repairs)
		case FieldAmirs:
			doc.Amirs = decodeMembers(raw, &repairs)
		case FieldUstas:
			doc.Ustas = decodeMembers(raw, &repairs)
		}
	}
	if raw, ok := fields[FieldUpdatedAt]; ok {
		var ts Millis
		if err := json.Unmarshal(raw, &ts); err == nil {
			doc.UpdatedAt = ts
		}
	}
	return doc, repairs, nil
}

// Encode serializes the document with every collection present.
func Encode(doc Document) ([]byte, error) {
	return json.Marshal(Normalize(doc))
}

func decodeInto[T any](raw json.RawMessage, repairs *Repairs) []T {
	items, dropped, ok := decodeList[T](raw)
	if !ok {
		repairs.DroppedEntries++
		return []T{}
	}
	repairs.DroppedEntries += dropped
	return items
}

func decodeMembers(raw json.RawMessage, repairs *Repairs) []Member {
	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		repairs.DroppedEntries++
		return []Member{}
	}
	out := make([]Member, 0, len(entries))
	for _, entry := range entries {
		entry = bytes.TrimSpace(entry)
		if isNull(entry) {
			repairs.DroppedEntries++
			continue
		}
		var m Member
		if err := json.Unmarshal(entry, &m); err != nil {
			repairs.DroppedEntries++
			continue
		}
		if entry[0] == '"' {
			repairs.LegacyMembers++
		}
		out = append(out, m)
	}
	return out
}

func decodeList[T any](raw json.RawMessage) ([]T, int, bool) {
	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, 0, false
	}
	out := make([]T, 0, len(entries))
	dropped := 0
	for _, entry := range entries {
		if isNull(entry) {
			dropped++
			continue
		}
		var item T
		if err := json.Unmarshal(entry, &item); err != nil {
			dropped++
			continue
		}
		out = append(out, item)
	}
	return out, dropped, true
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
