package skylight

import (
	"bytes"
	"encoding/json"
)

// Document is the JSON:API envelope returned by list endpoints such as
// /frames and /frames/{id}/calendar_events.
type Document struct {
	Data     []Resource `json:"data"`
	Included []Resource `json:"included,omitempty"`
	Meta     Meta       `json:"meta"`
}

// Meta carries response-level counters.
type Meta struct {
	TotalEventCount *int `json:"total_event_count,omitempty"`
}

// Resource is a single typed record (calendar_event, category,
// calendar_account, frame, ...). Attributes are kept raw so that the
// extractor can decide per field how absence and type mismatches are handled.
type Resource struct {
	ID            ID                         `json:"id"`
	Type          string                     `json:"type"`
	Attributes    map[string]json.RawMessage `json:"attributes,omitempty"`
	Relationships map[string]Relationship    `json:"relationships,omitempty"`
}

// Key identifies a resource within a document.
func (r Resource) Key() string {
	return r.Type + "/" + string(r.ID)
}

// Relationship is a JSON:API relationship; Data is a resource identifier,
// an array of identifiers, or null.
type Relationship struct {
	Data json.RawMessage `json:"data"`
}

// ResourceRef is a JSON:API resource identifier.
type ResourceRef struct {
	ID   ID     `json:"id"`
	Type string `json:"type"`
}

// Ref returns the single resource identifier carried by the relationship.
// ok is false for null data, arrays, or identifiers without an id.
func (r Relationship) Ref() (ResourceRef, bool) {
	data := bytes.TrimSpace(r.Data)
	if len(data) == 0 || data[0] != '{' {
		return ResourceRef{}, false
	}
	var ref ResourceRef
	if err := json.Unmarshal(data, &ref); err != nil || ref.ID == "" {
		return ResourceRef{}, false
	}
	return ref, true
}

// ID is a record identifier. The API sends ids as strings, but numeric ids
// are accepted too. null and any other JSON kind decode to the empty ID.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	*id = ""
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return nil
	}
	switch {
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
	case b[0] == '-' || (b[0] >= '0' && b[0] <= '9'):
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return err
		}
		*id = ID(n.String())
	}
	return nil
}

// Frame is a display endpoint visible to the logged-in user.
type Frame struct {
	ID     string
	Name   string
	UserID string
}

// framesFromDocument converts a /frames response into Frame values.
func framesFromDocument(doc *Document) []Frame {
	frames := make([]Frame, 0, len(doc.Data))
	for _, r := range doc.Data {
		f := Frame{ID: string(r.ID)}
		if raw, ok := r.Attributes["name"]; ok {
			_ = json.Unmarshal(raw, &f.Name)
		}
		if rel, ok := r.Relationships["user"]; ok {
			if ref, ok := rel.Ref(); ok {
				f.UserID = string(ref.ID)
			}
		}
		frames = append(frames, f)
	}
	return frames
}

// sessionResponse is the body returned by POST /sessions.
type sessionResponse struct {
	Data struct {
		ID         ID `json:"id"`
		Attributes struct {
			Token string `json:"token"`
		} `json:"attributes"`
	} `json:"data"`
}
