package activitypub

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/moapub/moa/domain"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed activity_schema.json
var activitySchemaJSON []byte

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func activitySchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(activitySchemaJSON))
		if err != nil {
			schemaErr = err
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("activity_schema.json", doc); err != nil {
			schemaErr = err
			return
		}
		schema, schemaErr = compiler.Compile("activity_schema.json")
	})
	return schema, schemaErr
}

// Activity is the parsed envelope of one ActivityPub activity. Raw
// keeps the document exactly as received. Object stays unparsed because
// it can be a bare IRI string or an embedded object.
type Activity struct {
	Raw       json.RawMessage `json:"-"`
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Actor     string          `json:"actor"`
	Published string          `json:"published"`
	Object    json.RawMessage `json:"object"`
}

// Note is the subset of embedded object fields this node reads.
type Note struct {
	ID           string `json:"id"`
	Type         string `json:"type"`
	Content      string `json:"content"`
	Published    string `json:"published"`
	AttributedTo string `json:"attributedTo"`
	InReplyTo    string `json:"inReplyTo"`
	Tag          []Tag  `json:"tag"`
}

// Tag is a hashtag or mention attached to a note.
type Tag struct {
	Type string `json:"type"`
	Href string `json:"href"`
	Name string `json:"name"`
}

// ParseActivity checks raw against the activity schema and returns the
// parsed envelope. Schema violations surface as domain.ValidationError.
func ParseActivity(raw []byte) (*Activity, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, &domain.ValidationError{Reason: "not a JSON document"}
	}

	schema, err := activitySchema()
	if err != nil {
		return nil, fmt.Errorf("could not compile activity schema: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, &domain.ValidationError{Reason: err.Error()}
	}

	var activity Activity
	if err := json.Unmarshal(raw, &activity); err != nil {
		return nil, &domain.ValidationError{Reason: err.Error()}
	}
	activity.Raw = append([]byte(nil), raw...)
	return &activity, nil
}

// ObjectIRI returns the IRI of the activity object, whether the object
// is a bare IRI string or an embedded object carrying an id.
func (a *Activity) ObjectIRI() string {
	trimmed := bytes.TrimSpace(a.Object)
	if len(trimmed) == 0 {
		return ""
	}
	if trimmed[0] == '"' {
		var iri string
		if err := json.Unmarshal(trimmed, &iri); err == nil {
			return iri
		}
		return ""
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return ""
	}
	return obj.ID
}

// ObjectType returns the declared type of an embedded object, or the
// empty string when the object is a bare IRI.
func (a *Activity) ObjectType() string {
	var obj struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(a.Object, &obj); err != nil {
		return ""
	}
	return obj.Type
}

// ObjectNote parses the embedded object as a note.
func (a *Activity) ObjectNote() (*Note, error) {
	trimmed := bytes.TrimSpace(a.Object)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("activity %s carries no embedded object", a.ID)
	}
	var note Note
	if err := json.Unmarshal(trimmed, &note); err != nil {
		return nil, fmt.Errorf("could not parse embedded object: %w", err)
	}
	return &note, nil
}

// PublishedTime parses the published timestamp. Absent or malformed
// timestamps come back as the zero time.
func (a *Activity) PublishedTime() time.Time {
	return parsePublished(a.Published)
}

func parsePublished(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
