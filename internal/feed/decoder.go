package feed

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const eventSchemaURL = "https://wikigreet.example/schemas/edit-event.json"

//go:embed event_schema.json
var rawEventSchema string

// wireEvent is the JSON shape of one feed message.
type wireEvent struct {
	User       string `json:"user"`
	Title      string `json:"title"`
	Namespace  int    `json:"namespace"`
	Type       string `json:"type"`
	Timestamp  int64  `json:"timestamp"`
	RevisionID int64  `json:"revision_id"`
}

// Decoder validates raw feed messages against the event schema and decodes
// them into Events.
type Decoder struct {
	schema *jsonschema.Schema
}

// NewDecoder compiles the embedded event schema.
func NewDecoder() (*Decoder, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(rawEventSchema))
	if err != nil {
		return nil, fmt.Errorf("parse event schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(eventSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("register event schema: %w", err)
	}
	schema, err := compiler.Compile(eventSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile event schema: %w", err)
	}
	return &Decoder{schema: schema}, nil
}

// Decode validates one raw message and returns the typed event.
func (d *Decoder) Decode(data []byte) (Event, error) {
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return Event{}, fmt.Errorf("parse event: %w", err)
	}
	if err := d.schema.Validate(instance); err != nil {
		return Event{}, fmt.Errorf("validate event: %w", err)
	}
	var raw wireEvent
	if err := json.Unmarshal(data, &raw); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	return Event{
		User:       raw.User,
		Title:      raw.Title,
		Namespace:  raw.Namespace,
		Kind:       Kind(raw.Type),
		Timestamp:  time.Unix(raw.Timestamp, 0).UTC(),
		RevisionID: raw.RevisionID,
	}, nil
}
