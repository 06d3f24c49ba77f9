package session

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// recordSchemaJSON describes the persisted record. Status is only required to
// be a string here; unknown values are rejected by Session.Validate so they
// can be reported separately.
const recordSchemaJSON = `{
	"type": "object",
	"required": ["sessionId", "gameId", "status", "startTime"],
	"properties": {
		"sessionId": {"type": "string", "minLength": 1},
		"gameId": {"type": "string", "minLength": 1},
		"status": {"type": "string"},
		"startTime": {"type": "string", "format": "date-time"},
		"endTime": {"type": ["string", "null"], "format": "date-time"},
		"duration": {"type": ["integer", "null"], "minimum": 0}
	}
}`

var recordSchema = gojsonschema.NewStringLoader(recordSchemaJSON)

// decodeRecord validates and decodes a persisted session record.
func decodeRecord(data []byte) (Session, error) {
	result, err := gojsonschema.Validate(recordSchema, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return Session{}, fmt.Errorf("%w: %s", ErrCorruptRecord, strings.Join(msgs, "; "))
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	if err := s.Validate(); err != nil {
		return Session{}, err
	}
	return s, nil
}
