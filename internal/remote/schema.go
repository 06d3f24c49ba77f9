package remote

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

const manifestSchemaJSON = `{
	"type": "object",
	"properties": {
		"totalGamesInLibrary": {"type": ["integer", "null"]},
		"gamesInLibrary": {
			"anyOf": [{"$ref": "#/definitions/entries"}, {"type": "null"}]
		},
		"mediaExistsFor": {
			"anyOf": [{"$ref": "#/definitions/entries"}, {"type": "null"}]
		}
	},
	"definitions": {
		"entries": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["gameId"],
				"properties": {
					"gameId": {"type": "string", "minLength": 1},
					"contentHash": {"type": ["string", "null"]}
				}
			}
		}
	}
}`

var manifestSchema = gojsonschema.NewStringLoader(manifestSchemaJSON)

// validateManifest checks a raw manifest body before it is decoded, so a
// malformed response is rejected as a whole instead of half-applied.
func validateManifest(body []byte) error {
	result, err := gojsonschema.Validate(manifestSchema, gojsonschema.NewBytesLoader(body))
	if err != nil {
		return fmt.Errorf("manifest is not valid json: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("manifest failed schema validation: %s", strings.Join(msgs, "; "))
	}
	return nil
}
