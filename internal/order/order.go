// Package order inspects the structured order produced by the grounded
// responder. The order itself is never rewritten; inspection only classifies it.
package order

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

type Status string

const (
	StatusComplete Status = "complete"
	StatusPartial  Status = "partial"
	StatusUnknown  Status = "unknown"
)

// RequiredFields are the selections a finalized order must carry.
var RequiredFields = []string{"item", "size", "drink", "payment", "address"}

var ErrNotObject = errors.New("order is not a JSON object")

const schemaJSON = `{
  "type": "object",
  "properties": {
    "item":    {"type": "string", "minLength": 1},
    "size":    {"type": "string", "minLength": 1},
    "drink":   {"type": "string", "minLength": 1},
    "payment": {"type": "string", "minLength": 1},
    "address": {"type": "string", "minLength": 1}
  },
  "required": ["item", "size", "drink", "payment", "address"]
}`

var schema = mustSchema(schemaJSON)

func mustSchema(s string) *gojsonschema.Schema {
	sc, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(s))
	if err != nil {
		panic(fmt.Sprintf("order schema: %v", err))
	}
	return sc
}

// Summary is the classification of one order.
type Summary struct {
	Status  Status         `json:"status"`
	Missing []string       `json:"missing,omitempty"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// Inspect validates raw against the order schema. A nil or null order, or one
// that is not an object, is StatusUnknown; an object failing validation is
// StatusPartial with the offending fields listed in Missing.
func Inspect(raw json.RawMessage) (Summary, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return Summary{Status: StatusUnknown}, nil
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return Summary{Status: StatusUnknown}, ErrNotObject
	}

	res, err := schema.Validate(gojsonschema.NewGoLoader(fields))
	if err != nil {
		return Summary{Status: StatusUnknown, Fields: fields}, fmt.Errorf("validate order: %w", err)
	}
	if res.Valid() {
		return Summary{Status: StatusComplete, Fields: fields}, nil
	}

	seen := map[string]bool{}
	for _, e := range res.Errors() {
		name := e.Field()
		if e.Type() == "required" {
			if p, ok := e.Details()["property"].(string); ok {
				name = p
			}
		}
		if name != "" && name != "(root)" {
			seen[name] = true
		}
	}
	missing := make([]string, 0, len(seen))
	for k := range seen {
		missing = append(missing, k)
	}
	sort.Strings(missing)
	return Summary{Status: StatusPartial, Missing: missing, Fields: fields}, nil
}
