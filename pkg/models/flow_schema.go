package models

import "github.com/xeipuuv/gojsonschema"

// flowSchema describes the serialized flow document. Structural invariants
// that need cross-step knowledge (reference resolution, single entry) are
// checked in ParseFlow; the schema only pins down field shapes.
const flowSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["entry", "steps"],
	"properties": {
		"entry": {"type": "string", "minLength": 1},
		"steps": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["id", "kind"],
				"properties": {
					"id": {"type": "string", "minLength": 1},
					"kind": {"enum": ["action", "condition", "wait", "end"]},
					"action": {"type": "string"},
					"condition": {"type": "string"},
					"params": {"type": "object"},
					"mode": {"enum": ["duration", "until"]},
					"duration": {"type": "string"},
					"until": {"type": "string", "format": "date-time"},
					"next": {"type": "string"},
					"on_true": {"type": "string"},
					"on_false": {"type": "string"}
				}
			}
		}
	}
}`

var flowSchemaLoader = gojsonschema.NewStringLoader(flowSchema)
