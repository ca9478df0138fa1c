package document

import (
	"bytes"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const schemaURL = "https://schemas.fieldsync.dev/document.json"

// documentSchema describes the current document shape. Legacy payloads do
// not satisfy it; they are repaired by Decode instead.
const documentSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["tasks", "deletedTasks", "requests", "leaves", "amirs", "ustas"],
  "properties": {
    "tasks": {"type": "array", "items": {"$ref": "#/$defs/task"}},
    "deletedTasks": {"type": "array", "items": {"$ref": "#/$defs/task"}},
    "requests": {"type": "array", "items": {"$ref": "#/$defs/materialRequest"}},
    "leaves": {"type": "array", "items": {"$ref": "#/$defs/leaveRequest"}},
    "amirs": {"type": "array", "items": {"$ref": "#/$defs/member"}},
    "ustas": {"type": "array", "items": {"$ref": "#/$defs/member"}},
    "updatedAt": {"type": "number"}
  },
  "$defs": {
    "id": {"type": ["string", "number"]},
    "requestStatus": {"enum": ["PENDING", "APPROVED", "REJECTED"]},
    "member": {
      "type": "object",
      "required": ["name"],
      "properties": {
        "name": {"type": "string", "minLength": 1},
        "password": {"type": "string"},
        "phoneNumber": {"type": "string"},
        "lastActive": {"type": "number"},
        "latitude": {"type": "number"},
        "longitude": {"type": "number"}
      }
    },
    "task": {
      "type": "object",
      "required": ["id", "machineName", "masterName", "status", "priority"],
      "properties": {
        "id": {"$ref": "#/$defs/id"},
        "machineName": {"type": "string"},
        "masterName": {"type": "string"},
        "description": {"type": "string"},
        "status": {"enum": ["PENDING", "IN_PROGRESS", "COMPLETED", "CANCELLED"]},
        "priority": {"enum": ["LOW", "MEDIUM", "HIGH", "CRITICAL"]},
        "createdAt": {"type": "number"},
        "startedAt": {"type": "number"},
        "completedAt": {"type": "number"},
        "seenAt": {"type": "number"},
        "deletedAt": {"type": "number"},
        "comments": {"type": "string"},
        "image": {"type": "string"},
        "completedImage": {"type": "string"}
      }
    },
    "materialRequest": {
      "type": "object",
      "required": ["id", "ustaName", "content", "status"],
      "properties": {
        "id": {"$ref": "#/$defs/id"},
        "ustaName": {"type": "string"},
        "content": {"type": "string"},
        "status": {"$ref": "#/$defs/requestStatus"},
        "createdAt": {"type": "number"}
      }
    },
    "leaveRequest": {
      "type": "object",
      "required": ["id", "ustaName", "startDate", "endDate", "status"],
      "properties": {
        "id": {"$ref": "#/$defs/id"},
        "ustaName": {"type": "string"},
        "startDate": {"type": "string", "pattern": "^\\d{4}-\\d{2}-\\d{2}$"},
        "endDate": {"type": "string", "pattern": "^\\d{4}-\\d{2}-\\d{2}$"},
        "daysCount": {"type": "integer", "minimum": 0},
        "reason": {"type": "string"},
        "status": {"$ref": "#/$defs/requestStatus"},
        "createdAt": {"type": "number"}
      }
    }
  }
}`

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func loadSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		raw, err := jsonschema.UnmarshalJSON(strings.NewReader(documentSchema))
		if err != nil {
			schemaErr = err
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(schemaURL, raw); err != nil {
			schemaErr = err
			return
		}
		compiledSchema, schemaErr = c.Compile(schemaURL)
	})
	return compiledSchema, schemaErr
}

// Validate checks a payload against the current document shape. It is used
// on write surfaces; the read path never rejects, it repairs.
func Validate(data []byte) error {
	sch, err := loadSchema()
	if err != nil {
		return fmt.Errorf("compile document schema: %w", err)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := sch.Validate(inst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}

// Conforms reports whether data already has the current shape.
func Conforms(data []byte) bool {
	return Validate(data) == nil
}
