package task

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const fieldsSchema = `{
  "type": "object",
  "properties": {
    "id":          {"type": "string"},
    "title":       {"type": "string"},
    "description": {"type": "string"},
    "type":        {"enum": ["Cron", "Manual"]},
    "schedule":    {"type": "string"},
    "status":      {"enum": ["BACKLOG", "RECURRING", "IN_PROGRESS", "REVIEW"]},
    "priority":    {"enum": ["LOW", "MEDIUM", "HIGH"]},
    "agentId":     {"type": "string"},
    "project":     {"type": "string"},
    "tags":        {"type": "array", "items": {"type": "string"}}
  }
}`

var (
	compileOnce sync.Once
	compiled    *jsonschema.Schema
	compileErr  error
)

func schema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader([]byte(fieldsSchema)))
		if err != nil {
			compileErr = fmt.Errorf("unmarshal task schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource("task.json", doc); err != nil {
			compileErr = fmt.Errorf("add task schema resource: %w", err)
			return
		}
		compiled, compileErr = c.Compile("task.json")
	})
	return compiled, compileErr
}

// FieldsError reports a record whose fields do not describe a task.
type FieldsError struct {
	ID  string
	Err error
}

func (e *FieldsError) Error() string {
	return fmt.Sprintf("record %s is not a valid task: %v", e.ID, e.Err)
}

func (e *FieldsError) Unwrap() error {
	return e.Err
}

// FromFields converts a record's raw field set into a Task. The record ID wins
// over any id field in the payload. Defaults are not applied.
func FromFields(id string, fields map[string]any) (Task, error) {
	s, err := schema()
	if err != nil {
		return Task{}, err
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return Task{}, &FieldsError{ID: id, Err: err}
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return Task{}, &FieldsError{ID: id, Err: err}
	}
	if err := s.Validate(doc); err != nil {
		return Task{}, &FieldsError{ID: id, Err: err}
	}
	var t Task
	if err := json.Unmarshal(raw, &t); err != nil {
		return Task{}, &FieldsError{ID: id, Err: err}
	}
	t.ID = id
	return t, nil
}
