package sentinel

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// recordSchema is the sink's published field contract. Typed string fields
// reject empty values; counts must be non-negative integers. The recognized
// field set is open-ended, so additionalProperties stays true.
const recordSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": [
    "record_id", "timestamp", "host", "os_version", "smart_status",
    "log_window", "top_errors", "severity", "health_label", "reason",
    "gpu_freeze", "gpu_patterns"
  ],
  "properties": {
    "record_id": {"type": "string", "minLength": 1},
    "timestamp": {"type": "string", "minLength": 1},
    "host": {"type": "string", "minLength": 1},
    "os_version": {"type": "string", "minLength": 1},
    "smart_status": {"type": "string", "minLength": 1},
    "log_window": {"type": "string", "enum": ["ok", "timeout"]},
    "top_errors": {"type": "string", "minLength": 1},
    "severity": {"type": "string", "enum": ["healthy", "warning", "critical"]},
    "health_label": {"type": "string", "minLength": 1},
    "reason": {"type": "string", "minLength": 1},
    "gpu_freeze": {"type": "string", "enum": ["yes", "no"]},
    "gpu_patterns": {"type": "string", "minLength": 1},
    "panics_24h": {"type": "integer", "minimum": 0},
    "backup_age_days": {"type": "integer", "minimum": -1},
    "pending_updates": {"type": "integer", "minimum": 0},
    "errors_total": {"type": "integer", "minimum": 0},
    "errors_fault": {"type": "integer", "minimum": 0},
    "errors_recent": {"type": "integer", "minimum": 0},
    "errors_kernel": {"type": "integer", "minimum": 0},
    "errors_graphics": {"type": "integer", "minimum": 0},
    "errors_indexing": {"type": "integer", "minimum": 0},
    "errors_cloudsync": {"type": "integer", "minimum": 0},
    "errors_diskio": {"type": "integer", "minimum": 0},
    "errors_network": {"type": "integer", "minimum": 0},
    "errors_procacct": {"type": "integer", "minimum": 0},
    "errors_power": {"type": "integer", "minimum": 0},
    "idle_seconds": {"type": "integer", "minimum": 0},
    "console_users": {"type": "string", "minLength": 1},
    "gui_apps": {"type": "string", "minLength": 1},
    "vm_processes": {"type": "string", "minLength": 1},
    "hog_processes": {"type": "string", "minLength": 1},
    "run_seconds": {"type": "number", "minimum": 0},
    "raw_payload": {"type": "string", "minLength": 1}
  },
  "additionalProperties": true
}`

// ValidateFields checks one field map against the sink contract before
// submission, so contract drift surfaces locally instead of as a remote
// rejection. schemaPath overrides the built-in contract when set.
func ValidateFields(fields map[string]any, schemaPath string) error {
	schemaLoader := gojsonschema.NewStringLoader(recordSchema)
	if strings.TrimSpace(schemaPath) != "" {
		b, err := os.ReadFile(schemaPath)
		if err != nil {
			return fmt.Errorf("read sink schema %s: %w", schemaPath, err)
		}
		schemaLoader = gojsonschema.NewBytesLoader(b)
	}
	payload, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("marshal record fields: %w", err)
	}
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(payload))
	if err != nil {
		return fmt.Errorf("validate record fields: %w", err)
	}
	if result.Valid() {
		return nil
	}
	issues := result.Errors()
	reasons := make([]string, 0, len(issues))
	for _, issue := range issues {
		reasons = append(reasons, issue.String())
	}
	field := ""
	if len(issues) > 0 {
		field = issues[0].Field()
	}
	return &RejectionError{Field: field, Reason: strings.Join(reasons, "; ")}
}
