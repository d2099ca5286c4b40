package sentinel

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateFields_AcceptsAssembledRecord(t *testing.T) {
	require.NoError(t, ValidateFields(sampleRecord().Fields(), ""))
}

func TestValidateFields_AcceptsDegradedRecord(t *testing.T) {
	r := sampleRecord()
	r.WindowOK = false
	r.Summary = LogSummary{Available: false, TopMessages: "log unavailable (window timed out)"}
	r.RecentOK = false
	r.Hardware.PendingUpdates = -1
	r.Hardware.BackupAgeDays = -1
	r.Activity.IdleSeconds = -1
	require.NoError(t, ValidateFields(r.Fields(), ""))
}

func TestValidateFields_RejectsEmptyString(t *testing.T) {
	f := sampleRecord().Fields()
	f["host"] = ""

	err := ValidateFields(f, "")
	var rej *RejectionError
	require.ErrorAs(t, err, &rej)
	require.Equal(t, "host", rej.Field)
}

func TestValidateFields_RejectsMissingRequired(t *testing.T) {
	f := sampleRecord().Fields()
	delete(f, "severity")

	var rej *RejectionError
	require.ErrorAs(t, ValidateFields(f, ""), &rej)
}

func TestValidateFields_RejectsNonIntegerCount(t *testing.T) {
	f := sampleRecord().Fields()
	f["errors_total"] = 1.5

	var rej *RejectionError
	require.ErrorAs(t, ValidateFields(f, ""), &rej)

	f["errors_total"] = -4
	require.ErrorAs(t, ValidateFields(f, ""), &rej)
}

func TestValidateFields_RejectsBadEnum(t *testing.T) {
	f := sampleRecord().Fields()
	f["severity"] = "catastrophic"

	var rej *RejectionError
	require.ErrorAs(t, ValidateFields(f, ""), &rej)
}

func TestValidateFields_SchemaFileOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sink.schema.json")
	schema := `{"type":"object","required":["extra_field"],"properties":{"extra_field":{"type":"string"}}}`
	require.NoError(t, os.WriteFile(path, []byte(schema), 0o644))

	f := sampleRecord().Fields()
	var rej *RejectionError
	require.ErrorAs(t, ValidateFields(f, path), &rej)

	f["extra_field"] = "present"
	require.NoError(t, ValidateFields(f, path))
}

func TestValidateFields_MissingSchemaFile(t *testing.T) {
	err := ValidateFields(sampleRecord().Fields(), filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
	var rej *RejectionError
	require.False(t, errors.As(err, &rej), "unreadable schema is an operational error, not a rejection")
}
