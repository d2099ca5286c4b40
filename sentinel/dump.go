package sentinel

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// WriteRejectDump stores a payload the sink refused, so the exact offending
// bytes stay available for debugging. The returned path is the file written.
func WriteRejectDump(dir string, recordID string, payload []byte) (string, error) {
	if strings.TrimSpace(dir) == "" {
		return "", fmt.Errorf("reject dir is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	base := "record.json"
	if strings.TrimSpace(recordID) != "" {
		base = fmt.Sprintf("record-%s.json", recordID)
	}
	dstPath := filepath.Join(dir, base)
	if _, err := os.Stat(dstPath); err == nil {
		ext := filepath.Ext(base)
		name := strings.TrimSuffix(base, ext)
		dstPath = filepath.Join(dir, fmt.Sprintf("%s-%d%s", name, time.Now().UnixNano(), ext))
	}
	if err := os.WriteFile(dstPath, payload, 0o644); err != nil {
		return "", err
	}
	return dstPath, nil
}
