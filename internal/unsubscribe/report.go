package unsubscribe

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// WriteJSON serializes the report to path, which must stay inside the
// working directory.
func WriteJSON(rep Report, path string) error {
	clean := strings.TrimSpace(path)
	if clean == "" {
		return fmt.Errorf("path must not be empty")
	}
	clean = filepath.Clean(clean)
	if filepath.IsAbs(clean) {
		return fmt.Errorf("output path must be relative, got %s", clean)
	}
	if strings.HasPrefix(clean, "..") {
		return fmt.Errorf("output path %s escapes working directory", clean)
	}
	wd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("determine working directory: %w", err)
	}
	abs := filepath.Join(wd, clean)
	f, err := os.OpenFile(abs, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600) // #nosec G304
	if err != nil {
		return fmt.Errorf("create %s: %w", abs, err)
	}
	defer func() { _ = f.Close() }()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rep); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return nil
}
