package unsubscribe

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestWriteJSON(t *testing.T) {
	t.Chdir(t.TempDir())

	rep := Report{Tally: Tally{MessagesListed: 4, MessagesScanned: 3, LinksFound: 2, AttemptsSucceeded: 1}, Pages: 2}
	if err := WriteJSON(rep, "out/../report.json"); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	b, err := os.ReadFile("report.json")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["messages_scanned"] != float64(3) || got["attempts_succeeded"] != float64(1) || got["pages"] != float64(2) {
		t.Fatalf("unexpected json %s", b)
	}
}

func TestWriteJSONRejectsEscapingPaths(t *testing.T) {
	for _, p := range []string{"", "  ", "../report.json", filepath.Join(string(filepath.Separator), "tmp", "r.json")} {
		if err := WriteJSON(Report{}, p); err == nil {
			t.Fatalf("expected error for %q", p)
		}
	}
}
