package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jal472/gmail-unsubscriber/internal/gmail"
	"github.com/jal472/gmail-unsubscriber/internal/history"
	"github.com/jal472/gmail-unsubscriber/internal/unsubscribe"
)

func TestConfirm(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{input: "y\n", want: true},
		{input: "YES\n", want: true},
		{input: " yes ", want: true},
		{input: "n\n"},
		{input: "\n"},
		{input: ""},
		{input: "sure\n"},
	}
	for _, tc := range tests {
		var out bytes.Buffer
		got, err := confirm(bufio.NewReader(strings.NewReader(tc.input)), &out, "Continue? ")
		if err != nil {
			t.Fatalf("%q: unexpected error %v", tc.input, err)
		}
		if got != tc.want {
			t.Fatalf("%q: got %v want %v", tc.input, got, tc.want)
		}
		if out.String() != "Continue? " {
			t.Fatalf("prompt not written: %q", out.String())
		}
	}
}

func TestScanMissingCredentials(t *testing.T) {
	var out bytes.Buffer
	cmd := newRootCmd(strings.NewReader(""), &out)
	cmd.SetArgs([]string{"--config", t.TempDir(), "--filter", "unsubscribe"})
	err := cmd.Execute()
	if !errors.Is(err, gmail.ErrFatalConfig) {
		t.Fatalf("expected fatal config error, got %v", err)
	}
}

func TestScanDeclinedConfirmationDoesNothing(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "credentials.json"), []byte("{}"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	var out bytes.Buffer
	cmd := newRootCmd(strings.NewReader("n\n"), &out)
	cmd.SetArgs([]string{"--config", dir})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("declining should not fail: %v", err)
	}
	if !strings.Contains(out.String(), "Aborted.") {
		t.Fatalf("expected abort message, got %q", out.String())
	}
}

func TestPrintReport(t *testing.T) {
	var out bytes.Buffer
	printReport(&out, unsubscribe.Report{Tally: unsubscribe.Tally{MessagesScanned: 3, LinksFound: 1, AttemptsSucceeded: 1}})
	if got := out.String(); got != "Total unsubscribe attempts: 1 out of 3.\n" {
		t.Fatalf("unexpected output %q", got)
	}

	out.Reset()
	printReport(&out, unsubscribe.Report{DryRun: true, Tally: unsubscribe.Tally{MessagesScanned: 5, LinksFound: 2}})
	if got := out.String(); got != "Dry run: 2 unsubscribe links found in 5 messages.\n" {
		t.Fatalf("unexpected output %q", got)
	}
}

func TestUserMessage(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{err: fmt.Errorf("x: %w", gmail.ErrFatalConfig), want: "Missing OAuth client credentials"},
		{err: gmail.AuthError("refresh token", errors.New("invalid_grant")), want: "Authentication failed"},
		{err: fmt.Errorf("run scan: %w", context.Canceled), want: "Interrupted"},
		{err: errors.New("boom"), want: "gmail-unsubscriber failed: boom"},
	}
	for _, tc := range tests {
		if got := userMessage(tc.err); !strings.Contains(got, tc.want) {
			t.Fatalf("userMessage(%v) = %q, want substring %q", tc.err, got, tc.want)
		}
	}
}

func TestHistoryCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	store, err := history.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	ctx := context.Background()
	id, err := store.BeginRun(ctx, "unsubscribe", false, time.Now())
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := store.RecordAttempt(ctx, history.Attempt{
		RunID: id, MessageID: "m1", Href: "https://news.example/u", Tag: "unsubscribe", StatusCode: 200, OK: true, At: time.Now(),
	}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := store.FinishRun(ctx, history.Run{ID: id, FinishedAt: time.Now(), Listed: 1, Scanned: 1, Links: 1, Succeeded: 1}); err != nil {
		t.Fatalf("finish: %v", err)
	}
	store.Close()

	var out bytes.Buffer
	cmd := newRootCmd(strings.NewReader(""), &out)
	cmd.SetArgs([]string{"history", "--history", path, "--limit", "5"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("history: %v", err)
	}
	got := out.String()
	for _, want := range []string{"1 runs, 1 attempts, 1 succeeded", "FILTER", "live", "done", "m1", "https://news.example/u", "ok"} {
		if !strings.Contains(got, want) {
			t.Fatalf("output %q missing %q", got, want)
		}
	}
}

func TestHistoryCommandMissingDatabase(t *testing.T) {
	var out bytes.Buffer
	cmd := newRootCmd(strings.NewReader(""), &out)
	cmd.SetArgs([]string{"history", "--history", filepath.Join(t.TempDir(), "none.db")})
	if err := cmd.Execute(); err == nil {
		t.Fatalf("expected error for missing database")
	}
}

func TestHistoryReadsScanDefaultLedger(t *testing.T) {
	dir := t.TempDir()
	cfg := scanConfig{cfgDir: dir}

	// A scan run with default flags records through openRecorder.
	store, err := openRecorder(cfg)
	if err != nil {
		t.Fatalf("openRecorder: %v", err)
	}
	if store == nil {
		t.Fatalf("recording should be on by default")
	}
	ctx := context.Background()
	id, err := store.BeginRun(ctx, "", true, time.Now())
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := store.RecordAttempt(ctx, history.Attempt{
		RunID: id, MessageID: "m9", Href: "https://shop.example/prefs", Tag: "preference", DryRun: true, At: time.Now(),
	}); err != nil {
		t.Fatalf("record: %v", err)
	}
	store.Close()

	if _, err := os.Stat(filepath.Join(dir, "history.db")); err != nil {
		t.Fatalf("default ledger not under config dir: %v", err)
	}

	var out bytes.Buffer
	cmd := newRootCmd(strings.NewReader(""), &out)
	cmd.SetArgs([]string{"history", "--config", dir})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("history: %v", err)
	}
	got := out.String()
	for _, want := range []string{"1 runs", "(all mail)", "dry-run", "unfinished", "m9", "https://shop.example/prefs"} {
		if !strings.Contains(got, want) {
			t.Fatalf("output %q missing %q", got, want)
		}
	}
}

func TestOpenRecorderDisabled(t *testing.T) {
	dir := t.TempDir()
	store, err := openRecorder(scanConfig{cfgDir: dir, noHistory: true})
	if err != nil {
		t.Fatalf("openRecorder: %v", err)
	}
	if store != nil {
		store.Close()
		t.Fatalf("--no-history should not open a ledger")
	}
	if _, err := os.Stat(filepath.Join(dir, "history.db")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("ledger created despite --no-history: %v", err)
	}
}

func TestHistoryFile(t *testing.T) {
	if got := (scanConfig{cfgDir: "cfg"}).historyFile(); got != filepath.Join("cfg", "history.db") {
		t.Fatalf("default history file = %q", got)
	}
	if got := (scanConfig{cfgDir: "cfg", historyPath: "/tmp/h.db"}).historyFile(); got != "/tmp/h.db" {
		t.Fatalf("explicit history file = %q", got)
	}
}

func TestRunStatus(t *testing.T) {
	now := time.Now()
	tests := []struct {
		run  history.Run
		want string
	}{
		{run: history.Run{}, want: "unfinished"},
		{run: history.Run{FinishedAt: now}, want: "done"},
		{run: history.Run{FinishedAt: now, Error: "run scan: boom"}, want: "failed: run scan: boom"},
	}
	for _, tc := range tests {
		if got := runStatus(tc.run); got != tc.want {
			t.Fatalf("runStatus(%+v) = %q want %q", tc.run, got, tc.want)
		}
	}
}
