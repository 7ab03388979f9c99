// internal/runtime/auth.go
package runtime

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	gc "github.com/jal472/gmail-unsubscriber/internal/gmail"
)

const (
	CredentialsFile = "credentials.json"
	TokenFile       = "token.json"

	// loopback redirect for installed apps; the browser fails to load it and
	// the user pastes the address bar back into the terminal
	redirectURL = "http://127.0.0.1"
)

// Prompter carries the terminal used for the first-run login.
type Prompter struct {
	In  io.Reader
	Out io.Writer
}

// CheckCredentials fails with gc.ErrFatalConfig when the OAuth client file
// is missing from cfgDir.
func CheckCredentials(cfgDir string) error {
	path := filepath.Join(cfgDir, CredentialsFile)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s not found", gc.ErrFatalConfig, path)
		}
		return fmt.Errorf("%w: %w", gc.ErrFatalConfig, err)
	}
	return nil
}

// NewSession returns an HTTP client authorized for read-only Gmail access.
// The cached token is refreshed here, once, so the scan itself never
// triggers a refresh. A missing token starts an interactive login on p.
func NewSession(ctx context.Context, cfgDir string, p Prompter) (*http.Client, error) {
	if err := CheckCredentials(cfgDir); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(filepath.Join(cfgDir, CredentialsFile))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", gc.ErrFatalConfig, err)
	}
	cfg, err := google.ConfigFromJSON(b, gmail.GmailReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("%w: parse oauth config: %w", gc.ErrFatalConfig, err)
	}
	cfg.RedirectURL = redirectURL

	tokPath := filepath.Join(cfgDir, TokenFile)
	tok, err := readToken(tokPath)
	if err != nil {
		if tok, err = loginInteractive(ctx, cfg, p); err != nil {
			return nil, gc.AuthError("login", err)
		}
	}

	fresh, err := cfg.TokenSource(ctx, tok).Token()
	if err != nil {
		return nil, gc.AuthError("refresh token", err)
	}
	if fresh.AccessToken != tok.AccessToken || fresh.RefreshToken != tok.RefreshToken {
		if err := saveToken(tokPath, fresh); err != nil {
			return nil, fmt.Errorf("save token: %w", err)
		}
	}
	return oauth2.NewClient(ctx, cfg.TokenSource(ctx, fresh)), nil
}

// NewGmailClient builds the Gmail adapter on top of NewSession.
func NewGmailClient(ctx context.Context, cfgDir string, p Prompter) (gc.Client, error) {
	httpClient, err := NewSession(ctx, cfgDir, p)
	if err != nil {
		return nil, err
	}
	svc, err := gmail.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}
	return NewGoogleAPIClient(svc), nil
}

func loginInteractive(ctx context.Context, cfg *oauth2.Config, p Prompter) (*oauth2.Token, error) {
	if p.In == nil || p.Out == nil {
		return nil, errors.New("no cached token and no terminal for login")
	}
	authURL := cfg.AuthCodeURL("state-token", oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	fmt.Fprintln(p.Out, "Open this URL in your browser to authorize gmail-unsubscriber:")
	fmt.Fprintln(p.Out, authURL)
	fmt.Fprintln(p.Out, "")
	fmt.Fprintln(p.Out, "Paste the AUTH CODE itself or the FULL redirect URL here, then press Enter.")
	fmt.Fprint(p.Out, "> ")

	sc := bufio.NewScanner(p.In)
	sc.Buffer(make([]byte, 0, 1024), 1024*1024)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("read auth code: %w", err)
		}
		return nil, errors.New("empty authorization code")
	}
	code, err := parseAuthInput(sc.Text())
	if err != nil {
		return nil, err
	}
	tok, err := cfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("token exchange: %w", err)
	}
	return tok, nil
}

// parseAuthInput accepts either a bare code or the redirect URL carrying it.
func parseAuthInput(input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", errors.New("empty authorization code")
	}
	if !strings.HasPrefix(input, "http://") && !strings.HasPrefix(input, "https://") {
		return input, nil
	}
	u, err := url.Parse(input)
	if err != nil {
		return "", fmt.Errorf("parse redirect URL: %w", err)
	}
	code := strings.TrimSpace(u.Query().Get("code"))
	if code == "" {
		return "", errors.New("no 'code' parameter found in pasted URL")
	}
	return code, nil
}

func readToken(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var tok oauth2.Token
	if err := json.NewDecoder(f).Decode(&tok); err != nil {
		return nil, err
	}
	return &tok, nil
}

func saveToken(path string, tok *oauth2.Token) error {
	tmp := path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(tok); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// NewLogger returns the stderr text logger; verbose enables debug output.
func NewLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
