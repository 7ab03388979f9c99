package dispatch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAttemptStatusClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		wantOK bool
	}{
		{name: "ok", status: http.StatusOK, wantOK: true},
		{name: "no content", status: http.StatusNoContent},
		{name: "not found", status: http.StatusNotFound},
		{name: "server error", status: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			out := New(srv.Client()).Attempt(context.Background(), srv.URL+"/unsub?id=1")
			if out.Err != nil {
				t.Fatalf("unexpected transport error: %v", out.Err)
			}
			if out.StatusCode != tc.status {
				t.Fatalf("status = %d, want %d", out.StatusCode, tc.status)
			}
			if out.OK() != tc.wantOK {
				t.Fatalf("OK() = %v, want %v", out.OK(), tc.wantOK)
			}
		})
	}
}

func TestAttemptSendsPlainGet(t *testing.T) {
	var (
		method string
		auth   string
		path   string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		auth = r.Header.Get("Authorization")
		path = r.URL.RequestURI()
	}))
	defer srv.Close()

	out := New(srv.Client()).Attempt(context.Background(), srv.URL+"/u?list=news")
	if !out.OK() {
		t.Fatalf("expected success, got %+v", out)
	}
	if method != http.MethodGet || auth != "" || path != "/u?list=news" {
		t.Fatalf("unexpected request: %s %s auth=%q", method, path, auth)
	}
}

func TestAttemptRedirectWithoutFollowIsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/elsewhere", http.StatusFound)
	}))
	defer srv.Close()

	client := srv.Client()
	client.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	out := New(client).Attempt(context.Background(), srv.URL)
	if out.OK() || out.StatusCode != http.StatusFound {
		t.Fatalf("302 must not count as success: %+v", out)
	}
}

func TestAttemptFollowsRedirectToOK(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/done", http.StatusFound)
	})
	mux.HandleFunc("/done", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("you are unsubscribed"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	if out := New(srv.Client()).Attempt(context.Background(), srv.URL+"/start"); !out.OK() {
		t.Fatalf("expected redirect to be followed to 200, got %+v", out)
	}
}

func TestAttemptTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	out := New(nil).Attempt(context.Background(), url)
	if out.Err == nil || out.OK() {
		t.Fatalf("expected transport failure, got %+v", out)
	}
}

func TestAttemptInvalidLink(t *testing.T) {
	out := New(nil).Attempt(context.Background(), "://bad")
	if out.Err == nil || out.OK() {
		t.Fatalf("expected error for malformed link, got %+v", out)
	}
}

func TestAttemptIgnoresCanceledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if out := New(srv.Client()).Attempt(ctx, srv.URL); !out.OK() {
		t.Fatalf("in-flight attempt should not observe cancellation: %+v", out)
	}
}
