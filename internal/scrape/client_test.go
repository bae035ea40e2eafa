package scrape

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	logx "arrismon/pkg/logx"
)

func TestClientFetchesAndParsesStatus(t *testing.T) {
	t.Parallel()

	page := readFixture(t, "status_cgi.html")
	var gotUA atomic.Value

	mux := http.NewServeMux()
	mux.HandleFunc("/cgi-bin/status_cgi", func(w http.ResponseWriter, r *http.Request) {
		gotUA.Store(r.Header.Get("User-Agent"))
		_, _ = w.Write(page)
	})
	// The modem really does serve a self-signed certificate, so the
	// client must tolerate an unverifiable TLS peer.
	srv := httptest.NewTLSServer(mux)
	defer srv.Close()

	c, err := NewClient(Options{BaseURL: srv.URL, Timezone: "UTC"}, logx.Nop())
	if err != nil {
		t.Fatalf("client: %v", err)
	}

	st, err := c.Status(context.Background())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if len(st.DS) != 3 || len(st.DSOFDM) != 1 || len(st.US) != 2 {
		t.Fatalf("unexpected table sizes: ds=%d ofdm=%d us=%d", len(st.DS), len(st.DSOFDM), len(st.US))
	}
	if ua, _ := gotUA.Load().(string); ua != userAgent {
		t.Fatalf("user agent = %q, want %q", ua, userAgent)
	}
}

func TestClientLoginHandshake(t *testing.T) {
	t.Parallel()

	var logins atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/cgi-bin/login_cgi", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("login method = %s, want POST", r.Method)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.PostFormValue("username") != "admin" || r.PostFormValue("password") != "hunter2" {
			t.Errorf("credentials not forwarded: %v", r.PostForm)
		}
		logins.Add(1)
		_, _ = w.Write([]byte(`<html><script>sessionStorage.setItem("csrf_token", 1234567);</script></html>`))
	})
	mux.HandleFunc("/cgi-bin/event_cgi", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(readFixture(t, "event_cgi.html"))
	})
	srv := httptest.NewTLSServer(mux)
	defer srv.Close()

	c, err := NewClient(Options{
		BaseURL:  srv.URL,
		Timezone: "UTC",
		Username: "admin",
		Password: "hunter2",
	}, logx.Nop())
	if err != nil {
		t.Fatalf("client: %v", err)
	}

	events, err := c.Events(context.Background())
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 4 {
		t.Fatalf("events = %d, want 4", len(events))
	}
	if logins.Load() != 1 {
		t.Fatalf("logins = %d, want 1 per fetch", logins.Load())
	}
}

func TestClientLoginWithoutCSRFFails(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/cgi-bin/login_cgi", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>wrong password</html>`))
	})
	srv := httptest.NewTLSServer(mux)
	defer srv.Close()

	c, err := NewClient(Options{
		BaseURL:  srv.URL,
		Timezone: "UTC",
		Username: "admin",
		Password: "wrong",
	}, logx.Nop())
	if err != nil {
		t.Fatalf("client: %v", err)
	}

	if _, err := c.Status(context.Background()); err == nil {
		t.Fatal("expected login failure")
	} else if !strings.Contains(err.Error(), "csrf") {
		t.Fatalf("error %v does not mention the csrf marker", err)
	}
}

func TestClientSurfacesHTTPErrors(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/cgi-bin/status_cgi", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "cgi exploded", http.StatusInternalServerError)
	})
	srv := httptest.NewTLSServer(mux)
	defer srv.Close()

	c, err := NewClient(Options{BaseURL: srv.URL, Timezone: "UTC"}, logx.Nop())
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	if _, err := c.Status(context.Background()); err == nil {
		t.Fatal("expected an error for HTTP 500")
	}
}

func TestClientRejectsBadTimezone(t *testing.T) {
	t.Parallel()

	if _, err := NewClient(Options{Timezone: "Not/AZone"}, logx.Nop()); err == nil {
		t.Fatal("expected an error for an unknown timezone")
	}
}
