package netinfo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestPublicIP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("203.0.113.7\n"))
	}))
	defer srv.Close()

	ip, err := NewResolver(srv.URL, time.Second).PublicIP(context.Background())
	if err != nil {
		t.Fatalf("PublicIP failed: %v", err)
	}
	if ip != "203.0.113.7" {
		t.Fatalf("unexpected ip %q", ip)
	}
}

func TestPublicIPRejectsGarbage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>rate limited</html>"))
	}))
	defer srv.Close()

	if _, err := NewResolver(srv.URL, time.Second).PublicIP(context.Background()); err == nil {
		t.Fatalf("expected error for non-ip body")
	}
}

func TestPublicIPErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	if _, err := NewResolver(srv.URL, time.Second).PublicIP(context.Background()); err == nil {
		t.Fatalf("expected error for 503")
	}
}

func TestNewResolverDefaults(t *testing.T) {
	r := NewResolver("", 0)
	if r.URL != DefaultIPURL {
		t.Fatalf("expected default url, got %q", r.URL)
	}
	if r.Client.Timeout != 5*time.Second {
		t.Fatalf("expected default timeout, got %v", r.Client.Timeout)
	}
}

func writeINI(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "server.ini")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write ini: %v", err)
	}
	return path
}

func TestReadGameINIServerSection(t *testing.T) {
	path := writeINI(t, "[General]\nName=test\n\n[Server]\nPort=16261\nMaxPlayers=32\n")

	settings, err := ReadGameINI(path)
	if err != nil {
		t.Fatalf("ReadGameINI failed: %v", err)
	}
	if settings.Port != 16261 || settings.MaxPlayers != 32 {
		t.Fatalf("unexpected settings %+v", settings)
	}
}

func TestReadGameINIFlatFile(t *testing.T) {
	path := writeINI(t, "# comment\nPVP=true\nDefaultPort=27015\nMaxPlayers=16\n")

	settings, err := ReadGameINI(path)
	if err != nil {
		t.Fatalf("ReadGameINI failed: %v", err)
	}
	if settings.Port != 27015 || settings.MaxPlayers != 16 {
		t.Fatalf("unexpected settings %+v", settings)
	}
}

func TestReadGameINIMissingKeys(t *testing.T) {
	path := writeINI(t, "[Server]\nName=test\n")
	if _, err := ReadGameINI(path); err == nil {
		t.Fatalf("expected error when no port or slots are present")
	}
}

func TestReadGameINIMissingFile(t *testing.T) {
	if _, err := ReadGameINI(filepath.Join(t.TempDir(), "absent.ini")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
