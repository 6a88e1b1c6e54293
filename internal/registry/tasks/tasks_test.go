package tasks

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vektorhq/taskd/internal/registry"
)

func TestBuiltinsAreRegisteredAtInit(t *testing.T) {
	for _, name := range []string{"tasks:noop", "tasks:fail", "tasks:echo", "tasks:check_api_status"} {
		if _, err := registry.Lookup(name); err != nil {
			t.Fatalf("expected %q to be registered at init: %v", name, err)
		}
	}
}

func TestEchoJoinsArgs(t *testing.T) {
	got, err := echo([]any{"hello", "world"}, nil)
	if err != nil {
		t.Fatalf("echo: %v", err)
	}
	if got != "hello world" {
		t.Fatalf("echo() = %q, want %q", got, "hello world")
	}
}

func TestFailUsesReasonKwarg(t *testing.T) {
	_, err := fail(nil, map[string]any{"reason": "boom"})
	if err == nil || err.Error() != "boom" {
		t.Fatalf("fail() error = %v, want %q", err, "boom")
	}
}

func TestFailDefaultReason(t *testing.T) {
	_, err := fail(nil, nil)
	if err == nil {
		t.Fatal("expected fail to always return an error")
	}
}

func TestCheckAPIStatusSucceedsOn2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	got, err := checkAPIStatus(nil, map[string]any{"api_endpoint": srv.URL})
	if err != nil {
		t.Fatalf("checkAPIStatus: %v", err)
	}
	if got != "ok" {
		t.Fatalf("checkAPIStatus() = %v, want %q", got, "ok")
	}
}

func TestCheckAPIStatusFailsOn500(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	if _, err := checkAPIStatus(nil, map[string]any{"api_endpoint": srv.URL}); err == nil {
		t.Fatal("expected an error for a 500 response")
	}
}

func TestCheckAPIStatusRequiresEndpoint(t *testing.T) {
	if _, err := checkAPIStatus(nil, nil); err == nil {
		t.Fatal("expected an error when api_endpoint is missing")
	}
}
