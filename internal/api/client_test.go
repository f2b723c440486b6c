package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestClientSendsBearerTokenAndDecodes(t *testing.T) {
	var gotAuth, gotPath string
	var gotBody QueueTaskRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.Method + " " + r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"taskId":"task-1"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "secret", srv.Client())
	resp, err := client.QueueURL(context.Background(), QueueTaskRequest{URL: "https://example.com"})
	if err != nil {
		t.Fatalf("QueueURL: %v", err)
	}
	if resp.TaskID != "task-1" {
		t.Fatalf("task id = %q", resp.TaskID)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("authorization = %q", gotAuth)
	}
	if gotPath != "POST /api/tasks" || gotBody.URL != "https://example.com" {
		t.Fatalf("unexpected request %s %+v", gotPath, gotBody)
	}
}

func TestClientSurfacesErrorResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"task not found"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "", srv.Client())
	_, err := client.Task(context.Background(), "missing")
	var respErr *ResponseError
	if !errors.As(err, &respErr) {
		t.Fatalf("expected ResponseError, got %v", err)
	}
	if respErr.StatusCode != http.StatusNotFound || respErr.Message != "task not found" {
		t.Fatalf("unexpected error: %+v", respErr)
	}
}

func TestClientEscapesPathAndQuery(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.RequestURI()
		_, _ = w.Write([]byte(`{"tasks":[],"counts":{}}`))
	}))
	defer srv.Close()

	client := NewClient(strings.TrimPrefix(srv.URL, "http://"), "", srv.Client())
	if _, err := client.Tasks(context.Background(), true); err != nil {
		t.Fatalf("Tasks: %v", err)
	}
	if got != "/api/tasks?all=1" {
		t.Fatalf("request uri = %q", got)
	}
	if !strings.HasPrefix(client.BaseURL(), "http://") {
		t.Fatalf("base url = %q", client.BaseURL())
	}
}

func TestClientUnreachableDaemon(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	client := NewClient(addr, "", nil)
	_, err := client.Health(context.Background())
	if !errors.Is(err, ErrDaemonUnavailable) {
		t.Fatalf("expected ErrDaemonUnavailable, got %v", err)
	}
}
