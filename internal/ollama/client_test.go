package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestGenerate_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("expected path /api/generate, got %q", r.URL.Path)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("expected Content-Type application/json, got %q", r.Header.Get("Content-Type"))
		}

		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		if req.Model != "phi" {
			t.Errorf("expected model phi, got %q", req.Model)
		}
		if req.Stream {
			t.Error("expected stream=false")
		}
		if req.Options.Temperature != 0.7 {
			t.Errorf("expected temperature 0.7, got %v", req.Options.Temperature)
		}
		if req.Options.NumPredict != 100 {
			t.Errorf("expected num_predict 100, got %d", req.Options.NumPredict)
		}

		json.NewEncoder(w).Encode(generateResponse{Response: "  Привет!  ", Done: true})
	}))
	defer server.Close()

	c := NewClient(server.URL, "phi")
	got, err := c.Generate(context.Background(), "say hi", Options{Temperature: 0.7, NumPredict: 100})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "Привет!" {
		t.Errorf("expected trimmed response, got %q", got)
	}
}

func TestGenerate_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`model not loaded`))
	}))
	defer server.Close()

	c := NewClient(server.URL, "phi")
	_, err := c.Generate(context.Background(), "hi", Options{})
	if err == nil {
		t.Fatal("expected error for 500 response")
	}

	var se *ServiceError
	if !errors.As(err, &se) {
		t.Fatalf("expected *ServiceError, got %T", err)
	}
	if se.StatusCode != http.StatusInternalServerError {
		t.Errorf("expected status 500, got %d", se.StatusCode)
	}
}

func TestGenerate_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	c := NewClient(server.URL, "phi")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := c.Generate(ctx, "hi", Options{}); err == nil {
		t.Fatal("expected error on timeout")
	}
}

func TestGenerate_BreakerOpensAfterFailures(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	c := NewClient(server.URL, "phi")
	for i := 0; i < 8; i++ {
		_, _ = c.Generate(context.Background(), "hi", Options{})
	}
	if n := calls.Load(); n != 5 {
		t.Errorf("expected breaker to stop calls after 5 failures, got %d calls", n)
	}
}

func TestPing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			t.Errorf("expected path /api/tags, got %q", r.URL.Path)
		}
		w.Write([]byte(`{"models":[{"name":"phi:latest"},{"name":"llama3"}]}`))
	}))
	defer server.Close()

	c := NewClient(server.URL+"/", "phi")
	models, err := c.Ping(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(models) != 2 || models[0] != "phi:latest" {
		t.Errorf("unexpected models: %v", models)
	}
}

func TestPing_Unavailable(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", "phi")
	if _, err := c.Ping(context.Background()); err == nil {
		t.Fatal("expected error for unreachable service")
	}
}
