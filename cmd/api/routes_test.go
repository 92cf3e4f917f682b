package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://agents.example.com/"})

	cases := map[string]bool{
		"":                           true,
		"https://agents.example.com": true,
		"https://AGENTS.example.com": true,
		"https://evil.example.com":   false,
		"http://agents.example.com":  false,
		"not a url":                  false,
	}
	for origin, want := range cases {
		r := httptest.NewRequest(http.MethodGet, "/v1/realtime", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		if got := check(r); got != want {
			t.Fatalf("origin %q: expected %v, got %v", origin, want, got)
		}
	}

	open := originChecker(nil)
	r := httptest.NewRequest(http.MethodGet, "/v1/realtime", nil)
	r.Header.Set("Origin", "https://anything.example")
	if !open(r) {
		t.Fatalf("expected every origin allowed without a list")
	}
}

func TestHealthHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)

	serve := func(checks map[string]healthCheck) int {
		r := gin.New()
		r.GET("/healthz", healthHandler(checks))
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		return w.Code
	}

	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("connection refused") }

	if code := serve(nil); code != http.StatusOK {
		t.Fatalf("no checks: expected 200, got %d", code)
	}
	if code := serve(map[string]healthCheck{"postgres": ok}); code != http.StatusOK {
		t.Fatalf("healthy: expected 200, got %d", code)
	}
	if code := serve(map[string]healthCheck{"postgres": ok, "redis": down}); code != http.StatusServiceUnavailable {
		t.Fatalf("degraded: expected 503, got %d", code)
	}
}
