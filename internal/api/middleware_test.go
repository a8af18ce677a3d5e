package api

import (
	"bytes"
	"log/slog"
	"net/http"
	"strings"
	"testing"
)

func TestRequestLoggerUsesRoutePattern(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	defer slog.SetDefault(prev)

	h := NewServer(newStubService())
	doRequest(t, h, http.MethodPut, "/api/v1/tabs/7/volume", `{"volume": 150}`)

	logged := buf.String()
	if !strings.Contains(logged, "route=/api/v1/tabs/{tab_id}/volume") {
		t.Fatalf("log line missing route pattern: %s", logged)
	}
	if !strings.Contains(logged, "path=/api/v1/tabs/7/volume") {
		t.Fatalf("log line missing concrete path: %s", logged)
	}
}
