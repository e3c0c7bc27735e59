package logging

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRequestIDFromHeader_Honored(t *testing.T) {
	r := httptest.NewRequest("POST", "/v1/chat/completions", nil)
	r.Header.Set("X-Request-ID", "client-supplied")
	if got := RequestIDFromHeader(r); got != "client-supplied" {
		t.Errorf("RequestIDFromHeader() = %q, want client-supplied", got)
	}
}

func TestRequestIDFromHeader_Generated(t *testing.T) {
	r := httptest.NewRequest("POST", "/v1/messages", nil)
	id := RequestIDFromHeader(r)
	if !strings.HasPrefix(id, "req-") {
		t.Errorf("RequestIDFromHeader() = %q, want req- prefix", id)
	}

	// Verify uniqueness
	if id2 := RequestIDFromHeader(r); id == id2 {
		t.Errorf("RequestIDFromHeader() generated duplicate IDs: %s", id)
	}
}

func TestRequestIDContext(t *testing.T) {
	ctx := context.Background()
	id := "test1234"

	// Without ID
	if got := GetRequestID(ctx); got != "" {
		t.Errorf("GetRequestID(empty context) = %q, want empty string", got)
	}

	// With ID
	ctx = WithRequestID(ctx, id)
	if got := GetRequestID(ctx); got != id {
		t.Errorf("GetRequestID() = %q, want %q", got, id)
	}
}
