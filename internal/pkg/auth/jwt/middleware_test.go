package jwt

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const testSecret = "test-secret"

func signed(t *testing.T, p *Payload, d time.Duration) string {
	t.Helper()

	token, err := GenerateToken(p, testSecret, d)
	if err != nil {
		t.Fatalf("GenerateToken returned error: %v", err)
	}
	return token
}

func TestParseToken_RoundTrip(t *testing.T) {
	token := signed(t, &Payload{ID: "u-1", Name: "alice", Permissions: []string{"board.place"}, Subscribed: true}, time.Minute)

	payload, err := ParseToken(token, testSecret)
	if err != nil {
		t.Fatalf("ParseToken returned error: %v", err)
	}
	if payload.ID != "u-1" || payload.Name != "alice" || !payload.Subscribed {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if len(payload.Permissions) != 1 || payload.Permissions[0] != "board.place" {
		t.Fatalf("unexpected permissions %v", payload.Permissions)
	}
}

func TestParseToken_WrongSecret(t *testing.T) {
	token := signed(t, &Payload{ID: "u-1"}, time.Minute)

	if _, err := ParseToken(token, "other"); err == nil {
		t.Fatalf("expected signature error")
	}
}

func TestParseToken_Expired(t *testing.T) {
	token := signed(t, &Payload{ID: "u-1"}, -time.Minute)

	if _, err := ParseToken(token, testSecret); err == nil {
		t.Fatalf("expected expiry error")
	}
}

func TestRequireIdentity(t *testing.T) {
	var seen *Payload
	h := RequireIdentity(testSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetPayloadFromContext(r)
		w.WriteHeader(http.StatusNoContent)
	}))

	missing := httptest.NewRecorder()
	h.ServeHTTP(missing, httptest.NewRequest(http.MethodGet, "/ws", nil))
	if missing.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", missing.Code)
	}

	token := signed(t, &Payload{ID: "u-2", Name: "bob"}, time.Minute)
	ok := httptest.NewRecorder()
	h.ServeHTTP(ok, httptest.NewRequest(http.MethodGet, "/ws?token="+token, nil))
	if ok.Code != http.StatusNoContent {
		t.Fatalf("expected query token to be accepted, got %d", ok.Code)
	}
	if seen == nil || seen.ID != "u-2" {
		t.Fatalf("expected payload in context, got %+v", seen)
	}

	header := httptest.NewRequest(http.MethodGet, "/api/canvas/info", nil)
	header.Header.Set("Authorization", "Bearer "+token)
	viaHeader := httptest.NewRecorder()
	h.ServeHTTP(viaHeader, header)
	if viaHeader.Code != http.StatusNoContent {
		t.Fatalf("expected bearer token to be accepted, got %d", viaHeader.Code)
	}
}
