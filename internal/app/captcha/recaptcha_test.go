package captcha

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newProvider(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.PostForm.Get("secret") != "s3cret" || r.PostForm.Get("response") == "" {
			t.Errorf("unexpected form: %v", r.PostForm)
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestVerifier_Success(t *testing.T) {
	srv := newProvider(t, http.StatusOK, `{"success":true,"hostname":"pxplace.test"}`)

	ok, err := NewVerifier("s3cret", "pxplace.test", srv.URL).Verify(context.Background(), "tok", "10.0.0.1")
	if err != nil || !ok {
		t.Fatalf("expected success, got ok=%v err=%v", ok, err)
	}
}

func TestVerifier_RejectsForeignHostname(t *testing.T) {
	srv := newProvider(t, http.StatusOK, `{"success":true,"hostname":"evil.test"}`)

	ok, err := NewVerifier("s3cret", "pxplace.test", srv.URL).Verify(context.Background(), "tok", "")
	if err != nil || ok {
		t.Fatalf("expected hostname mismatch to fail, got ok=%v err=%v", ok, err)
	}
}

func TestVerifier_ProviderFailure(t *testing.T) {
	srv := newProvider(t, http.StatusBadGateway, `oops`)

	ok, err := NewVerifier("s3cret", "", srv.URL).Verify(context.Background(), "tok", "")
	if err == nil || ok {
		t.Fatalf("expected an error on provider failure, got ok=%v err=%v", ok, err)
	}
}

func TestVerifier_EmptyTokenSkipsProvider(t *testing.T) {
	ok, err := NewVerifier("s3cret", "", "http://127.0.0.1:1").Verify(context.Background(), "", "")
	if err != nil || ok {
		t.Fatalf("expected a plain rejection, got ok=%v err=%v", ok, err)
	}
}
