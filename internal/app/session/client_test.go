package session

import (
	"errors"
	"slices"
	"testing"
	"time"

	"pxplace/internal/app/placement"
	"pxplace/internal/app/user"
)

func TestClient_SendDropsWhenQueueFull(t *testing.T) {
	hub := newTestHub()
	c := newTestClient(hub, hub.Attach(user.Profile{ID: "u-1"}), newRecordingHandler(), "c1")

	for i := 0; i < sendBuffer; i++ {
		if err := c.Send([]byte("frame")); err != nil {
			t.Fatalf("unexpected error on frame %d: %v", i, err)
		}
	}
	if err := c.Send([]byte("frame")); !errors.Is(err, errSendQueueFull) {
		t.Fatalf("expected full queue, got %v", err)
	}
}

func TestClient_DispatchChecksPermissions(t *testing.T) {
	hub := newTestHub()
	handler := newRecordingHandler()
	u := hub.Attach(user.Profile{ID: "u-1", Permissions: []string{PermPlace}})
	c := newTestClient(hub, u, handler, "c1")

	c.processInboundMessage([]byte(`{"type":"place","payload":{"x":1,"y":2,"color":3}}`))
	c.processInboundMessage([]byte(`{"type":"undo"}`))
	c.processInboundMessage([]byte(`{"type":"admin_placement_overrides","payload":{"ignoreCooldown":true}}`))
	c.processInboundMessage([]byte(`{"type":"admin_message","payload":{"username":"bob","message":"hi"}}`))

	if got := handler.names(); !slices.Equal(got, []string{"place"}) {
		t.Fatalf("expected only the permitted place to reach the engine, got %v", got)
	}

	handler.mu.Lock()
	req := handler.calls[0].arg.(placement.PlaceRequest)
	handler.mu.Unlock()
	if req.X != 1 || req.Y != 2 || req.Color != 3 {
		t.Fatalf("unexpected place request %+v", req)
	}
}

func TestClient_DispatchAdminAndSelfBans(t *testing.T) {
	hub := newTestHub()
	handler := newRecordingHandler()
	u := hub.Attach(user.Profile{ID: "u-1", Permissions: []string{PermUndo, PermOverrides, PermAlert}})
	c := newTestClient(hub, u, handler, "c1")

	c.processInboundMessage([]byte(`{"type":"undo"}`))
	c.processInboundMessage([]byte(`{"type":"admin_placement_overrides","payload":{"ignorePlacemap":true}}`))
	c.processInboundMessage([]byte(`{"type":"admin_message","payload":{"username":"bob","message":"hi"}}`))
	c.processInboundMessage([]byte(`{"type":"shadowban_me","payload":{"reason":"macro"}}`))
	c.processInboundMessage([]byte(`{"type":"ban_me","payload":{"reason":"macro"}}`))
	c.processInboundMessage([]byte(`{"type":"nonsense"}`))
	c.processInboundMessage([]byte(`not json`))

	want := []string{"undo", "overrides", "alert", "shadowban_me", "ban_me"}
	if got := handler.names(); !slices.Equal(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}

	handler.mu.Lock()
	patch := handler.calls[1].arg.(user.OverridesPatch)
	handler.mu.Unlock()
	if patch.IgnorePlacemap == nil || !*patch.IgnorePlacemap || patch.IgnoreCooldown != nil {
		t.Fatalf("expected a partial overrides patch, got %+v", patch)
	}
}

func TestClient_CaptchaRunsOffTheReadLoop(t *testing.T) {
	hub := newTestHub()
	handler := newRecordingHandler()
	c := newTestClient(hub, hub.Attach(user.Profile{ID: "u-1"}), handler, "c1")

	c.processInboundMessage([]byte(`{"type":"captcha","payload":{"token":"tok-1"}}`))

	select {
	case token := <-handler.captcha:
		if token != "tok-1" {
			t.Fatalf("unexpected token %q", token)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("captcha verification was not started")
	}
}

func TestClient_CaptchaOneVerificationPerUser(t *testing.T) {
	hub := newTestHub()
	handler := newRecordingHandler()
	handler.release = make(chan struct{})
	u := hub.Attach(user.Profile{ID: "u-1"})
	c := newTestClient(hub, u, handler, "c1")
	other := newTestClient(hub, u, handler, "c2")

	c.processInboundMessage([]byte(`{"type":"captcha","payload":{"token":"tok-1"}}`))
	select {
	case <-handler.captcha:
	case <-time.After(2 * time.Second):
		t.Fatalf("captcha verification was not started")
	}

	c.processInboundMessage([]byte(`{"type":"captcha","payload":{"token":"tok-2"}}`))
	other.processInboundMessage([]byte(`{"type":"captcha","payload":{"token":"tok-3"}}`))
	select {
	case token := <-handler.captcha:
		t.Fatalf("expected %q to be dropped while a verification is in flight", token)
	case <-time.After(100 * time.Millisecond):
	}

	close(handler.release)
	deadline := time.Now().Add(2 * time.Second)
	for !u.TryLockCaptcha() {
		if time.Now().After(deadline) {
			t.Fatalf("expected the captcha slot to be released")
		}
		time.Sleep(5 * time.Millisecond)
	}
	u.UnlockCaptcha()
}
