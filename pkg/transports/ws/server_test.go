package ws

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voxlane/parley/pkg/events"
)

func dialTestServer(t *testing.T, tr *Transport, session string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(tr.handleUpgrade))
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?session=" + session
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func recvInbound(t *testing.T, tr *Transport) Inbound {
	t.Helper()
	select {
	case in := <-tr.Recv():
		return in
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for inbound event")
		return Inbound{}
	}
}

func TestInboundEnvelopeKeepsEventID(t *testing.T) {
	tr := New(Config{})
	client := dialTestServer(t, tr, "sess-1")

	err := client.WriteJSON(events.Envelope{
		Type:    string(events.KindUserStartedSpeaking),
		EventID: "evt-1",
	})
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	in := recvInbound(t, tr)
	if in.SessionID != "sess-1" {
		t.Fatalf("session = %q", in.SessionID)
	}
	if in.Event.Kind() != events.KindUserStartedSpeaking {
		t.Fatalf("kind = %q", in.Event.Kind())
	}
	if in.Event.ID() != "evt-1" {
		t.Fatalf("redelivered identifier must survive decode, got %q", in.Event.ID())
	}
}

func TestSendDeliversSpeakableChunk(t *testing.T) {
	tr := New(Config{})
	client := dialTestServer(t, tr, "sess-1")

	// The read loop registers the connection before the test dial returns,
	// but give the goroutine a moment on slow machines.
	deadline := time.Now().Add(time.Second)
	for {
		if err := tr.Send("sess-1", events.NewSpeakableText("One moment.", events.SourceFiller)); err == nil {
			break
		} else if time.Now().After(deadline) {
			t.Fatalf("send never succeeded: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	var env events.Envelope
	if err := client.ReadJSON(&env); err != nil {
		t.Fatalf("read: %v", err)
	}
	if env.Type != string(events.KindSpeakableText) || env.Text != "One moment." {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	if env.Source != events.SourceFiller {
		t.Fatalf("source = %q", env.Source)
	}
}

func TestDisconnectEmitsPipelineEnd(t *testing.T) {
	tr := New(Config{})
	client := dialTestServer(t, tr, "sess-1")

	_ = client.Close()
	in := recvInbound(t, tr)
	if in.Event.Kind() != events.KindPipelineEnd {
		t.Fatalf("expected pipeline end on disconnect, got %q", in.Event.Kind())
	}
}

func TestBadEnvelopeIsSkipped(t *testing.T) {
	tr := New(Config{})
	client := dialTestServer(t, tr, "sess-1")

	if err := client.WriteJSON(events.Envelope{Type: "bogus"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := client.WriteJSON(events.Envelope{Type: string(events.KindUserStoppedSpeaking)}); err != nil {
		t.Fatalf("write: %v", err)
	}

	in := recvInbound(t, tr)
	if in.Event.Kind() != events.KindUserStoppedSpeaking {
		t.Fatalf("bad envelope must be skipped, got %q", in.Event.Kind())
	}
}

func TestCheckOriginAllowsConfiguredList(t *testing.T) {
	tr := New(Config{AllowedOrigins: []string{"https://app.example.com"}})

	req := httptest.NewRequest(http.MethodGet, "/events", nil)
	req.Header.Set("Origin", "https://app.example.com")
	if !tr.checkOrigin(req) {
		t.Fatalf("configured origin must be allowed")
	}
	req.Header.Set("Origin", "https://evil.example.com")
	if tr.checkOrigin(req) {
		t.Fatalf("unlisted origin must be rejected")
	}
}
