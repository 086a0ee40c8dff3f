package hookserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/agent-command/sessiond/internal/owner"
)

type fakeSink struct {
	mu      sync.Mutex
	started []string
	ended   []string
	notes   []string
}

func (f *fakeSink) TurnStarted(id string) {
	f.mu.Lock()
	f.started = append(f.started, id)
	f.mu.Unlock()
}

func (f *fakeSink) TurnEnded(id string) {
	f.mu.Lock()
	f.ended = append(f.ended, id)
	f.mu.Unlock()
}

func (f *fakeSink) Notify(id, category string) {
	f.mu.Lock()
	f.notes = append(f.notes, id+"/"+category)
	f.mu.Unlock()
}

type fakeChannel struct {
	mu    sync.Mutex
	sends []string
	valid bool
}

func (c *fakeChannel) Send(sessionID, event string, payload any) error {
	c.mu.Lock()
	c.sends = append(c.sends, sessionID+":"+event)
	c.mu.Unlock()
	return nil
}

func (c *fakeChannel) Valid() bool { return c.valid }

func newTestServer(ch owner.Channel) (*Server, *fakeSink, *httptest.Server) {
	sink := &fakeSink{}
	srv := New(sink, func(id string) owner.Channel {
		if id == "known" {
			return ch
		}
		return nil
	})
	ts := httptest.NewServer(srv.Handler())
	return srv, sink, ts
}

func TestBusyAndStopRoutes(t *testing.T) {
	_, sink, ts := newTestServer(nil)
	defer ts.Close()

	for _, route := range []string{"/hook/busy?ptyId=known", "/hook/stop?ptyId=known"} {
		resp, err := http.Get(ts.URL + route)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s: status %d", route, resp.StatusCode)
		}
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.started) != 1 || sink.started[0] != "known" {
		t.Errorf("started = %v", sink.started)
	}
	if len(sink.ended) != 1 || sink.ended[0] != "known" {
		t.Errorf("ended = %v", sink.ended)
	}
}

func TestNotificationEchoesAdditionalContext(t *testing.T) {
	ch := &fakeChannel{valid: true}
	_, sink, ts := newTestServer(ch)
	defer ts.Close()

	body := `{"category": "permission-prompt", "message": "allow rm?", "additionalContext": "user prefers caution"}`
	resp, err := http.Post(ts.URL+"/hook/notification?ptyId=known", "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var echoed map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&echoed); err != nil {
		t.Fatalf("response not JSON: %v", err)
	}
	if echoed["additionalContext"] != "user prefers caution" {
		t.Errorf("additionalContext = %q", echoed["additionalContext"])
	}

	sink.mu.Lock()
	if len(sink.notes) != 1 || sink.notes[0] != "known/permission-prompt" {
		t.Errorf("notes = %v", sink.notes)
	}
	sink.mu.Unlock()

	ch.mu.Lock()
	if len(ch.sends) != 1 || ch.sends[0] != "known:notification" {
		t.Errorf("owner sends = %v", ch.sends)
	}
	ch.mu.Unlock()
}

func TestUnknownSessionAcceptedAndIgnored(t *testing.T) {
	ch := &fakeChannel{valid: true}
	_, _, ts := newTestServer(ch)
	defer ts.Close()

	body := `{"category": "permission-prompt", "message": "hi"}`
	resp, err := http.Post(ts.URL+"/hook/notification?ptyId=ghost", "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("unknown session must return 200, got %d", resp.StatusCode)
	}

	ch.mu.Lock()
	if len(ch.sends) != 0 {
		t.Errorf("no owner send expected, got %v", ch.sends)
	}
	ch.mu.Unlock()
}

func TestInvalidOwnerChannelSkipped(t *testing.T) {
	ch := &fakeChannel{valid: false}
	_, _, ts := newTestServer(ch)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/hook/notification?ptyId=known", "application/json",
		bytes.NewBufferString(`{"category": "idle-prompt"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	ch.mu.Lock()
	if len(ch.sends) != 0 {
		t.Errorf("torn-down channel must not receive sends, got %v", ch.sends)
	}
	ch.mu.Unlock()
}

func TestMuteToggle(t *testing.T) {
	srv, _, ts := newTestServer(nil)
	defer ts.Close()

	if srv.Muted() {
		t.Fatal("server should start unmuted")
	}

	resp, err := http.Post(ts.URL+"/mute", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if !srv.Muted() {
		t.Error("mute route did not mute")
	}

	resp, err = http.Get(ts.URL + "/muted")
	if err != nil {
		t.Fatal(err)
	}
	var state map[string]bool
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if !state["muted"] {
		t.Error("muted query returned false after mute")
	}

	resp, err = http.Post(ts.URL+"/unmute", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if srv.Muted() {
		t.Error("unmute route did not unmute")
	}
}

func TestStartAssignsEphemeralPort(t *testing.T) {
	srv, _, _ := newTestServer(nil)
	if srv.Port() != 0 {
		t.Fatal("port should be 0 before Start")
	}
	if err := srv.Start("127.0.0.1:0"); err != nil {
		t.Fatal(err)
	}
	defer srv.Stop()
	if srv.Port() == 0 {
		t.Error("port should be assigned after Start")
	}
}
