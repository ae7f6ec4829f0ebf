package script

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"
)

// recordingServer captures every request it receives.
type recordingServer struct {
	*httptest.Server
	mu       sync.Mutex
	requests []recorded
	status   int
}

type recorded struct {
	method string
	path   string
	query  string
	body   string
	header http.Header
}

func newRecordingServer(t *testing.T) *recordingServer {
	t.Helper()
	rs := &recordingServer{status: http.StatusOK}
	rs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body) //nolint:errcheck // test server
		rs.mu.Lock()
		rs.requests = append(rs.requests, recorded{
			method: r.Method,
			path:   r.URL.Path,
			query:  r.URL.RawQuery,
			body:   string(body),
			header: r.Header.Clone(),
		})
		status := rs.status
		rs.mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(rs.Close)
	return rs
}

func (rs *recordingServer) all() []recorded {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return append([]recorded(nil), rs.requests...)
}

func (rs *recordingServer) hostPort(t *testing.T) (string, string) {
	t.Helper()
	u, err := url.Parse(rs.URL)
	if err != nil {
		t.Fatalf("parse server url: %v", err)
	}
	return u.Hostname(), u.Port()
}

// fakeDelayer records scheduled callbacks instead of running them.
type fakeDelayer struct {
	mu        sync.Mutex
	scheduled map[string]func(ctx context.Context)
	at        map[string]time.Time
	cancelled []string
}

func newFakeDelayer() *fakeDelayer {
	return &fakeDelayer{scheduled: make(map[string]func(ctx context.Context)), at: make(map[string]time.Time)}
}

func (f *fakeDelayer) Schedule(key string, at time.Time, fn func(ctx context.Context)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scheduled[key] = fn
	f.at[key] = at
}

func (f *fakeDelayer) Cancel(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.scheduled[key]
	delete(f.scheduled, key)
	f.cancelled = append(f.cancelled, key)
	return ok
}

// fakePublisher records MQTT publishes.
type fakePublisher struct {
	mu       sync.Mutex
	messages []string
	err      error
}

func (p *fakePublisher) Publish(topic string, payload []byte, qos byte, retained bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.messages = append(p.messages, topic+"="+string(payload))
	return nil
}

func newTestRegistry(t *testing.T, deps Deps) *Registry {
	t.Helper()
	r := NewRegistry(deps)
	if err := RegisterBuiltins(r); err != nil {
		t.Fatalf("RegisterBuiltins: %v", err)
	}
	return r
}

func TestRegistry_RegisterResolve(t *testing.T) {
	r := newTestRegistry(t, Deps{})

	if err := r.Register(Descriptor{ID: ClassSmartPlug}, newSmartPlug); !errors.Is(err, ErrDuplicateClass) {
		t.Errorf("duplicate Register error = %v", err)
	}
	if _, err := r.Resolve("teleporter", nil, Binding{}); !errors.Is(err, ErrUnknownClass) {
		t.Errorf("Resolve(unknown) error = %v", err)
	}
	if _, err := r.Resolve(ClassSmartPlug, json.RawMessage(`{}`), Binding{ActionID: "a"}); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Resolve(smart-plug without ip) error = %v", err)
	}
	if _, err := r.Resolve(ClassMQTTPublish, json.RawMessage(`{"topic":"x"}`), Binding{}); err == nil {
		t.Error("mqtt-publish without a publisher should fail to resolve")
	}

	descs := r.Descriptors()
	if len(descs) != 4 {
		t.Fatalf("Descriptors() = %d, want 4", len(descs))
	}
	for i := 1; i < len(descs); i++ {
		if descs[i-1].ID > descs[i].ID {
			t.Errorf("descriptors not sorted: %s before %s", descs[i-1].ID, descs[i].ID)
		}
	}
	if !r.Has(ClassGridRelay) {
		t.Error("Has(grid-relay) = false")
	}
}

func TestSmartPlug(t *testing.T) {
	srv := newRecordingServer(t)
	host, port := srv.hostPort(t)
	delayer := newFakeDelayer()
	r := newTestRegistry(t, Deps{Delayer: delayer})

	cfg := json.RawMessage(`{"ip":"` + host + `","port":` + port + `,"relay":1}`)
	s, err := r.Resolve(ClassSmartPlug, cfg, Binding{ActionID: "act-1", MaximumDuration: time.Minute})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	ctx := context.Background()

	if err := s.Run(ctx, "On"); err != nil {
		t.Fatalf("Run(On): %v", err)
	}
	reqs := srv.all()
	if len(reqs) != 1 || reqs[0].path != "/relay/1" || reqs[0].query != "turn=on" {
		t.Fatalf("requests = %+v", reqs)
	}

	delayer.mu.Lock()
	autoOff, ok := delayer.scheduled["autooff:act-1"]
	delayer.mu.Unlock()
	if !ok {
		t.Fatal("auto-off not scheduled")
	}
	autoOff(ctx)
	if reqs := srv.all(); len(reqs) != 2 || reqs[1].query != "turn=off" {
		t.Errorf("auto-off request = %+v", reqs)
	}

	if err := s.Run(ctx, "Off"); err != nil {
		t.Fatalf("Run(Off): %v", err)
	}
	delayer.mu.Lock()
	cancelled := append([]string(nil), delayer.cancelled...)
	delayer.mu.Unlock()
	if len(cancelled) != 1 || cancelled[0] != "autooff:act-1" {
		t.Errorf("cancelled = %v", cancelled)
	}

	if err := s.Run(ctx, "sideways"); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("Run(sideways) error = %v", err)
	}
}

func TestSmartPlug_HTTPFailure(t *testing.T) {
	srv := newRecordingServer(t)
	srv.mu.Lock()
	srv.status = http.StatusInternalServerError
	srv.mu.Unlock()
	host, port := srv.hostPort(t)
	r := newTestRegistry(t, Deps{})

	s, err := r.Resolve(ClassSmartPlug, json.RawMessage(`{"ip":"`+host+`","port":`+port+`}`), Binding{ActionID: "a"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if err := s.Run(context.Background(), "On"); err == nil || !strings.Contains(err.Error(), "500") {
		t.Errorf("Run() error = %v, want status 500", err)
	}
}

func TestGridRelay(t *testing.T) {
	srv := newRecordingServer(t)
	r := newTestRegistry(t, Deps{})

	s, err := r.Resolve(ClassGridRelay, json.RawMessage(`{"url":"`+srv.URL+`/grid","token":"s3cret"}`), Binding{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	for _, v := range []string{"On", "Off"} {
		if err := s.Run(context.Background(), v); err != nil {
			t.Fatalf("Run(%s): %v", v, err)
		}
	}

	reqs := srv.all()
	if len(reqs) != 2 {
		t.Fatalf("requests = %d, want 2", len(reqs))
	}
	if reqs[0].body != `{"state":"connect"}` || reqs[1].body != `{"state":"disconnect"}` {
		t.Errorf("bodies = %q, %q", reqs[0].body, reqs[1].body)
	}
	if got := reqs[0].header.Get("Authorization"); got != "Bearer s3cret" {
		t.Errorf("Authorization = %q", got)
	}

	if _, err := r.Resolve(ClassGridRelay, json.RawMessage(`{"url":"ftp://x"}`), Binding{}); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Resolve(ftp url) error = %v", err)
	}
}

func TestHTTPPost(t *testing.T) {
	srv := newRecordingServer(t)
	r := newTestRegistry(t, Deps{})

	cfg := json.RawMessage(`{"url":"` + srv.URL + `/hook","headers":{"X-Farm":"north"}}`)
	s, err := r.Resolve(ClassHTTPPost, cfg, Binding{ActionName: "Fan"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if err := s.Run(context.Background(), "42"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	reqs := srv.all()
	if len(reqs) != 1 {
		t.Fatalf("requests = %d", len(reqs))
	}
	var body map[string]string
	if err := json.Unmarshal([]byte(reqs[0].body), &body); err != nil {
		t.Fatalf("body: %v", err)
	}
	if body["value"] != "42" || body["action"] != "Fan" {
		t.Errorf("body = %v", body)
	}
	if reqs[0].header.Get("X-Farm") != "north" {
		t.Error("custom header missing")
	}
}

func TestMQTTPublish(t *testing.T) {
	pub := &fakePublisher{}
	r := newTestRegistry(t, Deps{Publisher: pub})

	s, err := r.Resolve(ClassMQTTPublish, json.RawMessage(`{"topic":"farm/pump/set","qos":0}`), Binding{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if err := s.Run(context.Background(), "On"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(pub.messages) != 1 || pub.messages[0] != "farm/pump/set=On" {
		t.Errorf("messages = %v", pub.messages)
	}

	pub.err = errors.New("not connected")
	if err := s.Run(context.Background(), "Off"); err == nil {
		t.Error("Run() should surface publish errors")
	}

	if _, err := r.Resolve(ClassMQTTPublish, json.RawMessage(`{"topic":"t","qos":3}`), Binding{}); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Resolve(qos 3) error = %v", err)
	}
}

func TestParseSwitch(t *testing.T) {
	tests := []struct {
		in      string
		want    bool
		wantErr bool
	}{
		{"On", true, false},
		{" off ", false, false},
		{"1", true, false},
		{"0", false, false},
		{"connect", true, false},
		{"maybe", false, true},
	}
	for _, tt := range tests {
		got, err := parseSwitch(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("parseSwitch(%q) = %v, %v", tt.in, got, err)
		}
	}
}
