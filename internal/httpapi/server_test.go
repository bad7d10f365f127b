package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/you/watchpipe/internal/core"
)

type stubStore struct {
	rows    []core.AnalyzedMessage
	count   int64
	filters Filters
}

func (s *stubStore) CountMessages(_ context.Context, f Filters) (int64, error) {
	s.filters = f
	return s.count, nil
}

func (s *stubStore) ListMessages(_ context.Context, f Filters) ([]core.AnalyzedMessage, error) {
	s.filters = f
	return s.rows, nil
}

func get(s *Server, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	s.Mux().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	s := New(&stubStore{}, nil, nil, Options{})
	rec := get(s, "/healthz")
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("status=%d body=%q", rec.Code, rec.Body.String())
	}
}

func TestMessagesEndpoint(t *testing.T) {
	now := time.Now().UTC()
	store := &stubStore{rows: []core.AnalyzedMessage{analyzedFor(core.MessageSale, "Omega", 0.8, "lyon", now)}}
	s := New(store, nil, nil, Options{})

	rec := get(s, "/messages?type=sale&limit=10")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if store.filters.Limit != 10 || len(store.filters.Types) != 1 {
		t.Fatalf("filters = %+v", store.filters)
	}

	var rows []core.AnalyzedMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &rows); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rows) != 1 || rows[0].Result.Brand == nil || *rows[0].Result.Brand != "Omega" {
		t.Fatalf("rows = %+v", rows)
	}

	if rec := get(s, "/messages?limit=bogus"); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad filter status = %d", rec.Code)
	}
}

func TestMessagesEmptyListIsJSONArray(t *testing.T) {
	s := New(&stubStore{}, nil, nil, Options{})
	rec := get(s, "/messages")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Body.String(); got != "[]\n" {
		t.Fatalf("body = %q, want empty array", got)
	}
}

func TestCountEndpoint(t *testing.T) {
	s := New(&stubStore{count: 42}, nil, nil, Options{})
	rec := get(s, "/count")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp map[string]int64
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["count"] != 42 {
		t.Fatalf("count = %d", resp["count"])
	}
}

func TestStatsEndpoint(t *testing.T) {
	s := New(&stubStore{}, &stubAnalyzer{}, nil, Options{})
	rec := get(s, "/stats")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var snapshot map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &snapshot); err != nil {
		t.Fatalf("decode: %v", err)
	}

	s = New(&stubStore{}, nil, nil, Options{})
	if rec := get(s, "/stats"); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("no analyzer status = %d", rec.Code)
	}
}

func TestBroadcastRespectsFilters(t *testing.T) {
	s := New(&stubStore{}, nil, nil, Options{})

	saleSub := &subscriber{
		ch:        make(chan core.AnalyzedMessage, 1),
		filters:   Filters{Types: []core.MessageType{core.MessageSale}},
		transport: "sse",
	}
	wantedSub := &subscriber{
		ch:        make(chan core.AnalyzedMessage, 1),
		filters:   Filters{Types: []core.MessageType{core.MessageWanted}},
		transport: "sse",
	}
	if !s.addSubscriber(saleSub) || !s.addSubscriber(wantedSub) {
		t.Fatal("addSubscriber failed")
	}

	msg := analyzedFor(core.MessageSale, "Rolex", 0.9, "geneva", time.Now().UTC())
	s.Broadcast(msg)

	select {
	case got := <-saleSub.ch:
		if got.Result.MessageType != core.MessageSale {
			t.Fatalf("got %+v", got.Result)
		}
	default:
		t.Fatal("sale subscriber should have received the message")
	}
	select {
	case <-wantedSub.ch:
		t.Fatal("wanted subscriber should not receive a sale")
	default:
	}
}

func TestBroadcastDropsWhenSubscriberFull(t *testing.T) {
	s := New(&stubStore{}, nil, nil, Options{})
	sub := &subscriber{ch: make(chan core.AnalyzedMessage), transport: "sse"}
	if !s.addSubscriber(sub) {
		t.Fatal("addSubscriber failed")
	}

	done := make(chan struct{})
	go func() {
		s.Broadcast(analyzedFor(core.MessageSale, "", 0.5, "g", time.Now().UTC()))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked on a slow subscriber")
	}
}

func TestShutdownClosesSubscribers(t *testing.T) {
	s := New(&stubStore{}, nil, nil, Options{})
	sub := &subscriber{ch: make(chan core.AnalyzedMessage, 1), transport: "sse"}
	if !s.addSubscriber(sub) {
		t.Fatal("addSubscriber failed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	if _, ok := <-sub.ch; ok {
		t.Fatal("subscriber channel should be closed")
	}
	if s.addSubscriber(&subscriber{ch: make(chan core.AnalyzedMessage)}) {
		t.Fatal("addSubscriber must fail after shutdown")
	}
}
