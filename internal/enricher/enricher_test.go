package enricher

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ignite/mailmind/internal/domain"
)

const sampleRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel>
<title>Acme Engineering Blog</title>
<item><title>Post one</title><link>https://acme.io/1</link></item>
<item><title>Post two</title><link>https://acme.io/2</link></item>
<item><title>Post three</title><link>https://acme.io/3</link></item>
<item><title>Post four</title><link>https://acme.io/4</link></item>
<item><title>Post five</title><link>https://acme.io/5</link></item>
<item><title>Post six</title><link>https://acme.io/6</link></item>
</channel></rss>`

type recordingWriter struct {
	mu      sync.Mutex
	records map[string]json.RawMessage
	status  map[string]string
}

func newRecordingWriter() *recordingWriter {
	return &recordingWriter{
		records: make(map[string]json.RawMessage),
		status:  make(map[string]string),
	}
}

func (w *recordingWriter) SetEnrichment(ctx context.Context, accountID, email string, record json.RawMessage, status string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.records[email] = record
	w.status[email] = status
	return nil
}

func testEnricher(t *testing.T, handler http.Handler) (*Enricher, *recordingWriter) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	store := newRecordingWriter()
	e := New(store, 2*time.Second)
	e.feedURL = func(dom, path string) string { return srv.URL + path }
	return e, store
}

func TestEnrichStoresFeedRecord(t *testing.T) {
	e, store := testEnricher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/feed" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(sampleRSS))
	}))

	c := domain.Contact{AccountID: "acct-1", Email: "ada@acme.io", Domain: "acme.io"}
	if err := e.Enrich(context.Background(), c); err != nil {
		t.Fatalf("enrich: %v", err)
	}

	if store.status["ada@acme.io"] != domain.EnrichmentDone {
		t.Fatalf("status = %q", store.status["ada@acme.io"])
	}
	var rec Record
	if err := json.Unmarshal(store.records["ada@acme.io"], &rec); err != nil {
		t.Fatalf("unmarshal record: %v", err)
	}
	if rec.FeedTitle != "Acme Engineering Blog" {
		t.Errorf("title = %q", rec.FeedTitle)
	}
	if len(rec.Posts) != 5 {
		t.Errorf("posts = %d, want capped at 5", len(rec.Posts))
	}
}

func TestEnrichFallsBackAcrossFeedPaths(t *testing.T) {
	e, store := testEnricher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/atom.xml" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(sampleRSS))
	}))

	c := domain.Contact{AccountID: "acct-1", Email: "ada@acme.io", Domain: "acme.io"}
	if err := e.Enrich(context.Background(), c); err != nil {
		t.Fatalf("enrich: %v", err)
	}
	if store.status["ada@acme.io"] != domain.EnrichmentDone {
		t.Errorf("status = %q", store.status["ada@acme.io"])
	}
}

func TestEnrichRecordsFailure(t *testing.T) {
	e, store := testEnricher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))

	c := domain.Contact{AccountID: "acct-1", Email: "ada@acme.io", Domain: "acme.io"}
	if err := e.Enrich(context.Background(), c); err != nil {
		t.Fatalf("enrich: %v", err)
	}
	if store.status["ada@acme.io"] != domain.EnrichmentFailed {
		t.Errorf("status = %q", store.status["ada@acme.io"])
	}
	if len(store.records["ada@acme.io"]) != 0 {
		t.Errorf("record = %s, want empty on failure", store.records["ada@acme.io"])
	}
}

func TestEnrichSkipsFreeMailAndEmptyDomains(t *testing.T) {
	store := newRecordingWriter()
	e := New(store, time.Second)
	e.feedURL = func(dom, path string) string {
		t.Fatal("no fetch expected")
		return ""
	}

	for _, c := range []domain.Contact{
		{AccountID: "acct-1", Email: "a@gmail.com", Domain: "gmail.com"},
		{AccountID: "acct-1", Email: "b@nowhere", Domain: ""},
	} {
		if err := e.Enrich(context.Background(), c); err != nil {
			t.Fatalf("enrich %s: %v", c.Email, err)
		}
	}
	if len(store.status) != 0 {
		t.Errorf("writes = %v, want none", store.status)
	}
}
