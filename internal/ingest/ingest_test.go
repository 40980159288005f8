package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ignite/mailmind/internal/config"
	"github.com/ignite/mailmind/internal/domain"
)

type fakeSource struct {
	mu       sync.Mutex
	byAddr   map[string][]domain.Message
	inFlight int32
	maxSeen  int32
	failFor  string
	delay    time.Duration
}

func (f *fakeSource) Owner(ctx context.Context) (string, error) { return "owner@example.com", nil }

func (f *fakeSource) ListSent(ctx context.Context, since time.Time, fn func(domain.Message) error) error {
	return nil
}

func (f *fakeSource) ListWith(ctx context.Context, address string, since time.Time, fn func(domain.Message) error) error {
	cur := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		prev := atomic.LoadInt32(&f.maxSeen)
		if cur <= prev || atomic.CompareAndSwapInt32(&f.maxSeen, prev, cur) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if address == f.failFor {
		return errors.New("fetch blew up")
	}
	f.mu.Lock()
	msgs := f.byAddr[address]
	f.mu.Unlock()
	for _, m := range msgs {
		if m.SentAt.Before(since) {
			continue
		}
		if err := fn(m); err != nil {
			return err
		}
	}
	return nil
}

type fakeStore struct {
	mu       sync.Mutex
	messages map[string]domain.Message // keyed by external id
	cursors  map[string]time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{messages: make(map[string]domain.Message), cursors: make(map[string]time.Time)}
}

func (f *fakeStore) UpsertMessage(ctx context.Context, m domain.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.messages[m.ExternalID]; !exists {
		f.messages[m.ExternalID] = m
	}
	return nil
}

func (f *fakeStore) SetIngestCursor(ctx context.Context, accountID, email string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cursors[email] = at
	return nil
}

func contact(email string) domain.Contact {
	return domain.Contact{AccountID: "acct-1", Email: email, TrustTier: domain.TierOne}
}

func msg(id, from string, day int) domain.Message {
	return domain.Message{
		ExternalID: id,
		Sender:     from,
		SentAt:     time.Now().AddDate(0, 0, -day),
	}
}

func TestIngestWritesAndAdvancesCursors(t *testing.T) {
	src := &fakeSource{byAddr: map[string][]domain.Message{
		"alice@example.com": {msg("a1", "alice@example.com", 10), msg("a2", "owner@example.com", 5)},
		"bob@example.com":   {msg("b1", "bob@example.com", 3)},
	}}
	store := newFakeStore()

	ing := New(src, store, config.IngestConfig{WindowDays: 365, Concurrency: 2})
	res, err := ing.Run(context.Background(), "acct-1",
		[]domain.Contact{contact("alice@example.com"), contact("bob@example.com")}, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.MessagesWritten != 3 {
		t.Errorf("messages written = %d, want 3", res.MessagesWritten)
	}
	if res.ContactsProcessed != 2 {
		t.Errorf("contacts = %d, want 2", res.ContactsProcessed)
	}
	if _, ok := store.cursors["alice@example.com"]; !ok {
		t.Error("alice cursor not advanced")
	}
	if store.messages["a1"].AccountID != "acct-1" {
		t.Error("account id not stamped on stored messages")
	}
}

func TestIngestDeduplicatesRepeatRuns(t *testing.T) {
	src := &fakeSource{byAddr: map[string][]domain.Message{
		"alice@example.com": {msg("a1", "alice@example.com", 10)},
	}}
	store := newFakeStore()
	ing := New(src, store, config.IngestConfig{WindowDays: 365, Concurrency: 2})

	for i := 0; i < 2; i++ {
		if _, err := ing.Run(context.Background(), "acct-1",
			[]domain.Contact{contact("alice@example.com")}, nil); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
	if len(store.messages) != 1 {
		t.Errorf("stored %d messages after two runs, want 1", len(store.messages))
	}
}

func TestIngestRespectsConcurrencyLimit(t *testing.T) {
	src := &fakeSource{byAddr: map[string][]domain.Message{}, delay: 20 * time.Millisecond}
	store := newFakeStore()

	var contacts []domain.Contact
	for _, e := range []string{"a@x.com", "b@x.com", "c@x.com", "d@x.com", "e@x.com", "f@x.com"} {
		contacts = append(contacts, contact(e))
	}

	ing := New(src, store, config.IngestConfig{WindowDays: 365, Concurrency: 2})
	if _, err := ing.Run(context.Background(), "acct-1", contacts, nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	if max := atomic.LoadInt32(&src.maxSeen); max > 2 {
		t.Errorf("observed %d concurrent fetches, limit is 2", max)
	}
}

func TestIngestClassifiesExpiredDeadline(t *testing.T) {
	err := classifyIngestErr(fmt.Errorf("contact fetch: %w", context.DeadlineExceeded))
	if domain.KindOf(err) != domain.ErrKindCancelled {
		t.Fatalf("kind = %q, want cancelled", domain.KindOf(err))
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("deadline lost in %v", err)
	}
}

func TestIngestFailureClassified(t *testing.T) {
	src := &fakeSource{
		byAddr:  map[string][]domain.Message{"alice@example.com": {msg("a1", "alice@example.com", 1)}},
		failFor: "bob@example.com",
	}
	store := newFakeStore()

	ing := New(src, store, config.IngestConfig{WindowDays: 365, Concurrency: 1})
	_, err := ing.Run(context.Background(), "acct-1",
		[]domain.Contact{contact("alice@example.com"), contact("bob@example.com")}, nil)
	if domain.KindOf(err) != domain.ErrKindIngestFailure {
		t.Fatalf("kind = %q, want ingest_failure", domain.KindOf(err))
	}
	// Failed contact's cursor must not move.
	if _, ok := store.cursors["bob@example.com"]; ok {
		t.Error("failed contact's cursor advanced")
	}
}

func TestIngestUsesCursorAsWindow(t *testing.T) {
	old := msg("old", "alice@example.com", 100)
	fresh := msg("fresh", "alice@example.com", 1)
	src := &fakeSource{byAddr: map[string][]domain.Message{
		"alice@example.com": {old, fresh},
	}}
	store := newFakeStore()

	cursor := time.Now().AddDate(0, 0, -10)
	c := contact("alice@example.com")
	c.LastIngestedAt = &cursor

	ing := New(src, store, config.IngestConfig{WindowDays: 365, Concurrency: 1})
	res, err := ing.Run(context.Background(), "acct-1", []domain.Contact{c}, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.MessagesWritten != 1 {
		t.Errorf("messages = %d, want only the post-cursor one", res.MessagesWritten)
	}
	if _, ok := store.messages["old"]; ok {
		t.Error("pre-cursor message refetched")
	}
}
