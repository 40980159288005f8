// Package ingest pulls full correspondence for trusted contacts into the
// message store. Fetches run concurrently per contact but writes are
// idempotent, so a crashed or stopped run can simply be re-run.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ignite/mailmind/internal/config"
	"github.com/ignite/mailmind/internal/domain"
	"github.com/ignite/mailmind/internal/mailsource"
	"github.com/ignite/mailmind/internal/pkg/logger"
)

// Progress reports phase-relative completion in [0,1] with a human message.
type Progress func(frac float64, msg string)

// Store is the slice of persistence the ingester needs.
type Store interface {
	UpsertMessage(ctx context.Context, m domain.Message) error
	SetIngestCursor(ctx context.Context, accountID, email string, at time.Time) error
}

// Result summarizes one ingest run.
type Result struct {
	ContactsProcessed int
	MessagesWritten   int
	LastContact       string // last fully ingested contact, for resume cursors
}

// Ingester fetches trusted-contact correspondence.
type Ingester struct {
	source mailsource.Source
	store  Store
	cfg    config.IngestConfig
}

// New builds an Ingester.
func New(source mailsource.Source, store Store, cfg config.IngestConfig) *Ingester {
	return &Ingester{source: source, store: store, cfg: cfg}
}

// Run ingests correspondence for the given contacts. Per-contact fetches run
// on a bounded worker group; a contact's cursor only advances after all of
// its messages are stored, so partial contacts are re-fetched next run.
func (ing *Ingester) Run(ctx context.Context, accountID string, contacts []domain.Contact, progress Progress) (*Result, error) {
	if progress == nil {
		progress = func(float64, string) {}
	}
	if len(contacts) == 0 {
		progress(1, "no trusted contacts to ingest")
		return &Result{}, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ing.cfg.Concurrency)

	var mu sync.Mutex
	res := &Result{}
	done := 0

	for _, c := range contacts {
		c := c
		g.Go(func() error {
			written, err := ing.ingestContact(gctx, accountID, c)
			if err != nil {
				return err
			}
			mu.Lock()
			res.ContactsProcessed++
			res.MessagesWritten += written
			res.LastContact = c.Email
			done++
			frac := float64(done) / float64(len(contacts))
			mu.Unlock()
			progress(frac, fmt.Sprintf("ingested %d/%d contacts", done, len(contacts)))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return res, classifyIngestErr(err)
	}

	logger.Info("message ingest finished",
		"account_id", accountID,
		"contacts", res.ContactsProcessed,
		"messages", res.MessagesWritten)
	return res, nil
}

func (ing *Ingester) ingestContact(ctx context.Context, accountID string, c domain.Contact) (int, error) {
	since := time.Now().AddDate(0, 0, -ing.cfg.WindowDays)
	if c.LastIngestedAt != nil && c.LastIngestedAt.After(since) {
		since = *c.LastIngestedAt
	}

	written := 0
	var newest time.Time
	err := ing.source.ListWith(ctx, c.Email, since, func(m domain.Message) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		m.AccountID = accountID
		if err := ing.store.UpsertMessage(ctx, m); err != nil {
			return fmt.Errorf("store message: %w", err)
		}
		written++
		if m.SentAt.After(newest) {
			newest = m.SentAt
		}
		return nil
	})
	if err != nil {
		return written, fmt.Errorf("contact %s: %w", logger.MaskAddress(c.Email), err)
	}

	if !newest.IsZero() {
		if err := ing.store.SetIngestCursor(ctx, accountID, c.Email, newest); err != nil {
			return written, fmt.Errorf("advance cursor: %w", err)
		}
	}
	return written, nil
}

func classifyIngestErr(err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return domain.Errf(domain.ErrKindCancelled, "ingest cancelled: %w", err)
	case errors.Is(err, mailsource.ErrAuthMissing):
		return domain.Errf(domain.ErrKindAuthMissing, "mail source auth: %w", err)
	case domain.KindOf(err) != "":
		return err
	default:
		return domain.Errf(domain.ErrKindIngestFailure, "ingest: %w", err)
	}
}
