// Package extractor discovers trusted contacts from the account's sent mail.
// Sent mail is the trust signal: an address the owner writes to repeatedly is
// worth ingesting, regardless of how much inbound noise it generates.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ignite/mailmind/internal/config"
	"github.com/ignite/mailmind/internal/domain"
	"github.com/ignite/mailmind/internal/mailsource"
	"github.com/ignite/mailmind/internal/pkg/logger"
)

// Progress reports phase-relative completion in [0,1] with a human message.
type Progress func(frac float64, msg string)

// ContactStore is the slice of the store the extractor writes to.
type ContactStore interface {
	UpsertContact(ctx context.Context, c domain.Contact) error
	CountInboundFrom(ctx context.Context, accountID, address string) (int, error)
}

// Extractor scans sent mail and tiers the recipients.
type Extractor struct {
	source mailsource.Source
	store  ContactStore
	cfg    config.ExtractorConfig
}

// New builds an Extractor.
func New(source mailsource.Source, store ContactStore, cfg config.ExtractorConfig) *Extractor {
	return &Extractor{source: source, store: store, cfg: cfg}
}

type tally struct {
	count     int
	firstSeen time.Time
	lastSeen  time.Time
}

// Run scans the lookback window and upserts one contact per distinct
// recipient. It returns the number of contacts written.
func (e *Extractor) Run(ctx context.Context, accountID string, progress Progress) (int, error) {
	if progress == nil {
		progress = func(float64, string) {}
	}

	owner, err := e.source.Owner(ctx)
	if err != nil {
		return 0, classifySourceErr(err)
	}

	since := time.Now().AddDate(0, 0, -e.cfg.LookbackDays)
	tallies := make(map[string]*tally)
	scanned := 0

	err = e.source.ListSent(ctx, since, func(m domain.Message) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		scanned++
		for _, addr := range m.Recipients() {
			if addr == owner || skipAddress(addr) {
				continue
			}
			t := tallies[addr]
			if t == nil {
				t = &tally{firstSeen: m.SentAt, lastSeen: m.SentAt}
				tallies[addr] = t
			}
			t.count++
			if m.SentAt.Before(t.firstSeen) {
				t.firstSeen = m.SentAt
			}
			if m.SentAt.After(t.lastSeen) {
				t.lastSeen = m.SentAt
			}
		}
		if scanned%e.cfg.CheckpointEvery == 0 {
			// Total is unknown mid-stream; approach 0.6 asymptotically.
			frac := 0.6 * (1 - 1/(1+float64(scanned)/1000))
			progress(frac, scanMessage(scanned, len(tallies)))
		}
		return nil
	})
	if err != nil {
		return 0, classifySourceErr(err)
	}
	progress(0.6, scanMessage(scanned, len(tallies)))

	// Deterministic write order keeps checkpoints and logs stable across runs.
	addrs := make([]string, 0, len(tallies))
	for addr := range tallies {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)

	written := 0
	for i, addr := range addrs {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		t := tallies[addr]
		tier, err := e.tierFor(ctx, accountID, addr, t.count)
		if err != nil {
			return written, err
		}
		c := domain.Contact{
			AccountID:     accountID,
			Email:         addr,
			Domain:        domain.AddressDomain(addr),
			FirstSeen:     t.firstSeen,
			LastSeen:      t.lastSeen,
			OutboundCount: t.count,
			TrustTier:     tier,
		}
		if err := e.store.UpsertContact(ctx, c); err != nil {
			return written, domain.Errf(domain.ErrKindStoreConflict, "upsert contact: %w", err)
		}
		written++
		if (i+1)%e.cfg.CheckpointEvery == 0 {
			progress(0.6+0.4*float64(i+1)/float64(len(addrs)), scanMessage(scanned, written))
		}
	}

	logger.Info("contact extraction finished",
		"account_id", accountID, "messages_scanned", scanned, "contacts", written)
	progress(1, scanMessage(scanned, written))
	return written, nil
}

// tierFor assigns a trust tier. Tier1 requires both repeated outbound mail
// and at least one stored inbound reply; without a reply the contact stays
// tier2 until ingest proves the correspondence is two-way.
func (e *Extractor) tierFor(ctx context.Context, accountID, addr string, outbound int) (domain.TrustTier, error) {
	if outbound < e.cfg.Tier1Threshold {
		return domain.TierThree, nil
	}
	inbound, err := e.store.CountInboundFrom(ctx, accountID, addr)
	if err != nil {
		return "", domain.Errf(domain.ErrKindStoreConflict, "count inbound: %w", err)
	}
	if inbound > 0 {
		return domain.TierOne, nil
	}
	return domain.TierTwo, nil
}

func skipAddress(addr string) bool {
	local := addr
	if i := strings.Index(addr, "@"); i > 0 {
		local = addr[:i]
	}
	local = strings.ReplaceAll(local, "-", "")
	local = strings.ReplaceAll(local, "_", "")
	local = strings.ReplaceAll(local, ".", "")
	switch {
	case strings.Contains(local, "noreply"), strings.Contains(local, "donotreply"),
		strings.HasPrefix(local, "notifications"), strings.HasPrefix(local, "mailerdaemon"):
		return true
	}
	return false
}

func scanMessage(scanned, contacts int) string {
	return fmt.Sprintf("scanned %d sent messages, %d contacts", scanned, contacts)
}

func classifySourceErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// A phase deadline also lands here; the supervisor tells the two
		// apart when it settles the job.
		return domain.Errf(domain.ErrKindCancelled, "extraction cancelled: %w", err)
	case errors.Is(err, mailsource.ErrAuthMissing):
		return domain.Errf(domain.ErrKindAuthMissing, "mail source auth: %w", err)
	case domain.KindOf(err) != "":
		return err
	default:
		return domain.Errf(domain.ErrKindMailUnavailable, "mail source: %w", err)
	}
}
