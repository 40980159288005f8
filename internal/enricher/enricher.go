// Package enricher adds optional public context to contacts by reading the
// RSS/Atom feed of the contact's domain. Enrichment is strictly best-effort:
// a failure marks the contact and never fails the pipeline.
package enricher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/ignite/mailmind/internal/domain"
	"github.com/ignite/mailmind/internal/pkg/logger"
)

// freeMailDomains are consumer providers with no company feed worth reading.
var freeMailDomains = map[string]bool{
	"gmail.com":      true,
	"googlemail.com": true,
	"yahoo.com":      true,
	"hotmail.com":    true,
	"outlook.com":    true,
	"icloud.com":     true,
	"aol.com":        true,
	"protonmail.com": true,
	"proton.me":      true,
}

// Record is the enrichment payload stored on a contact.
type Record struct {
	FeedTitle string     `json:"feed_title,omitempty"`
	Posts     []FeedPost `json:"posts,omitempty"`
	FetchedAt time.Time  `json:"fetched_at"`
}

// FeedPost is one recent item from the domain's feed.
type FeedPost struct {
	Title       string     `json:"title"`
	Link        string     `json:"link,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

// ContactWriter is the slice of the store the enricher needs.
type ContactWriter interface {
	SetEnrichment(ctx context.Context, accountID, email string, record json.RawMessage, status string) error
}

// Enricher fetches domain feeds for contacts.
type Enricher struct {
	store    ContactWriter
	parser   *gofeed.Parser
	timeout  time.Duration
	maxPosts int
	feedURL  func(dom, path string) string
}

// New builds an Enricher.
func New(store ContactWriter, timeout time.Duration) *Enricher {
	return &Enricher{
		store:    store,
		parser:   gofeed.NewParser(),
		timeout:  timeout,
		maxPosts: 5,
		feedURL: func(dom, path string) string {
			return "https://" + dom + path
		},
	}
}

// Enrich attempts feed enrichment for one contact. Errors are recorded on the
// contact row and swallowed; the returned error is only ever a store failure.
func (e *Enricher) Enrich(ctx context.Context, c domain.Contact) error {
	if c.Domain == "" || freeMailDomains[c.Domain] {
		return nil
	}

	record, err := e.fetchFeed(ctx, c.Domain)
	if err != nil {
		logger.Debug("enrichment failed", "domain", c.Domain, "error", err)
		return e.store.SetEnrichment(ctx, c.AccountID, c.Email, nil, domain.EnrichmentFailed)
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return e.store.SetEnrichment(ctx, c.AccountID, c.Email, nil, domain.EnrichmentFailed)
	}
	return e.store.SetEnrichment(ctx, c.AccountID, c.Email, payload, domain.EnrichmentDone)
}

// fetchFeed tries the conventional feed paths for a domain in order.
func (e *Enricher) fetchFeed(ctx context.Context, dom string) (*Record, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var lastErr error
	for _, path := range []string{"/feed", "/rss", "/blog/feed", "/atom.xml"} {
		feed, err := e.parser.ParseURLWithContext(e.feedURL(dom, path), fetchCtx)
		if err != nil {
			lastErr = err
			continue
		}
		return feedRecord(feed, e.maxPosts), nil
	}
	return nil, fmt.Errorf("no feed found for %s: %w", dom, lastErr)
}

func feedRecord(feed *gofeed.Feed, maxPosts int) *Record {
	rec := &Record{
		FeedTitle: feed.Title,
		FetchedAt: time.Now().UTC(),
	}
	for i, item := range feed.Items {
		if i >= maxPosts {
			break
		}
		rec.Posts = append(rec.Posts, FeedPost{
			Title:       item.Title,
			Link:        item.Link,
			PublishedAt: item.PublishedParsed,
		})
	}
	return rec
}
