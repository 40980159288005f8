// Package pipeline chains the full intelligence run: contact extraction,
// message ingest, relationship analysis, topic organization, the analyst
// pool, and tree synthesis, all under one supervised job per account.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/mailmind/internal/analyst"
	"github.com/ignite/mailmind/internal/analyzer"
	"github.com/ignite/mailmind/internal/config"
	"github.com/ignite/mailmind/internal/domain"
	"github.com/ignite/mailmind/internal/extractor"
	"github.com/ignite/mailmind/internal/ingest"
	"github.com/ignite/mailmind/internal/organizer"
	"github.com/ignite/mailmind/internal/pkg/distlock"
	"github.com/ignite/mailmind/internal/pkg/logger"
	"github.com/ignite/mailmind/internal/store/postgres"
	"github.com/ignite/mailmind/internal/supervisor"
)

// lockTTL bounds how long a crashed process can hold an account hostage.
const lockTTL = time.Hour

// Store is the slice of persistence the orchestrator itself reads and writes.
// The stages carry their own narrower store interfaces.
type Store interface {
	ListContacts(ctx context.Context, accountID string, f postgres.ContactFilter) ([]domain.Contact, error)
	GetMessages(ctx context.Context, accountID string, f postgres.MessageFilter) ([]domain.Message, error)
	GetLatestSnapshot(ctx context.Context, accountID string) (*domain.OrganizedSnapshot, error)
	GetLatestTree(ctx context.Context, accountID string) (*domain.KnowledgeTree, error)
	PutSnapshot(ctx context.Context, snap *domain.OrganizedSnapshot, retain int) error
	WithSnapshot(ctx context.Context, snap *domain.OrganizedSnapshot, tree *domain.KnowledgeTree) error
}

// ContactExtractor discovers trusted contacts from sent mail.
type ContactExtractor interface {
	Run(ctx context.Context, accountID string, progress extractor.Progress) (int, error)
}

// MessageIngester pulls full correspondence for trusted contacts.
type MessageIngester interface {
	Run(ctx context.Context, accountID string, contacts []domain.Contact, progress ingest.Progress) (*ingest.Result, error)
}

// RelationshipAnalyzer classifies every contact from its message timeline.
type RelationshipAnalyzer interface {
	Run(ctx context.Context, accountID string, contacts []domain.Contact, progress analyzer.Progress) error
}

// SnapshotBuilder organizes messages into a topic snapshot.
type SnapshotBuilder interface {
	Build(accountID string, msgs []domain.Message, contacts []domain.Contact) *domain.OrganizedSnapshot
}

// AnalystPool fans a snapshot out to the analyst set.
type AnalystPool interface {
	Run(ctx context.Context, snap *domain.OrganizedSnapshot, progress analyst.Progress) (*analyst.PoolResult, error)
}

// TreeBuilder folds analyst findings into a knowledge tree.
type TreeBuilder interface {
	Build(accountID string, snap *domain.OrganizedSnapshot,
		findings map[domain.AnalystKind][]domain.Finding, prevVersion int) *domain.KnowledgeTree
}

// ContactEnricher optionally attaches public-feed context to contacts.
type ContactEnricher interface {
	Enrich(ctx context.Context, c domain.Contact) error
}

// Archiver optionally ships snapshots and trees to cold storage. Archive
// failures never fail the job.
type Archiver interface {
	ArchiveSnapshot(ctx context.Context, snap *domain.OrganizedSnapshot) error
	ArchiveTree(ctx context.Context, tree *domain.KnowledgeTree) error
}

// Locker serializes pipeline runs per account.
type Locker interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// LockFactory mints a lock for an account.
type LockFactory func(accountID string) Locker

// NewRedisLockFactory builds per-account locks over Redis.
func NewRedisLockFactory(client *redis.Client) LockFactory {
	return func(accountID string) Locker {
		return distlock.New(client, "pipeline:"+accountID, lockTTL)
	}
}

type nopLock struct{}

func (nopLock) Acquire(context.Context) (bool, error) { return true, nil }
func (nopLock) Release(context.Context) error         { return nil }

// Deps wires the orchestrator. Enricher, Archiver, and Locks are optional.
type Deps struct {
	Store     Store
	Super     *supervisor.Supervisor
	Extractor ContactExtractor
	Ingester  MessageIngester
	Analyzer  RelationshipAnalyzer
	Organizer SnapshotBuilder
	Pool      AnalystPool
	Synth     TreeBuilder
	Enricher  ContactEnricher
	Archiver  Archiver
	Locks     LockFactory
	Config    *config.Config
}

// Pipeline runs the full intelligence flow for one account at a time.
type Pipeline struct {
	deps Deps
}

// New builds a Pipeline. A nil LockFactory disables cross-process locking.
func New(deps Deps) *Pipeline {
	if deps.Locks == nil {
		deps.Locks = func(string) Locker { return nopLock{} }
	}
	return &Pipeline{deps: deps}
}

// partialResult is the intermediate output attached to the job as phases
// finish, so a stopped or failed run still reports what it accomplished.
type partialResult struct {
	ContactsDiscovered int    `json:"contacts_discovered,omitempty"`
	ContactsIngested   int    `json:"contacts_ingested,omitempty"`
	MessagesWritten    int    `json:"messages_written,omitempty"`
	Topics             int    `json:"topics,omitempty"`
	TreeVersion        int    `json:"tree_version,omitempty"`
	TreeID             string `json:"tree_id,omitempty"`
}

// Run launches a supervised pipeline job for the account. At most one job
// runs per account; a second Run while one is in flight fails immediately.
func (p *Pipeline) Run(ctx context.Context, accountID string, force bool) (*domain.Job, error) {
	lock := p.deps.Locks(accountID)
	ok, err := lock.Acquire(ctx)
	if err != nil {
		return nil, domain.Errf(domain.ErrKindStoreConflict, "acquire pipeline lock: %w", err)
	}
	if !ok {
		return nil, domain.Errf(domain.ErrKindStoreConflict, "pipeline already running for account")
	}

	job, err := p.deps.Super.Start(ctx, accountID, domain.JobKindPipeline, func(runCtx context.Context, rep *supervisor.Reporter) error {
		defer func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := lock.Release(releaseCtx); err != nil {
				logger.Warn("pipeline lock release failed", "account_id", accountID, "error", err)
			}
		}()
		return p.run(runCtx, rep, accountID, force)
	})
	if err != nil {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		lock.Release(releaseCtx)
		return nil, err
	}
	return job, nil
}

func (p *Pipeline) run(ctx context.Context, rep *supervisor.Reporter, accountID string, force bool) error {
	partial := partialResult{}

	// Phase 1a: contact extraction.
	phaseCtx, cancel := rep.StartPhase(ctx, domain.PhaseExtract)
	discovered, err := p.deps.Extractor.Run(phaseCtx, accountID, extractor.Progress(rep.Progress))
	cancel()
	if err != nil {
		return interrupted(ctx, err)
	}
	partial.ContactsDiscovered = discovered
	rep.SetPartialResult(partial)

	// Phase 1b: message ingest for tier-1 and tier-2 contacts.
	trusted, err := p.deps.Store.ListContacts(ctx, accountID, postgres.ContactFilter{
		Tiers: []domain.TrustTier{domain.TierOne, domain.TierTwo},
	})
	if err != nil {
		return domain.Errf(domain.ErrKindStoreConflict, "list trusted contacts: %w", err)
	}

	phaseCtx, cancel = rep.StartPhase(ctx, domain.PhaseIngest)
	ingested, err := p.deps.Ingester.Run(phaseCtx, accountID, trusted, ingest.Progress(rep.Progress))
	cancel()
	if ingested != nil {
		partial.ContactsIngested = ingested.ContactsProcessed
		partial.MessagesWritten = ingested.MessagesWritten
		rep.SetPartialResult(partial)
		if ingested.LastContact != "" {
			rep.SetResume(domain.ResumeInfo{
				CanResume: true,
				NextStep:  domain.PhaseIngest,
				Cursor:    ingested.LastContact,
			})
		}
	}
	if err != nil {
		return interrupted(ctx, err)
	}
	rep.ClearResume() // ingest finished; later phases restart cleanly

	// Phase 1c: relationship analysis over every known contact.
	contacts, err := p.deps.Store.ListContacts(ctx, accountID, postgres.ContactFilter{})
	if err != nil {
		return domain.Errf(domain.ErrKindStoreConflict, "list contacts: %w", err)
	}

	phaseCtx, cancel = rep.StartPhase(ctx, domain.PhaseAnalyze)
	err = p.deps.Analyzer.Run(phaseCtx, accountID, contacts, analyzer.Progress(rep.Progress))
	cancel()
	if err != nil {
		return interrupted(ctx, err)
	}
	p.enrichContacts(ctx, contacts)

	// Phase 1d: organize into a topic snapshot, then decide whether the
	// downstream analysis is worth re-running.
	msgs, err := p.deps.Store.GetMessages(ctx, accountID, postgres.MessageFilter{})
	if err != nil {
		return domain.Errf(domain.ErrKindStoreConflict, "load messages: %w", err)
	}
	contacts, err = p.deps.Store.ListContacts(ctx, accountID, postgres.ContactFilter{})
	if err != nil {
		return domain.Errf(domain.ErrKindStoreConflict, "list contacts: %w", err)
	}

	prev, err := p.deps.Store.GetLatestSnapshot(ctx, accountID)
	if err != nil && !errors.Is(err, postgres.ErrNotFound) {
		return domain.Errf(domain.ErrKindStoreConflict, "load previous snapshot: %w", err)
	}
	prevTree, err := p.deps.Store.GetLatestTree(ctx, accountID)
	if err != nil && !errors.Is(err, postgres.ErrNotFound) {
		return domain.Errf(domain.ErrKindStoreConflict, "load previous tree: %w", err)
	}

	phaseCtx, cancel = rep.StartPhase(ctx, domain.PhaseOrganize)
	snap := p.deps.Organizer.Build(accountID, msgs, contacts)
	cancel()
	if err := ctx.Err(); err != nil {
		return interrupted(ctx, err)
	}

	if err := p.deps.Store.PutSnapshot(ctx, snap, p.deps.Config.Organizer.RetainSnapshots); err != nil {
		return domain.Errf(domain.ErrKindStoreConflict, "persist snapshot: %w", err)
	}
	partial.Topics = len(snap.Topics)
	rep.SetPartialResult(partial)
	p.archiveSnapshot(ctx, snap)

	decision := organizer.Decide(prev, snap, prevTree != nil, force, p.deps.Config.Rebuild)
	if !decision.Rebuild {
		rep.Message(decision.Reason)
		logger.Info("tree rebuild skipped", "account_id", accountID, "reason", decision.Reason)
		return nil
	}

	// Phase 2a: analyst pool. Individual analyst failures are contained; the
	// run only aborts when every analyst failed or the pool was cancelled.
	phaseCtx, cancel = rep.StartPhase(ctx, domain.PhaseAnalysts)
	poolRes, err := p.deps.Pool.Run(phaseCtx, snap, analyst.Progress(rep.Progress))
	cancel()
	if err != nil {
		return interrupted(ctx, err)
	}
	if len(poolRes.Findings) == 0 && len(poolRes.Failures) > 0 {
		return domain.Errf(domain.ErrKindLLMTransport, "all analysts failed: %s", poolRes.FailureSummary())
	}

	// Phase 2b: synthesize and persist atomically with the snapshot.
	phaseCtx, cancel = rep.StartPhase(ctx, domain.PhaseSynthesize)
	cancel()
	prevVersion := 0
	if prevTree != nil {
		prevVersion = prevTree.Version
	}
	tree := p.deps.Synth.Build(accountID, snap, poolRes.Findings, prevVersion)
	if err := ctx.Err(); err != nil {
		return interrupted(ctx, err)
	}

	if err := p.deps.Store.WithSnapshot(ctx, snap, tree); err != nil {
		return domain.Errf(domain.ErrKindStoreConflict, "persist tree: %w", err)
	}
	partial.TreeVersion = tree.Version
	partial.TreeID = tree.ID
	rep.SetPartialResult(partial)
	p.archiveTree(ctx, tree)
	p.deps.Super.PublishTreeUpdated(ctx, accountID, tree.ID)

	msg := fmt.Sprintf("knowledge tree v%d built from %d topics", tree.Version, len(snap.Topics))
	if summary := poolRes.FailureSummary(); summary != "" {
		msg += "; " + summary
	}
	rep.Progress(1, msg)
	return nil
}

// enrichContacts attaches feed context to tier-1 contacts. Best effort.
func (p *Pipeline) enrichContacts(ctx context.Context, contacts []domain.Contact) {
	if p.deps.Enricher == nil {
		return
	}
	for _, c := range contacts {
		if c.TrustTier != domain.TierOne {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		if err := p.deps.Enricher.Enrich(ctx, c); err != nil {
			logger.Warn("contact enrichment failed",
				"email", logger.MaskAddress(c.Email), "error", err)
		}
	}
}

func (p *Pipeline) archiveSnapshot(ctx context.Context, snap *domain.OrganizedSnapshot) {
	if p.deps.Archiver == nil {
		return
	}
	if err := p.deps.Archiver.ArchiveSnapshot(ctx, snap); err != nil {
		logger.Warn("snapshot archive failed", "snapshot_id", snap.ID, "error", err)
	}
}

func (p *Pipeline) archiveTree(ctx context.Context, tree *domain.KnowledgeTree) {
	if p.deps.Archiver == nil {
		return
	}
	if err := p.deps.Archiver.ArchiveTree(ctx, tree); err != nil {
		logger.Warn("tree archive failed", "tree_id", tree.ID, "error", err)
	}
}

// interrupted folds a stage error with the run context: a cancelled run
// (stop request) reports as cancelled even when the stage error raced it.
func interrupted(ctx context.Context, err error) error {
	if ctx.Err() != nil && domain.KindOf(err) == "" {
		return domain.Errf(domain.ErrKindCancelled, "pipeline interrupted: %w", err)
	}
	return err
}
