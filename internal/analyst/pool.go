package analyst

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/ignite/mailmind/internal/config"
	"github.com/ignite/mailmind/internal/domain"
	"github.com/ignite/mailmind/internal/llm"
	"github.com/ignite/mailmind/internal/pkg/backoff"
	"github.com/ignite/mailmind/internal/pkg/logger"
)

// Progress reports phase-relative completion in [0,1] with a human message.
type Progress func(frac float64, msg string)

// PoolResult carries every analyst's outcome. Findings are grouped per kind
// so the synthesizer can merge them in deterministic kind order.
type PoolResult struct {
	Findings map[domain.AnalystKind][]domain.Finding
	Failures map[domain.AnalystKind]error
}

// Succeeded returns the kinds that produced findings, sorted.
func (r *PoolResult) Succeeded() []domain.AnalystKind {
	kinds := make([]domain.AnalystKind, 0, len(r.Findings))
	for k := range r.Findings {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// FailureSummary renders the failed kinds for the job message, sorted.
func (r *PoolResult) FailureSummary() string {
	if len(r.Failures) == 0 {
		return ""
	}
	kinds := make([]domain.AnalystKind, 0, len(r.Failures))
	for k := range r.Failures {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	out := "analysts failed:"
	for _, k := range kinds {
		out += " " + string(k)
	}
	return out
}

// Pool fans the snapshot out to all analyst kinds concurrently.
type Pool struct {
	analysts []*Analyst
	size     int64
}

// NewPool builds the full fixed analyst set.
func NewPool(client llm.Client, limiter Limiter, llmCfg config.LLMConfig, poolCfg config.PoolConfig) *Pool {
	retry := backoff.LLMCall()
	if poolCfg.RetryMax > 0 {
		retry.MaxAttempts = poolCfg.RetryMax
	}
	kinds := domain.AllAnalystKinds()
	analysts := make([]*Analyst, 0, len(kinds))
	for _, kind := range kinds {
		analysts = append(analysts, NewAnalystWithRetry(kind, client, limiter, llmCfg, retry))
	}
	size := int64(poolCfg.Size)
	if size <= 0 {
		size = int64(len(kinds))
	}
	return &Pool{analysts: analysts, size: size}
}

// Run executes every analyst over the snapshot with bounded parallelism.
// Individual analyst failures are contained in the result; Run only returns
// an error when the whole pool was cancelled.
func (p *Pool) Run(ctx context.Context, snap *domain.OrganizedSnapshot, progress Progress) (*PoolResult, error) {
	if progress == nil {
		progress = func(float64, string) {}
	}

	res := &PoolResult{
		Findings: make(map[domain.AnalystKind][]domain.Finding),
		Failures: make(map[domain.AnalystKind]error),
	}
	var mu sync.Mutex
	done := 0

	sem := semaphore.NewWeighted(p.size)
	g, gctx := errgroup.WithContext(ctx)

	for _, a := range p.analysts {
		a := a
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			// Per-analyst boundary: honor cancellation before spending a call.
			if err := gctx.Err(); err != nil {
				return err
			}

			findings, err := a.Run(gctx, snap)

			mu.Lock()
			if err != nil {
				if domain.KindOf(err) == domain.ErrKindCancelled {
					mu.Unlock()
					return err
				}
				res.Failures[a.Kind] = err
				logger.Warn("analyst failed", "kind", string(a.Kind), "error", err)
			} else {
				res.Findings[a.Kind] = findings
			}
			done++
			frac := float64(done) / float64(len(p.analysts))
			mu.Unlock()

			progress(frac, poolMessage(done, len(p.analysts)))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return res, domain.Errf(domain.ErrKindCancelled, "analyst pool cancelled: %w", err)
	}

	logger.Info("analyst pool finished",
		"succeeded", len(res.Findings), "failed", len(res.Failures))
	return res, nil
}

func poolMessage(done, total int) string {
	return fmt.Sprintf("analysts finished: %d/%d", done, total)
}
