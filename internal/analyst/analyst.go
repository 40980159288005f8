// Package analyst runs the fixed set of specialized LLM analysts over an
// organized snapshot. Analysts are independent, rate limited per kind, and
// individually expendable: a failed analyst degrades the tree, it never
// blocks it.
package analyst

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ignite/mailmind/internal/config"
	"github.com/ignite/mailmind/internal/domain"
	"github.com/ignite/mailmind/internal/llm"
	"github.com/ignite/mailmind/internal/pkg/backoff"
	"github.com/ignite/mailmind/internal/pkg/logger"
)

// rateLimitWait bounds how long a single attempt may stay parked on
// throttled responses before the rate limit becomes the attempt's error.
const rateLimitWait = 5 * time.Minute

// Analyst is one specialized role bound to a shared LLM client.
type Analyst struct {
	Kind    domain.AnalystKind
	client  llm.Client
	limiter Limiter
	cfg     config.LLMConfig
	retry   backoff.Policy

	parkBudget time.Duration
}

// NewAnalyst builds one analyst with the standard LLM retry schedule.
func NewAnalyst(kind domain.AnalystKind, client llm.Client, limiter Limiter, cfg config.LLMConfig) *Analyst {
	return NewAnalystWithRetry(kind, client, limiter, cfg, backoff.LLMCall())
}

// NewAnalystWithRetry overrides the retry schedule; the pool uses this to
// honor the configured attempt cap.
func NewAnalystWithRetry(kind domain.AnalystKind, client llm.Client, limiter Limiter, cfg config.LLMConfig, retry backoff.Policy) *Analyst {
	return &Analyst{
		Kind:       kind,
		client:     client,
		limiter:    limiter,
		cfg:        cfg,
		retry:      retry,
		parkBudget: rateLimitWait,
	}
}

type findingJSON struct {
	Category   string   `json:"category"`
	TopicID    string   `json:"topic_id"`
	Content    string   `json:"content"`
	Confidence float64  `json:"confidence"`
	Evidence   []string `json:"evidence"`
}

// Run produces this analyst's findings over the snapshot. A schema failure
// triggers exactly one re-ask; a second failure yields an empty finding set
// and a nil error because schema drift is not worth failing the tree over.
func (a *Analyst) Run(ctx context.Context, snap *domain.OrganizedSnapshot) ([]domain.Finding, error) {
	system, err := renderSystem(a.Kind)
	if err != nil {
		return nil, err
	}
	prompt, err := renderPrompt(snap, a.cfg.MaxInputTokens)
	if err != nil {
		return nil, err
	}

	text, err := a.complete(ctx, system, prompt)
	if err != nil {
		return nil, err
	}

	findings, parseErr := a.parseFindings(text, snap)
	if parseErr == nil {
		return findings, nil
	}

	logger.Warn("analyst response failed schema, re-asking", "kind", string(a.Kind), "error", parseErr)
	reask := prompt + "\n\nYour previous response was not valid JSON. Return only the JSON array, with no surrounding text."
	text, err = a.complete(ctx, system, reask)
	if err != nil {
		return nil, err
	}
	findings, parseErr = a.parseFindings(text, snap)
	if parseErr != nil {
		logger.Warn("analyst schema failure after re-ask, returning empty set",
			"kind", string(a.Kind), "error", parseErr)
		return []domain.Finding{}, nil
	}
	return findings, nil
}

// complete performs one rate-limited, retried LLM call. Rate-limit waits
// park on the limiter and are not counted against retry attempts; only
// transport errors spend the schedule.
func (a *Analyst) complete(ctx context.Context, system, prompt string) (string, error) {
	var text string
	err := backoff.Retry(ctx, a.retry, func() error {
		parkDeadline := time.Now().Add(a.parkBudget)
		for {
			if err := a.limiter.Acquire(ctx, a.Kind); err != nil {
				return &backoff.Permanent{Err: err}
			}

			callCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout())
			resp, err := a.client.Complete(callCtx, llm.Request{
				System:      system,
				Prompt:      prompt,
				Temperature: a.cfg.Temperature,
				MaxTokens:   a.cfg.MaxOutputTokens,
			})
			cancel()
			if err != nil {
				if errors.Is(err, llm.ErrRateLimited) && time.Now().Before(parkDeadline) {
					// Park on the limiter and go again without spending
					// an attempt.
					continue
				}
				if errors.Is(err, llm.ErrRateLimited) {
					return &backoff.Permanent{Err: err}
				}
				return err
			}
			text = resp.Text
			return nil
		}
	})
	if err != nil {
		return "", classifyLLMErr(a.Kind, err)
	}
	return text, nil
}

// parseFindings decodes the model's JSON, tolerating markdown code fences,
// and applies the schema: known category, non-empty content, clamped
// confidence, evidence restricted to snapshot message ids.
func (a *Analyst) parseFindings(text string, snap *domain.OrganizedSnapshot) ([]domain.Finding, error) {
	cleaned := stripCodeFence(text)

	var raw []findingJSON
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return nil, fmt.Errorf("not a JSON finding array: %w", err)
	}

	known := snap.MessageIDSet()
	topicIDs := make(map[string]bool, len(snap.Topics))
	for _, t := range snap.Topics {
		topicIDs[t.ID] = true
	}

	findings := make([]domain.Finding, 0, len(raw))
	for _, f := range raw {
		if strings.TrimSpace(f.Content) == "" {
			continue
		}
		if !validCategory(a.Kind, f.Category) {
			return nil, fmt.Errorf("unknown category %q for %s", f.Category, a.Kind)
		}
		if f.Confidence < 0 {
			f.Confidence = 0
		}
		if f.Confidence > 1 {
			f.Confidence = 1
		}
		var evidence []string
		for _, id := range f.Evidence {
			if known[id] {
				evidence = append(evidence, id)
			}
		}
		topicID := f.TopicID
		if topicID != "" && !topicIDs[topicID] {
			topicID = ""
		}
		findings = append(findings, domain.Finding{
			AnalystKind: a.Kind,
			Category:    f.Category,
			TopicID:     topicID,
			Content:     strings.TrimSpace(f.Content),
			Confidence:  f.Confidence,
			Evidence:    evidence,
		})
	}
	return findings, nil
}

// stripCodeFence removes a surrounding markdown code fence if present.
func stripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}

func classifyLLMErr(kind domain.AnalystKind, err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return domain.Errf(domain.ErrKindCancelled, "%s analyst cancelled: %w", kind, err)
	case domain.KindOf(err) != "":
		return err
	case errors.Is(err, llm.ErrRateLimited):
		return domain.Errf(domain.ErrKindLLMRateLimited, "%s analyst: %w", kind, err)
	case errors.Is(err, llm.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return domain.Errf(domain.ErrKindLLMTransport, "%s analyst timeout: %w", kind, err)
	default:
		return domain.Errf(domain.ErrKindLLMTransport, "%s analyst: %w", kind, err)
	}
}
