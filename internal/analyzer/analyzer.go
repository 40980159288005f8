// Package analyzer classifies the true state of each relationship from
// observed reply behavior. Frequency alone lies: a dozen unanswered messages
// to a famous VC is an attempt, not a relationship. Classification is pure
// over its inputs and fully reproducible.
package analyzer

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ignite/mailmind/internal/config"
	"github.com/ignite/mailmind/internal/domain"
	"github.com/ignite/mailmind/internal/pkg/logger"
)

// Features are the deterministic inputs to classification, derived from the
// contact's full message timeline.
type Features struct {
	OutboundCount      int
	InboundCount       int
	ReplyRatio         float64
	MedianReplyLatency time.Duration
	FirstOutboundAt    time.Time
	FirstInboundAt     time.Time
	LastActivityAt     time.Time
	DormantGap         time.Duration
	ReplyQuality       domain.ReplyQuality
}

// Verdict is the analyzer's output for one contact.
type Verdict struct {
	Status          domain.RelationshipStatus
	EngagementScore float64
	Features        Features
}

// autoMarkers flag auto-responder replies in subject or body.
var autoMarkers = []string{
	"out of office",
	"auto-reply",
	"autoreply",
	"automatic reply",
	"do not reply",
	"on vacation",
	"away from my desk",
}

// ExtractFeatures derives the classification inputs from a contact's message
// timeline. Messages must all touch the contact; order does not matter.
func ExtractFeatures(now time.Time, contactEmail string, msgs []domain.Message, cfg config.AnalyzerConfig) Features {
	contactEmail = domain.NormalizeAddress(contactEmail)
	var f Features

	sorted := make([]domain.Message, len(msgs))
	copy(sorted, msgs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].SentAt.Before(sorted[j].SentAt) })

	f.ReplyQuality = domain.ReplyNone
	bestQuality := 0

	for _, m := range sorted {
		switch {
		case m.Direction == domain.DirectionOutbound:
			f.OutboundCount++
			if f.FirstOutboundAt.IsZero() {
				f.FirstOutboundAt = m.SentAt
			}
		case m.Direction == domain.DirectionInbound && domain.NormalizeAddress(m.Sender) == contactEmail:
			f.InboundCount++
			if f.FirstInboundAt.IsZero() {
				f.FirstInboundAt = m.SentAt
			}
			if q := gradeReply(m, cfg.SubstantiveChars); qualityRank(q) > bestQuality {
				bestQuality = qualityRank(q)
				f.ReplyQuality = q
			}
		default:
			continue
		}
		if m.SentAt.After(f.LastActivityAt) {
			f.LastActivityAt = m.SentAt
		}
	}

	switch {
	case f.OutboundCount > 0:
		f.ReplyRatio = float64(f.InboundCount) / float64(f.OutboundCount)
	case f.InboundCount > 0:
		f.ReplyRatio = 1
	}
	if !f.LastActivityAt.IsZero() {
		f.DormantGap = now.Sub(f.LastActivityAt)
	}
	f.MedianReplyLatency = medianReplyLatency(sorted, contactEmail)
	return f
}

// Classify assigns a relationship status. The dormancy check runs first:
// a correspondence that used to be live and has gone quiet stays dormant no
// matter how strong its historical reply pattern looks.
func Classify(f Features, prior domain.RelationshipStatus, cfg config.AnalyzerConfig) domain.RelationshipStatus {
	dormantAfter := time.Duration(cfg.DormantDays) * 24 * time.Hour
	ongoingWithin := time.Duration(cfg.OngoingDays) * 24 * time.Hour
	attemptedAfter := time.Duration(cfg.AttemptedDays) * 24 * time.Hour

	if (prior == domain.StatusEstablished || prior == domain.StatusOngoing) && f.DormantGap >= dormantAfter {
		return domain.StatusDormant
	}
	if f.InboundCount >= 1 && f.ReplyQuality == domain.ReplySubstantive && f.ReplyRatio >= cfg.EstablishedRatio {
		return domain.StatusEstablished
	}
	if f.InboundCount >= 2 && f.DormantGap <= ongoingWithin {
		return domain.StatusOngoing
	}
	noRealReply := f.InboundCount == 0 ||
		f.ReplyQuality == domain.ReplyNone || f.ReplyQuality == domain.ReplyAuto
	if f.OutboundCount >= 1 && noRealReply && f.DormantGap >= attemptedAfter {
		return domain.StatusAttempted
	}
	return domain.StatusCold
}

// Score computes the engagement score in [0,1]. Recency only counts when the
// contact has actually replied; the owner's own sending cadence must not
// manufacture engagement.
func Score(f Features) float64 {
	quality := map[domain.ReplyQuality]float64{
		domain.ReplySubstantive: 1.0,
		domain.ReplyBrief:       0.5,
		domain.ReplyAuto:        0.1,
		domain.ReplyNone:        0,
	}[f.ReplyQuality]

	recency := 0.0
	if f.InboundCount > 0 {
		recency = 1 - f.DormantGap.Hours()/(365*24)
		if recency < 0 {
			recency = 0
		}
	}

	ratio := f.ReplyRatio
	if ratio > 1 {
		ratio = 1
	}
	volume := float64(f.OutboundCount+f.InboundCount) / 20
	if volume > 1 {
		volume = 1
	}

	score := 0.4*ratio + 0.3*quality + 0.2*recency + 0.1*volume
	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}
	return score
}

// Analyze runs feature extraction, classification, and scoring for one contact.
func Analyze(now time.Time, c domain.Contact, msgs []domain.Message, cfg config.AnalyzerConfig) Verdict {
	f := ExtractFeatures(now, c.Email, msgs, cfg)
	return Verdict{
		Status:          Classify(f, c.Status, cfg),
		EngagementScore: Score(f),
		Features:        f,
	}
}

func gradeReply(m domain.Message, substantiveChars int) domain.ReplyQuality {
	text := strings.ToLower(m.Subject + " " + m.Body)
	for _, marker := range autoMarkers {
		if strings.Contains(text, marker) {
			return domain.ReplyAuto
		}
	}
	if len(strings.TrimSpace(m.Body)) >= substantiveChars {
		return domain.ReplySubstantive
	}
	return domain.ReplyBrief
}

func qualityRank(q domain.ReplyQuality) int {
	switch q {
	case domain.ReplySubstantive:
		return 3
	case domain.ReplyBrief:
		return 2
	case domain.ReplyAuto:
		return 1
	}
	return 0
}

// medianReplyLatency pairs each outbound message with the contact's next
// inbound reply in the same thread and returns the median gap.
func medianReplyLatency(sorted []domain.Message, contactEmail string) time.Duration {
	var latencies []time.Duration
	byThread := make(map[string][]domain.Message)
	for _, m := range sorted {
		byThread[m.ThreadID] = append(byThread[m.ThreadID], m)
	}
	for _, thread := range byThread {
		for i, m := range thread {
			if m.Direction != domain.DirectionOutbound {
				continue
			}
			for _, reply := range thread[i+1:] {
				if reply.Direction == domain.DirectionInbound &&
					domain.NormalizeAddress(reply.Sender) == contactEmail {
					latencies = append(latencies, reply.SentAt.Sub(m.SentAt))
					break
				}
			}
		}
	}
	if len(latencies) == 0 {
		return 0
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	return latencies[len(latencies)/2]
}

// MessageReader is the slice of the store the runner reads from.
type MessageReader interface {
	GetMessages(ctx context.Context, accountID string, f MessageQuery) ([]domain.Message, error)
}

// MessageQuery mirrors the store's message filter without importing it.
type MessageQuery struct {
	ContactEmail string
}

// ClassificationWriter persists verdicts.
type ClassificationWriter interface {
	UpdateClassification(ctx context.Context, accountID, email string,
		status domain.RelationshipStatus, score float64, outbound, inbound int, lastSeen time.Time) error
}

// Progress reports phase-relative completion in [0,1] with a human message.
type Progress func(frac float64, msg string)

// Runner applies the analyzer across all contacts of an account.
type Runner struct {
	messages MessageReader
	writer   ClassificationWriter
	cfg      config.AnalyzerConfig
	clock    func() time.Time
}

// NewRunner builds a Runner. A nil clock defaults to time.Now.
func NewRunner(messages MessageReader, writer ClassificationWriter, cfg config.AnalyzerConfig, clock func() time.Time) *Runner {
	if clock == nil {
		clock = time.Now
	}
	return &Runner{messages: messages, writer: writer, cfg: cfg, clock: clock}
}

// Run classifies every contact and writes the verdicts back.
func (r *Runner) Run(ctx context.Context, accountID string, contacts []domain.Contact, progress Progress) error {
	if progress == nil {
		progress = func(float64, string) {}
	}
	now := r.clock()

	for i, c := range contacts {
		if err := ctx.Err(); err != nil {
			return domain.Errf(domain.ErrKindCancelled, "analysis cancelled: %w", err)
		}
		msgs, err := r.messages.GetMessages(ctx, accountID, MessageQuery{ContactEmail: c.Email})
		if err != nil {
			return domain.Errf(domain.ErrKindStoreConflict, "load messages: %w", err)
		}
		v := Analyze(now, c, msgs, r.cfg)

		lastSeen := v.Features.LastActivityAt
		if lastSeen.IsZero() {
			lastSeen = c.LastSeen
		}
		if err := r.writer.UpdateClassification(ctx, accountID, c.Email,
			v.Status, v.EngagementScore, v.Features.OutboundCount, v.Features.InboundCount, lastSeen); err != nil {
			return domain.Errf(domain.ErrKindStoreConflict, "write classification: %w", err)
		}
		progress(float64(i+1)/float64(len(contacts)),
			fmt.Sprintf("classified %d/%d contacts", i+1, len(contacts)))
	}

	logger.Info("communication intelligence finished", "account_id", accountID, "contacts", len(contacts))
	return nil
}
