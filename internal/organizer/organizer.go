// Package organizer builds the OrganizedSnapshot: the whole corpus grouped
// into topics with compact structured summaries, produced entirely without
// LLM calls. The snapshot is the sole input to the analyst pool, so it must
// be deterministic for identical mail.
package organizer

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ignite/mailmind/internal/config"
	"github.com/ignite/mailmind/internal/domain"
	"github.com/ignite/mailmind/internal/pkg/logger"
)

// Organizer groups messages into topics and summarizes them.
type Organizer struct {
	cfg   config.OrganizerConfig
	clock func() time.Time
}

// New builds an Organizer. A nil clock defaults to time.Now.
func New(cfg config.OrganizerConfig, clock func() time.Time) *Organizer {
	if clock == nil {
		clock = time.Now
	}
	return &Organizer{cfg: cfg, clock: clock}
}

// Build produces a snapshot from the full message and contact sets.
func (o *Organizer) Build(accountID string, msgs []domain.Message, contacts []domain.Contact) *domain.OrganizedSnapshot {
	threads := domain.BuildThreads(msgs)
	groups := o.mergeThreads(threads)

	statusByEmail := make(map[string]domain.RelationshipStatus, len(contacts))
	for _, c := range contacts {
		statusByEmail[c.Email] = c.Status
	}

	var maxTS time.Time
	for _, m := range msgs {
		if m.SentAt.After(maxTS) {
			maxTS = m.SentAt
		}
	}

	topics := make([]domain.TopicSummary, 0, len(groups))
	for _, g := range groups {
		topics = append(topics, o.summarize(g, statusByEmail))
	}
	sort.Slice(topics, func(i, j int) bool { return topics[i].ID < topics[j].ID })

	snap := &domain.OrganizedSnapshot{
		ID:           fmt.Sprintf("snap-%d", o.clock().UnixNano()),
		AccountID:    accountID,
		GeneratedAt:  o.clock().UTC(),
		MessageCount: len(msgs),
		MaxTimestamp: maxTS,
		Topics:       topics,
	}
	snap.ContactTopics, snap.TopicContacts = crossReference(topics)
	snap.Fingerprint = Fingerprint(topics, len(msgs), maxTS)

	logger.Info("organized snapshot built",
		"account_id", accountID, "messages", len(msgs), "topics", len(topics))
	return snap
}

// mergeThreads collapses threads into topic groups with union-find: two
// threads join when they share enough participants and enough normalized
// subject tokens.
func (o *Organizer) mergeThreads(threads []domain.Thread) [][]domain.Thread {
	n := len(threads)
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[rb] = ra
		}
	}

	parts := make([]map[string]bool, n)
	subjects := make([]map[string]bool, n)
	for i, t := range threads {
		parts[i] = make(map[string]bool, len(t.Participants))
		for _, p := range t.Participants {
			parts[i][p] = true
		}
		subjects[i] = make(map[string]bool)
		for _, m := range t.Messages {
			for tok := range tokenSet(normalizeSubject(m.Subject)) {
				subjects[i][tok] = true
			}
		}
	}

	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if sharedCount(parts[i], parts[j]) >= o.cfg.TopicMergeMinParticipants &&
				sharedCount(subjects[i], subjects[j]) >= o.cfg.TopicMergeMinTokens {
				union(i, j)
			}
		}
	}

	byRoot := make(map[int][]domain.Thread)
	for i, t := range threads {
		r := find(i)
		byRoot[r] = append(byRoot[r], t)
	}
	roots := make([]int, 0, len(byRoot))
	for r := range byRoot {
		roots = append(roots, r)
	}
	sort.Ints(roots)

	groups := make([][]domain.Thread, 0, len(byRoot))
	for _, r := range roots {
		groups = append(groups, byRoot[r])
	}
	return groups
}

func (o *Organizer) summarize(group []domain.Thread, statusByEmail map[string]domain.RelationshipStatus) domain.TopicSummary {
	var msgs []domain.Message
	partSet := make(map[string]bool)
	for _, t := range group {
		msgs = append(msgs, t.Messages...)
		for _, p := range t.Participants {
			partSet[p] = true
		}
	}
	sort.Slice(msgs, func(i, j int) bool {
		if msgs[i].SentAt.Equal(msgs[j].SentAt) {
			return msgs[i].ExternalID < msgs[j].ExternalID
		}
		return msgs[i].SentAt.Before(msgs[j].SentAt)
	})

	participants := make([]string, 0, len(partSet))
	for p := range partSet {
		participants = append(participants, p)
	}
	sort.Strings(participants)

	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		id := m.ID
		if id == "" {
			id = m.ExternalID
		}
		ids = append(ids, id)
	}

	label, tf := topicLabel(msgs)

	matrix := make(map[string]domain.RelationshipStatus)
	for _, p := range participants {
		if st, ok := statusByEmail[p]; ok {
			matrix[p] = st
		}
	}

	summary := domain.TopicSummary{
		ID:             topicID(group),
		Label:          label,
		Participants:   participants,
		MessageIDs:     ids,
		KeyPoints:      keyPoints(msgs, tf, o.cfg.KeyPointsPerTopic),
		BusinessDomain: o.businessDomain(msgs),
		StatusMatrix:   matrix,
	}
	if len(msgs) > 0 {
		summary.FirstAt = msgs[0].SentAt
		summary.LastAt = msgs[len(msgs)-1].SentAt
	}
	return summary
}

// topicID hashes the group's sorted thread ids so the same threads always
// yield the same topic id.
func topicID(group []domain.Thread) string {
	ids := make([]string, 0, len(group))
	for _, t := range group {
		ids = append(ids, t.ID)
	}
	sort.Strings(ids)
	sum := sha256.Sum256([]byte(strings.Join(ids, "|")))
	return "topic-" + hex.EncodeToString(sum[:8])
}

// topicLabel picks the most frequent normalized subject tokens and also
// returns the term-frequency table for key-point scoring.
func topicLabel(msgs []domain.Message) (string, map[string]int) {
	tf := make(map[string]int)
	for _, m := range msgs {
		for _, tok := range tokenize(normalizeSubject(m.Subject)) {
			tf[tok]++
		}
		for _, tok := range tokenize(m.Body) {
			tf[tok]++
		}
	}

	subjectTF := make(map[string]int)
	for _, m := range msgs {
		for _, tok := range tokenize(normalizeSubject(m.Subject)) {
			subjectTF[tok]++
		}
	}
	type tokenCount struct {
		token string
		count int
	}
	ranked := make([]tokenCount, 0, len(subjectTF))
	for tok, c := range subjectTF {
		ranked = append(ranked, tokenCount{tok, c})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].token < ranked[j].token
	})

	var words []string
	for i, tc := range ranked {
		if i >= 3 {
			break
		}
		words = append(words, tc.token)
	}
	if len(words) == 0 {
		return "untitled", tf
	}
	return strings.Join(words, " "), tf
}

// keyPoints selects the top-scoring subject lines and sentences by summed
// term frequency, normalized by length so short dense lines win.
func keyPoints(msgs []domain.Message, tf map[string]int, limit int) []string {
	type candidate struct {
		text  string
		score float64
	}
	seen := make(map[string]bool)
	var cands []candidate

	consider := func(text string) {
		text = strings.TrimSpace(text)
		if len(text) < 10 || len(text) > 200 {
			return
		}
		key := strings.ToLower(text)
		if seen[key] {
			return
		}
		seen[key] = true
		toks := tokenize(text)
		if len(toks) == 0 {
			return
		}
		total := 0
		for _, t := range toks {
			total += tf[t]
		}
		cands = append(cands, candidate{text: text, score: float64(total) / float64(len(toks))})
	}

	for _, m := range msgs {
		consider(normalizeSubject(m.Subject))
		for _, s := range splitSentences(m.Body) {
			consider(s)
		}
	}

	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].score != cands[j].score {
			return cands[i].score > cands[j].score
		}
		return cands[i].text < cands[j].text
	})

	var out []string
	for i, c := range cands {
		if i >= limit {
			break
		}
		out = append(out, c.text)
	}
	return out
}

// defaultDomainKeywords maps business domains to trigger terms; overridable
// via configuration.
var defaultDomainKeywords = map[string][]string{
	"engineering": {"api", "deploy", "architecture", "bug", "release", "infra", "database", "latency", "code"},
	"fundraising": {"round", "term", "sheet", "investor", "valuation", "dilution", "cap", "raise", "seed"},
	"sales":       {"deal", "pricing", "contract", "renewal", "pipeline", "quote", "procurement", "discount"},
	"hiring":      {"candidate", "interview", "offer", "resume", "recruiter", "hire", "onboarding"},
	"product":     {"roadmap", "feature", "launch", "feedback", "beta", "spec", "design", "ux"},
	"legal":       {"agreement", "nda", "counsel", "compliance", "liability", "clause", "terms"},
	"marketing":   {"campaign", "brand", "content", "seo", "webinar", "press", "announcement"},
}

func (o *Organizer) businessDomain(msgs []domain.Message) string {
	keywords := o.cfg.DomainKeywords
	if len(keywords) == 0 {
		keywords = defaultDomainKeywords
	}

	counts := make(map[string]int)
	for _, m := range msgs {
		toks := tokenSet(normalizeSubject(m.Subject) + " " + m.Body)
		for dom, terms := range keywords {
			for _, term := range terms {
				if toks[term] {
					counts[dom]++
				}
			}
		}
	}

	best, bestCount := "general", 0
	doms := make([]string, 0, len(counts))
	for d := range counts {
		doms = append(doms, d)
	}
	sort.Strings(doms)
	for _, d := range doms {
		if counts[d] > bestCount {
			best, bestCount = d, counts[d]
		}
	}
	return best
}

func crossReference(topics []domain.TopicSummary) (contactTopics, topicContacts map[string][]string) {
	contactTopics = make(map[string][]string)
	topicContacts = make(map[string][]string)
	for _, t := range topics {
		topicContacts[t.ID] = append([]string(nil), t.Participants...)
		for _, p := range t.Participants {
			contactTopics[p] = append(contactTopics[p], t.ID)
		}
	}
	for p := range contactTopics {
		sort.Strings(contactTopics[p])
	}
	return contactTopics, topicContacts
}

// Fingerprint hashes (sorted topic ids, sorted participant sets, message
// count, max timestamp) so the change detector can compare snapshots cheaply.
func Fingerprint(topics []domain.TopicSummary, messageCount int, maxTS time.Time) string {
	h := sha256.New()
	ids := make([]string, 0, len(topics))
	for _, t := range topics {
		ids = append(ids, t.ID)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Fprintf(h, "t:%s\n", id)
	}

	var allParts []string
	for _, t := range topics {
		allParts = append(allParts, t.Participants...)
	}
	sort.Strings(allParts)
	for _, p := range allParts {
		fmt.Fprintf(h, "p:%s\n", p)
	}

	fmt.Fprintf(h, "n:%d\nts:%d\n", messageCount, maxTS.UTC().UnixNano())
	return hex.EncodeToString(h.Sum(nil))
}
