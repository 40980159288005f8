// Package synthesizer folds the analyst finding sets into one hierarchical
// knowledge tree. The fold is deterministic: identical findings in, identical
// node ids, ordering, and edges out.
package synthesizer

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/mailmind/internal/domain"
	"github.com/ignite/mailmind/internal/pkg/logger"
)

// jaccardMergeThreshold is the normalized-content similarity at which two
// findings are considered the same observation.
const jaccardMergeThreshold = 0.85

// Synthesizer builds knowledge trees.
type Synthesizer struct {
	clock func() time.Time
}

// New builds a Synthesizer. A nil clock defaults to time.Now.
func New(clock func() time.Time) *Synthesizer {
	if clock == nil {
		clock = time.Now
	}
	return &Synthesizer{clock: clock}
}

// Build folds findings into a tree referencing the snapshot. prevVersion is
// the latest persisted tree version; the new tree gets prevVersion+1.
func (s *Synthesizer) Build(accountID string, snap *domain.OrganizedSnapshot,
	findings map[domain.AnalystKind][]domain.Finding, prevVersion int) *domain.KnowledgeTree {

	ordered := orderFindings(findings, snap)
	merged := dedupe(ordered)

	tree := &domain.KnowledgeTree{
		ID:          uuid.New().String(),
		AccountID:   accountID,
		GeneratedAt: s.clock().UTC(),
		SnapshotID:  snap.ID,
		Version:     prevVersion + 1,
		Nodes:       make(map[string]domain.TreeNode),
	}

	domainByTopic := make(map[string]string, len(snap.Topics))
	labelByTopic := make(map[string]string, len(snap.Topics))
	for _, t := range snap.Topics {
		domainByTopic[t.ID] = t.BusinessDomain
		labelByTopic[t.ID] = t.Label
	}

	contributed := make(map[domain.AnalystKind]bool)
	for i, f := range merged {
		topicID := f.TopicID
		if topicID == "" {
			topicID = domain.CrossTopicID
		}
		businessDomain := domainByTopic[topicID]
		if businessDomain == "" {
			businessDomain = "general"
		}

		domainNodeID := "domain/" + businessDomain
		topicNodeID := "topic/" + topicID
		analystNodeID := fmt.Sprintf("analyst/%s/%s", topicID, f.AnalystKind)
		findingNodeID := fmt.Sprintf("finding/%04d", i)

		ensureNode(tree, domainNodeID, "domain", businessDomain, "")
		label := labelByTopic[topicID]
		if topicID == domain.CrossTopicID {
			label = "cross-topic"
		}
		ensureNode(tree, topicNodeID, "topic", label, domainNodeID)
		ensureNode(tree, analystNodeID, "analyst", string(f.AnalystKind), topicNodeID)

		f := f
		tree.Nodes[findingNodeID] = domain.TreeNode{
			ID:       findingNodeID,
			Kind:     "finding",
			Label:    f.Category,
			ParentID: analystNodeID,
			Finding:  &f,
		}
		appendChild(tree, analystNodeID, findingNodeID)
		contributed[f.AnalystKind] = true
	}

	rankChildren(tree)
	tree.RootIDs = rankRoots(tree)
	tree.Edges = crossDomainEdges(tree, merged)

	kinds := make([]domain.AnalystKind, 0, len(contributed))
	for _, k := range domain.AllAnalystKinds() {
		if contributed[k] {
			kinds = append(kinds, k)
		}
	}
	tree.Analysts = kinds

	logger.Info("knowledge tree synthesized",
		"account_id", accountID, "version", tree.Version,
		"findings", len(merged), "nodes", len(tree.Nodes), "edges", len(tree.Edges))
	return tree
}

// orderFindings flattens the per-kind sets in deterministic order (sorted
// analyst kind, then each analyst's own ordering) and drops evidence ids the
// snapshot does not contain.
func orderFindings(findings map[domain.AnalystKind][]domain.Finding, snap *domain.OrganizedSnapshot) []domain.Finding {
	known := snap.MessageIDSet()
	var out []domain.Finding
	for _, kind := range domain.AllAnalystKinds() {
		for _, f := range findings[kind] {
			var evidence []string
			for _, id := range f.Evidence {
				if known[id] {
					evidence = append(evidence, id)
				}
			}
			sort.Strings(evidence)
			f.Evidence = evidence
			out = append(out, f)
		}
	}
	return out
}

// dedupe merges findings whose normalized content collides with Jaccard >=
// the threshold. Confidence combines as 1 - prod(1 - c_i); evidence unions.
// The earliest finding in deterministic order keeps its identity.
func dedupe(findings []domain.Finding) []domain.Finding {
	type entry struct {
		finding domain.Finding
		tokens  map[string]bool
	}
	var kept []entry

	for _, f := range findings {
		toks := normalizeContent(f.Content)
		mergedInto := -1
		for i := range kept {
			if jaccard(toks, kept[i].tokens) >= jaccardMergeThreshold {
				mergedInto = i
				break
			}
		}
		if mergedInto < 0 {
			kept = append(kept, entry{finding: f, tokens: toks})
			continue
		}

		k := &kept[mergedInto].finding
		k.Confidence = 1 - (1-k.Confidence)*(1-f.Confidence)
		k.Evidence = unionSorted(k.Evidence, f.Evidence)
	}

	out := make([]domain.Finding, len(kept))
	for i, e := range kept {
		out[i] = e.finding
	}
	return out
}

var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "but": true, "by": true, "for": true, "from": true, "has": true,
	"have": true, "in": true, "is": true, "it": true, "of": true, "on": true,
	"or": true, "that": true, "the": true, "their": true, "this": true,
	"to": true, "was": true, "will": true, "with": true,
}

// normalizeContent lowercases, strips stopwords, and applies naive suffix
// stemming so trivially reworded findings still collide.
func normalizeContent(content string) map[string]bool {
	out := make(map[string]bool)
	for _, tok := range strings.Fields(strings.ToLower(content)) {
		tok = strings.Trim(tok, ".,;:!?\"'()[]")
		if len(tok) < 2 || stopwords[tok] {
			continue
		}
		out[stem(tok)] = true
	}
	return out
}

func stem(tok string) string {
	for _, suffix := range []string{"ing", "edly", "ed", "ly", "es", "s"} {
		if strings.HasSuffix(tok, suffix) && len(tok)-len(suffix) >= 3 {
			return tok[:len(tok)-len(suffix)]
		}
	}
	return tok
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	inter := 0
	for t := range a {
		if b[t] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func unionSorted(a, b []string) []string {
	set := make(map[string]bool, len(a)+len(b))
	for _, s := range a {
		set[s] = true
	}
	for _, s := range b {
		set[s] = true
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func ensureNode(tree *domain.KnowledgeTree, id, kind, label, parentID string) {
	if _, ok := tree.Nodes[id]; ok {
		return
	}
	tree.Nodes[id] = domain.TreeNode{ID: id, Kind: kind, Label: label, ParentID: parentID}
	if parentID != "" {
		appendChild(tree, parentID, id)
	}
}

func appendChild(tree *domain.KnowledgeTree, parentID, childID string) {
	parent := tree.Nodes[parentID]
	parent.Children = append(parent.Children, childID)
	tree.Nodes[parentID] = parent
}

// nodeScore ranks a node: findings by confidence x (1 + log(1+|evidence|)),
// structural nodes by their best descendant.
func nodeScore(tree *domain.KnowledgeTree, id string) float64 {
	n := tree.Nodes[id]
	if n.Finding != nil {
		return n.Finding.Confidence * (1 + math.Log(1+float64(len(n.Finding.Evidence))))
	}
	best := 0.0
	for _, c := range n.Children {
		if s := nodeScore(tree, c); s > best {
			best = s
		}
	}
	return best
}

func rankChildren(tree *domain.KnowledgeTree) {
	for id, n := range tree.Nodes {
		if len(n.Children) < 2 {
			continue
		}
		children := n.Children
		sort.SliceStable(children, func(i, j int) bool {
			si, sj := nodeScore(tree, children[i]), nodeScore(tree, children[j])
			if si != sj {
				return si > sj
			}
			return children[i] < children[j]
		})
		n.Children = children
		tree.Nodes[id] = n
	}
}

func rankRoots(tree *domain.KnowledgeTree) []string {
	var roots []string
	for id, n := range tree.Nodes {
		if n.ParentID == "" {
			roots = append(roots, id)
		}
	}
	sort.SliceStable(roots, func(i, j int) bool {
		si, sj := nodeScore(tree, roots[i]), nodeScore(tree, roots[j])
		if si != sj {
			return si > sj
		}
		return roots[i] < roots[j]
	})
	return roots
}

// crossDomainEdges links findings that share at least two evidence ids.
func crossDomainEdges(tree *domain.KnowledgeTree, findings []domain.Finding) []domain.CrossDomainEdge {
	type ref struct {
		nodeID   string
		evidence map[string]bool
	}
	var refs []ref
	for i, f := range findings {
		if len(f.Evidence) < 2 {
			continue
		}
		set := make(map[string]bool, len(f.Evidence))
		for _, id := range f.Evidence {
			set[id] = true
		}
		refs = append(refs, ref{nodeID: fmt.Sprintf("finding/%04d", i), evidence: set})
	}

	var edges []domain.CrossDomainEdge
	for i := 0; i < len(refs); i++ {
		for j := i + 1; j < len(refs); j++ {
			shared := 0
			for id := range refs[i].evidence {
				if refs[j].evidence[id] {
					shared++
				}
			}
			if shared < 2 {
				continue
			}
			min := len(refs[i].evidence)
			if len(refs[j].evidence) < min {
				min = len(refs[j].evidence)
			}
			edges = append(edges, domain.CrossDomainEdge{
				From:   refs[i].nodeID,
				To:     refs[j].nodeID,
				Shared: shared,
				Weight: float64(shared) / float64(min),
			})
		}
	}
	return edges
}
