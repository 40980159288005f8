package synthesizer

import (
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/ignite/mailmind/internal/domain"
)

var fixedNow = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

func snapshot() *domain.OrganizedSnapshot {
	return &domain.OrganizedSnapshot{
		ID: "snap-1", AccountID: "acct-1",
		MessageCount: 6,
		Topics: []domain.TopicSummary{
			{ID: "topic-a", Label: "series a", BusinessDomain: "fundraising",
				MessageIDs: []string{"m1", "m2", "m3"}},
			{ID: "topic-b", Label: "platform rewrite", BusinessDomain: "engineering",
				MessageIDs: []string{"m4", "m5", "m6"}},
		},
	}
}

func finding(kind domain.AnalystKind, topic, content string, conf float64, evidence ...string) domain.Finding {
	return domain.Finding{
		AnalystKind: kind, Category: "decision", TopicID: topic,
		Content: content, Confidence: conf, Evidence: evidence,
	}
}

func TestBuildKeysFindingsUnderDomainTopicAnalyst(t *testing.T) {
	findings := map[domain.AnalystKind][]domain.Finding{
		domain.AnalystBusinessStrategy: {
			finding(domain.AnalystBusinessStrategy, "topic-a", "the round is closing fast", 0.8, "m1", "m2"),
		},
	}

	tree := New(clock).Build("acct-1", snapshot(), findings, 0)
	if tree.Version != 1 {
		t.Errorf("version = %d, want 1", tree.Version)
	}
	if tree.SnapshotID != "snap-1" {
		t.Errorf("snapshot id = %s", tree.SnapshotID)
	}

	leaf := tree.Nodes["finding/0000"]
	if leaf.Finding == nil {
		t.Fatal("finding node missing")
	}
	analyst := tree.Nodes[leaf.ParentID]
	topic := tree.Nodes[analyst.ParentID]
	dom := tree.Nodes[topic.ParentID]
	if analyst.Kind != "analyst" || topic.Kind != "topic" || dom.Kind != "domain" {
		t.Errorf("chain kinds = %s/%s/%s", dom.Kind, topic.Kind, analyst.Kind)
	}
	if dom.Label != "fundraising" {
		t.Errorf("domain label = %s", dom.Label)
	}
}

func TestBuildCrossTopicFallback(t *testing.T) {
	findings := map[domain.AnalystKind][]domain.Finding{
		domain.AnalystPredictive: {
			finding(domain.AnalystPredictive, "", "broad momentum building", 0.5),
		},
	}

	tree := New(clock).Build("acct-1", snapshot(), findings, 0)
	topicNode, ok := tree.Nodes["topic/"+domain.CrossTopicID]
	if !ok {
		t.Fatal("no cross-topic node")
	}
	if topicNode.Label != "cross-topic" {
		t.Errorf("label = %s", topicNode.Label)
	}
}

func TestDedupMergesNearIdenticalFindings(t *testing.T) {
	findings := map[domain.AnalystKind][]domain.Finding{
		domain.AnalystBusinessStrategy: {
			finding(domain.AnalystBusinessStrategy, "topic-a", "the funding round is closing in june", 0.6, "m1"),
		},
		domain.AnalystMarketIntelligence: {
			{AnalystKind: domain.AnalystMarketIntelligence, Category: "signal", TopicID: "topic-a",
				Content: "the funding round is closing in june", Confidence: 0.5, Evidence: []string{"m2"}},
		},
	}

	tree := New(clock).Build("acct-1", snapshot(), findings, 0)

	var leaves []*domain.Finding
	for _, n := range tree.Nodes {
		if n.Finding != nil {
			leaves = append(leaves, n.Finding)
		}
	}
	if len(leaves) != 1 {
		t.Fatalf("leaves = %d, want 1 after dedup", len(leaves))
	}
	merged := leaves[0]
	want := 1 - (1-0.6)*(1-0.5)
	if math.Abs(merged.Confidence-want) > 1e-9 {
		t.Errorf("confidence = %f, want %f", merged.Confidence, want)
	}
	if !reflect.DeepEqual(merged.Evidence, []string{"m1", "m2"}) {
		t.Errorf("evidence = %v, want union", merged.Evidence)
	}
}

func TestEvidenceFilteredToSnapshot(t *testing.T) {
	findings := map[domain.AnalystKind][]domain.Finding{
		domain.AnalystBusinessStrategy: {
			finding(domain.AnalystBusinessStrategy, "topic-a", "observation", 0.7, "m1", "ghost-id"),
		},
	}

	tree := New(clock).Build("acct-1", snapshot(), findings, 0)
	leaf := tree.Nodes["finding/0000"]
	if !reflect.DeepEqual(leaf.Finding.Evidence, []string{"m1"}) {
		t.Errorf("evidence = %v, unknown ids must be dropped", leaf.Finding.Evidence)
	}
}

func TestCrossDomainEdges(t *testing.T) {
	findings := map[domain.AnalystKind][]domain.Finding{
		domain.AnalystBusinessStrategy: {
			finding(domain.AnalystBusinessStrategy, "topic-a", "strategy view of migration", 0.8, "m1", "m2", "m3"),
		},
		domain.AnalystTechnicalEvolution: {
			finding(domain.AnalystTechnicalEvolution, "topic-b", "engineering view of migration decision", 0.7, "m2", "m3"),
		},
	}

	tree := New(clock).Build("acct-1", snapshot(), findings, 0)
	if len(tree.Edges) != 1 {
		t.Fatalf("edges = %d, want 1", len(tree.Edges))
	}
	e := tree.Edges[0]
	if e.Shared != 2 {
		t.Errorf("shared = %d", e.Shared)
	}
	if e.Weight != 1.0 { // 2 shared / min(3,2)
		t.Errorf("weight = %f, want 1.0", e.Weight)
	}
}

func TestChildrenRankedByConfidenceAndEvidence(t *testing.T) {
	findings := map[domain.AnalystKind][]domain.Finding{
		domain.AnalystBusinessStrategy: {
			finding(domain.AnalystBusinessStrategy, "topic-a", "weak observation entirely", 0.3, "m1"),
			finding(domain.AnalystBusinessStrategy, "topic-a", "strong observation with much evidence", 0.9, "m1", "m2", "m3"),
		},
	}

	tree := New(clock).Build("acct-1", snapshot(), findings, 0)
	analyst := tree.Nodes["analyst/topic-a/business-strategy"]
	if len(analyst.Children) != 2 {
		t.Fatalf("children = %d", len(analyst.Children))
	}
	first := tree.Nodes[analyst.Children[0]]
	if first.Finding.Confidence != 0.9 {
		t.Errorf("strongest finding not ranked first: %+v", first.Finding)
	}
}

func TestBuildDeterministicAcrossRuns(t *testing.T) {
	findings := map[domain.AnalystKind][]domain.Finding{
		domain.AnalystBusinessStrategy: {
			finding(domain.AnalystBusinessStrategy, "topic-a", "alpha observation", 0.8, "m1", "m2"),
			finding(domain.AnalystBusinessStrategy, "topic-b", "beta observation", 0.6, "m4"),
		},
		domain.AnalystPredictive: {
			finding(domain.AnalystPredictive, "", "gamma forecast", 0.5, "m5", "m6"),
		},
	}

	s := New(clock)
	first := s.Build("acct-1", snapshot(), findings, 3)
	for i := 0; i < 5; i++ {
		again := s.Build("acct-1", snapshot(), findings, 3)
		if !reflect.DeepEqual(stripIDs(first), stripIDs(again)) {
			t.Fatalf("run %d produced a different tree", i)
		}
	}
}

// stripIDs removes the random tree uuid so structural equality can be compared.
func stripIDs(t *domain.KnowledgeTree) *domain.KnowledgeTree {
	c := *t
	c.ID = ""
	return &c
}

func TestAnalystsListOnlyContributors(t *testing.T) {
	findings := map[domain.AnalystKind][]domain.Finding{
		domain.AnalystBusinessStrategy: {
			finding(domain.AnalystBusinessStrategy, "topic-a", "one", 0.8, "m1"),
		},
		domain.AnalystPredictive: {}, // ran but found nothing
	}

	tree := New(clock).Build("acct-1", snapshot(), findings, 0)
	if len(tree.Analysts) != 1 || tree.Analysts[0] != domain.AnalystBusinessStrategy {
		t.Errorf("analysts = %v", tree.Analysts)
	}
}
