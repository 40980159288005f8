package domain

import (
	"time"
)

// AnalystKind names one of the five specialized LLM analysts. The naming is
// part of the contract with prompt templates and the synthesizer.
type AnalystKind string

const (
	AnalystBusinessStrategy     AnalystKind = "business-strategy"
	AnalystRelationshipDynamics AnalystKind = "relationship-dynamics"
	AnalystTechnicalEvolution   AnalystKind = "technical-evolution"
	AnalystMarketIntelligence   AnalystKind = "market-intelligence"
	AnalystPredictive           AnalystKind = "predictive"
)

// AllAnalystKinds returns the fixed analyst set in deterministic order.
func AllAnalystKinds() []AnalystKind {
	return []AnalystKind{
		AnalystBusinessStrategy,
		AnalystMarketIntelligence,
		AnalystPredictive,
		AnalystRelationshipDynamics,
		AnalystTechnicalEvolution,
	}
}

// CrossTopicID is the synthetic topic node findings attach to when an
// analyst omits a topic reference.
const CrossTopicID = "__cross_topic__"

// Finding is one typed observation produced by an analyst over a snapshot.
// Evidence entries are message ids that must exist in the source snapshot.
type Finding struct {
	AnalystKind AnalystKind `json:"analyst_kind"`
	Category    string      `json:"category"`
	TopicID     string      `json:"topic_id,omitempty"`
	Content     string      `json:"content"`
	Confidence  float64     `json:"confidence"`
	Evidence    []string    `json:"evidence,omitempty"`
}

// TreeNode is one node in the knowledge tree arena. Children are referenced
// by id only; the arena plus id lists avoids pointer cycles between findings
// and the topics that reference them.
type TreeNode struct {
	ID       string   `json:"id"`
	Kind     string   `json:"kind"` // "domain" | "topic" | "analyst" | "finding"
	Label    string   `json:"label"`
	ParentID string   `json:"parent_id,omitempty"`
	Finding  *Finding `json:"finding,omitempty"`
	Children []string `json:"children,omitempty"`
}

// CrossDomainEdge links two findings that share evidence. Weight is
// shared-evidence count divided by the smaller evidence list.
type CrossDomainEdge struct {
	From   string  `json:"from"`
	To     string  `json:"to"`
	Shared int     `json:"shared"`
	Weight float64 `json:"weight"`
}

// KnowledgeTree is the top-level strategic artifact. Each successful Phase 2
// run writes a new one referencing exactly one organized snapshot.
type KnowledgeTree struct {
	ID          string              `json:"id"`
	AccountID   string              `json:"account_id"`
	GeneratedAt time.Time           `json:"generated_at"`
	SnapshotID  string              `json:"snapshot_id"`
	Version     int                 `json:"version"`
	Nodes       map[string]TreeNode `json:"nodes"`
	RootIDs     []string            `json:"root_ids"` // domain nodes, ranked
	Edges       []CrossDomainEdge   `json:"edges"`
	Analysts    []AnalystKind       `json:"analysts"` // kinds that contributed findings
}
