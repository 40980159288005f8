package analyst

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/osteele/liquid"

	"github.com/ignite/mailmind/internal/domain"
)

// roleSpec defines one analyst's specialization: its framing and the finding
// categories its schema accepts.
type roleSpec struct {
	Mission    string
	Categories []string
}

var roles = map[domain.AnalystKind]roleSpec{
	domain.AnalystBusinessStrategy: {
		Mission:    "strategic decisions, market positioning, risks, and opportunities visible in the correspondence",
		Categories: []string{"decision", "positioning", "risk", "opportunity"},
	},
	domain.AnalystRelationshipDynamics: {
		Mission:    "the influence map, communication patterns, collaboration health, and relationship state of each correspondent",
		Categories: []string{"influence", "pattern", "collaboration", "attempted", "momentum"},
	},
	domain.AnalystTechnicalEvolution: {
		Mission:    "technical decisions, architecture direction, and engineering trade-offs discussed across topics",
		Categories: []string{"decision", "architecture", "tooling", "debt"},
	},
	domain.AnalystMarketIntelligence: {
		Mission:    "market signals, competitive moves, and timing indicators embedded in the correspondence",
		Categories: []string{"signal", "competitor", "timing", "demand"},
	},
	domain.AnalystPredictive: {
		Mission:    "pattern-derived forecasts and upcoming decision points the mailbox owner should anticipate",
		Categories: []string{"forecast", "decision_point", "trajectory"},
	},
}

const systemTemplate = `You are a specialized intelligence analyst embedded in a mailbox analysis engine. Your specialty: {{ mission }}.

You receive a structured snapshot of organized email topics, never raw mail. Ground every observation in the snapshot.

Respond with ONLY a JSON array. Each element:
{"category": one of [{{ categories }}], "topic_id": "<topic id or empty>", "content": "<one concrete observation>", "confidence": <0..1>, "evidence": ["<message id>", ...]}

Rules:
- cite evidence message ids only from the snapshot
- confidence reflects how strongly the snapshot supports the observation
- no prose outside the JSON array`

const promptTemplate = `## Organized mailbox snapshot
Generated: {{ generated_at }}
Messages: {{ message_count }}

{% for topic in topics %}### Topic {{ topic.id }}: {{ topic.label }}
Business domain: {{ topic.domain }}
Span: {{ topic.first_at }} to {{ topic.last_at }}
Participants: {{ topic.participants }}
Relationship states: {{ topic.statuses }}
Message ids: {{ topic.message_ids }}
Key points:
{% for kp in topic.key_points %}- {{ kp }}
{% endfor %}
{% endfor %}
Produce your findings as the JSON array described in your instructions.`

var (
	liquidEngine = liquid.NewEngine()
	templateOnce sync.Once
	sysTpl       *liquid.Template
	userTpl      *liquid.Template
	templateErr  error
)

func compileTemplates() {
	templateOnce.Do(func() {
		sysTpl, templateErr = liquidEngine.ParseString(systemTemplate)
		if templateErr != nil {
			return
		}
		userTpl, templateErr = liquidEngine.ParseString(promptTemplate)
	})
}

// renderSystem renders the analyst's system prompt.
func renderSystem(kind domain.AnalystKind) (string, error) {
	compileTemplates()
	if templateErr != nil {
		return "", fmt.Errorf("compile templates: %w", templateErr)
	}
	spec := roles[kind]
	quoted := make([]string, len(spec.Categories))
	for i, c := range spec.Categories {
		quoted[i] = `"` + c + `"`
	}
	out, err := sysTpl.RenderString(map[string]interface{}{
		"mission":    spec.Mission,
		"categories": strings.Join(quoted, ", "),
	})
	if err != nil {
		return "", fmt.Errorf("render system prompt: %w", err)
	}
	return out, nil
}

// renderPrompt renders the snapshot into the user prompt, truncating by
// dropping the oldest topics until the estimated token count fits the budget.
// Estimation uses ~4 characters per token.
func renderPrompt(snap *domain.OrganizedSnapshot, maxInputTokens int) (string, error) {
	compileTemplates()
	if templateErr != nil {
		return "", fmt.Errorf("compile templates: %w", templateErr)
	}

	topics := make([]domain.TopicSummary, len(snap.Topics))
	copy(topics, snap.Topics)
	// Newest-first so truncation drops from the tail (the oldest).
	sort.Slice(topics, func(i, j int) bool { return topics[i].LastAt.After(topics[j].LastAt) })

	for len(topics) > 0 {
		out, err := userTpl.RenderString(promptBindings(snap, topics))
		if err != nil {
			return "", fmt.Errorf("render prompt: %w", err)
		}
		if len(out)/4 <= maxInputTokens || len(topics) == 1 {
			return out, nil
		}
		topics = topics[:len(topics)-1]
	}
	return "", fmt.Errorf("snapshot has no topics")
}

func promptBindings(snap *domain.OrganizedSnapshot, topics []domain.TopicSummary) map[string]interface{} {
	rendered := make([]map[string]interface{}, 0, len(topics))
	for _, t := range topics {
		statuses := make([]string, 0, len(t.StatusMatrix))
		parts := make([]string, 0, len(t.StatusMatrix))
		for p := range t.StatusMatrix {
			parts = append(parts, p)
		}
		sort.Strings(parts)
		for _, p := range parts {
			statuses = append(statuses, fmt.Sprintf("%s=%s", p, t.StatusMatrix[p]))
		}
		rendered = append(rendered, map[string]interface{}{
			"id":           t.ID,
			"label":        t.Label,
			"domain":       t.BusinessDomain,
			"first_at":     t.FirstAt.Format("2006-01-02"),
			"last_at":      t.LastAt.Format("2006-01-02"),
			"participants": strings.Join(t.Participants, ", "),
			"statuses":     strings.Join(statuses, ", "),
			"message_ids":  strings.Join(t.MessageIDs, ", "),
			"key_points":   t.KeyPoints,
		})
	}
	return map[string]interface{}{
		"generated_at":  snap.GeneratedAt.Format("2006-01-02"),
		"message_count": snap.MessageCount,
		"topics":        rendered,
	}
}

// validCategory reports whether a category belongs to the analyst's schema.
func validCategory(kind domain.AnalystKind, category string) bool {
	for _, c := range roles[kind].Categories {
		if c == category {
			return true
		}
	}
	return false
}
