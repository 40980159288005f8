package domain

import (
	"time"
)

// TopicSummary is a compact, LLM-free digest of one conversation topic.
// Produced by the organizer; versioned per snapshot.
type TopicSummary struct {
	ID             string                        `json:"id"`
	Label          string                        `json:"label"`
	Participants   []string                      `json:"participants"`
	MessageIDs     []string                      `json:"message_ids"` // ordered by timestamp
	FirstAt        time.Time                     `json:"first_at"`
	LastAt         time.Time                     `json:"last_at"`
	KeyPoints      []string                      `json:"key_points"`
	BusinessDomain string                        `json:"business_domain"`
	StatusMatrix   map[string]RelationshipStatus `json:"status_matrix"` // participant -> status
}

// OrganizedSnapshot is the sole Phase-2 input: the whole corpus organized
// into topics and cross-reference indexes, with a content fingerprint the
// change detector compares across runs. Replaced wholesale per rebuild.
type OrganizedSnapshot struct {
	ID            string              `json:"id"`
	AccountID     string              `json:"account_id"`
	GeneratedAt   time.Time           `json:"generated_at"`
	MessageCount  int                 `json:"message_count"`
	MaxTimestamp  time.Time           `json:"max_timestamp"`
	Topics        []TopicSummary      `json:"topics"`
	ContactTopics map[string][]string `json:"contact_topics"` // email -> topic ids
	TopicContacts map[string][]string `json:"topic_contacts"` // topic id -> emails
	Fingerprint   string              `json:"fingerprint"`
}

// Topic returns the topic with the given id, or nil.
func (s *OrganizedSnapshot) Topic(id string) *TopicSummary {
	for i := range s.Topics {
		if s.Topics[i].ID == id {
			return &s.Topics[i]
		}
	}
	return nil
}

// MessageIDSet returns the set of all message ids referenced by the snapshot.
// Every finding's evidence must resolve into this set.
func (s *OrganizedSnapshot) MessageIDSet() map[string]bool {
	set := make(map[string]bool)
	for _, t := range s.Topics {
		for _, id := range t.MessageIDs {
			set[id] = true
		}
	}
	return set
}
