package domain

import (
	"encoding/json"
	"time"
)

// TrustTier classifies how much sent-mail history backs a contact.
type TrustTier string

const (
	TierOne   TrustTier = "tier1" // frequent recipient with at least one observed reply
	TierTwo   TrustTier = "tier2" // frequent recipient, no reply observed yet
	TierThree TrustTier = "tier3" // everyone else
)

// RelationshipStatus is the classified state of a correspondence, derived
// deterministically from observed reply behavior. Frequency alone lies: a
// dozen unanswered messages to a famous VC is "attempted", not a relationship.
type RelationshipStatus string

const (
	StatusEstablished RelationshipStatus = "established"
	StatusOngoing     RelationshipStatus = "ongoing"
	StatusAttempted   RelationshipStatus = "attempted"
	StatusDormant     RelationshipStatus = "dormant"
	StatusCold        RelationshipStatus = "cold"
)

// ReplyQuality grades the best inbound reply observed for a contact.
type ReplyQuality string

const (
	ReplySubstantive ReplyQuality = "substantive"
	ReplyBrief       ReplyQuality = "brief"
	ReplyAuto        ReplyQuality = "auto"
	ReplyNone        ReplyQuality = "none"
)

// Enrichment lifecycle markers for the optional third-party enricher.
const (
	EnrichmentPending = "pending"
	EnrichmentDone    = "done"
	EnrichmentFailed  = "failed"
)

// Contact is a correspondent discovered from sent mail. (AccountID, Email)
// is the natural key. Counters and classification are mutated by the
// extractor and the analyzer; everything else is bookkeeping.
type Contact struct {
	ID               string             `json:"id" db:"id"`
	AccountID        string             `json:"account_id" db:"account_id"`
	Email            string             `json:"email" db:"email"`
	DisplayName      string             `json:"display_name" db:"display_name"`
	Domain           string             `json:"domain" db:"domain"`
	FirstSeen        time.Time          `json:"first_seen" db:"first_seen"`
	LastSeen         time.Time          `json:"last_seen" db:"last_seen"`
	OutboundCount    int                `json:"outbound_count" db:"outbound_count"`
	InboundCount     int                `json:"inbound_count" db:"inbound_count"`
	TrustTier        TrustTier          `json:"trust_tier" db:"trust_tier"`
	Status           RelationshipStatus `json:"status" db:"status"`
	EngagementScore  float64            `json:"engagement_score" db:"engagement_score"`
	Enrichment       json.RawMessage    `json:"enrichment,omitempty" db:"enrichment"`
	EnrichmentStatus string             `json:"enrichment_status,omitempty" db:"enrichment_status"`
	LastIngestedAt   *time.Time         `json:"last_ingested_at,omitempty" db:"last_ingested_at"`
	CreatedAt        time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at" db:"updated_at"`
}

// Trusted reports whether the contact's mail is worth ingesting.
func (c Contact) Trusted() bool {
	return c.TrustTier == TierOne || c.TrustTier == TierTwo
}
