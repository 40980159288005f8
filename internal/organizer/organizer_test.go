package organizer

import (
	"strings"
	"testing"
	"time"

	"github.com/ignite/mailmind/internal/config"
	"github.com/ignite/mailmind/internal/domain"
)

func testCfg() config.OrganizerConfig {
	return config.OrganizerConfig{
		TopicMergeMinParticipants: 2,
		TopicMergeMinTokens:       2,
		KeyPointsPerTopic:         5,
		RetainSnapshots:           5,
	}
}

var base = time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

func msg(id, thread, from string, to []string, subject, body string, hour int) domain.Message {
	return domain.Message{
		ID: id, ExternalID: id, ThreadID: thread,
		Sender: from, To: to, Subject: subject, Body: body,
		Direction: domain.DirectionOutbound,
		SentAt:    base.Add(time.Duration(hour) * time.Hour),
	}
}

func fixedClock() func() time.Time {
	return func() time.Time { return base.AddDate(0, 0, 30) }
}

func TestBuildMergesRelatedThreads(t *testing.T) {
	msgs := []domain.Message{
		msg("m1", "t1", "owner@x.com", []string{"alice@y.com"}, "series a term sheet", "reviewing the term sheet now", 0),
		msg("m2", "t2", "owner@x.com", []string{"alice@y.com"}, "re: series a term sheet followup", "diligence items attached", 24),
		msg("m3", "t3", "owner@x.com", []string{"zed@q.com"}, "dinner plans", "how about thursday", 48),
	}

	snap := New(testCfg(), fixedClock()).Build("acct-1", msgs, nil)
	if len(snap.Topics) != 2 {
		t.Fatalf("topics = %d, want 2 (t1+t2 merged, t3 separate)", len(snap.Topics))
	}

	var merged *domain.TopicSummary
	for i := range snap.Topics {
		if len(snap.Topics[i].MessageIDs) == 2 {
			merged = &snap.Topics[i]
		}
	}
	if merged == nil {
		t.Fatal("no merged topic with two messages")
	}
	if merged.MessageIDs[0] != "m1" || merged.MessageIDs[1] != "m2" {
		t.Errorf("message order = %v, want chronological", merged.MessageIDs)
	}
	if merged.FirstAt.After(merged.LastAt) {
		t.Error("time span inverted")
	}
}

func TestBuildIsDeterministic(t *testing.T) {
	msgs := []domain.Message{
		msg("m1", "t1", "owner@x.com", []string{"alice@y.com"}, "roadmap review", "roadmap draft attached for review", 0),
		msg("m2", "t2", "owner@x.com", []string{"bob@z.com"}, "pricing deal", "the renewal contract needs a new quote", 10),
		msg("m3", "t3", "owner@x.com", []string{"alice@y.com"}, "re: roadmap review feedback", "roadmap review comments inline", 20),
	}

	o := New(testCfg(), fixedClock())
	first := o.Build("acct-1", msgs, nil)

	// Reverse input order; topics and fingerprint must not change.
	rev := make([]domain.Message, len(msgs))
	for i, m := range msgs {
		rev[len(msgs)-1-i] = m
	}
	second := o.Build("acct-1", rev, nil)

	if first.Fingerprint != second.Fingerprint {
		t.Error("fingerprint depends on input order")
	}
	if len(first.Topics) != len(second.Topics) {
		t.Fatalf("topic counts differ: %d vs %d", len(first.Topics), len(second.Topics))
	}
	for i := range first.Topics {
		if first.Topics[i].ID != second.Topics[i].ID {
			t.Errorf("topic %d id differs: %s vs %s", i, first.Topics[i].ID, second.Topics[i].ID)
		}
	}
}

func TestBusinessDomainTagging(t *testing.T) {
	msgs := []domain.Message{
		msg("m1", "t1", "owner@x.com", []string{"vc@fund.com"}, "series a round", "term sheet and valuation discussion for the raise", 0),
	}

	snap := New(testCfg(), fixedClock()).Build("acct-1", msgs, nil)
	if got := snap.Topics[0].BusinessDomain; got != "fundraising" {
		t.Errorf("domain = %q, want fundraising", got)
	}
}

func TestStatusMatrixFromContacts(t *testing.T) {
	msgs := []domain.Message{
		msg("m1", "t1", "owner@x.com", []string{"alice@y.com"}, "project sync", "weekly sync notes", 0),
	}
	contacts := []domain.Contact{
		{Email: "alice@y.com", Status: domain.StatusEstablished},
	}

	snap := New(testCfg(), fixedClock()).Build("acct-1", msgs, contacts)
	if got := snap.Topics[0].StatusMatrix["alice@y.com"]; got != domain.StatusEstablished {
		t.Errorf("matrix status = %q, want established", got)
	}
}

func TestCrossReferenceIndexes(t *testing.T) {
	msgs := []domain.Message{
		msg("m1", "t1", "owner@x.com", []string{"alice@y.com"}, "alpha launch", "launch checklist for alpha", 0),
		msg("m2", "t2", "owner@x.com", []string{"bob@z.com"}, "press coverage", "press release draft", 5),
	}

	snap := New(testCfg(), fixedClock()).Build("acct-1", msgs, nil)
	aliceTopics := snap.ContactTopics["alice@y.com"]
	if len(aliceTopics) != 1 {
		t.Fatalf("alice topics = %v", aliceTopics)
	}
	back := snap.TopicContacts[aliceTopics[0]]
	found := false
	for _, p := range back {
		if p == "alice@y.com" {
			found = true
		}
	}
	if !found {
		t.Error("topic->contacts index missing alice")
	}
}

func TestKeyPointsBoundedAndRelevant(t *testing.T) {
	msgs := []domain.Message{
		msg("m1", "t1", "owner@x.com", []string{"alice@y.com"}, "migration plan",
			"The database migration starts monday. The migration plan covers rollback. Unrelated trivia here. The migration window is two hours.", 0),
	}

	cfg := testCfg()
	cfg.KeyPointsPerTopic = 2
	snap := New(cfg, fixedClock()).Build("acct-1", msgs, nil)
	kp := snap.Topics[0].KeyPoints
	if len(kp) > 2 {
		t.Errorf("key points = %d, want <= 2", len(kp))
	}
	if len(kp) == 0 {
		t.Fatal("no key points extracted")
	}
}

func TestDecideRebuildMatrix(t *testing.T) {
	cfg := config.RebuildConfig{MinNewMessagesPct: 5}
	prev := &domain.OrganizedSnapshot{MessageCount: 100, Fingerprint: "f1",
		Topics: []domain.TopicSummary{{ID: "topic-a"}}}

	t.Run("no prior tree always rebuilds", func(t *testing.T) {
		d := Decide(nil, &domain.OrganizedSnapshot{}, false, false, cfg)
		if !d.Rebuild {
			t.Error("want rebuild")
		}
	})

	t.Run("force always rebuilds", func(t *testing.T) {
		next := &domain.OrganizedSnapshot{MessageCount: 100, Fingerprint: "f1",
			Topics: prev.Topics}
		d := Decide(prev, next, true, true, cfg)
		if !d.Rebuild {
			t.Error("want rebuild")
		}
	})

	t.Run("identical snapshot reused", func(t *testing.T) {
		next := &domain.OrganizedSnapshot{MessageCount: 100, Fingerprint: "f1",
			Topics: prev.Topics}
		d := Decide(prev, next, true, false, cfg)
		if d.Rebuild {
			t.Error("want reuse")
		}
		if !strings.Contains(d.Reason, "reused") {
			t.Errorf("reason = %q, want a reused marker", d.Reason)
		}
	})

	t.Run("five percent new mail rebuilds", func(t *testing.T) {
		next := &domain.OrganizedSnapshot{MessageCount: 105, Fingerprint: "f2",
			Topics: prev.Topics}
		d := Decide(prev, next, true, false, cfg)
		if !d.Rebuild {
			t.Error("want rebuild at 5% new mail")
		}
	})

	t.Run("below threshold but new topic rebuilds", func(t *testing.T) {
		next := &domain.OrganizedSnapshot{MessageCount: 101, Fingerprint: "f2",
			Topics: []domain.TopicSummary{{ID: "topic-a"}, {ID: "topic-b"}}}
		d := Decide(prev, next, true, false, cfg)
		if !d.Rebuild {
			t.Error("want rebuild on new topic")
		}
	})

	t.Run("small drift reused", func(t *testing.T) {
		next := &domain.OrganizedSnapshot{MessageCount: 101, Fingerprint: "f2",
			Topics: prev.Topics}
		d := Decide(prev, next, true, false, cfg)
		if d.Rebuild {
			t.Errorf("want reuse, got rebuild: %s", d.Reason)
		}
	})
}
