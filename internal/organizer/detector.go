package organizer

import (
	"fmt"

	"github.com/ignite/mailmind/internal/config"
	"github.com/ignite/mailmind/internal/domain"
)

// Decision records whether Phase 2 must run and why. The reason string ends
// up on the Job so rebuild economics are auditable.
type Decision struct {
	Rebuild bool
	Reason  string
}

// Decide compares the fresh snapshot against the previous one. Phase 2
// always runs when there is no prior tree or the caller forced it; otherwise
// it runs only when enough new mail or at least one new topic appeared.
func Decide(prev, next *domain.OrganizedSnapshot, hasPriorTree, force bool, cfg config.RebuildConfig) Decision {
	if !hasPriorTree {
		return Decision{Rebuild: true, Reason: "no prior knowledge tree"}
	}
	if force {
		return Decision{Rebuild: true, Reason: "rebuild forced by caller"}
	}
	if prev == nil {
		return Decision{Rebuild: true, Reason: "no prior snapshot"}
	}
	if prev.Fingerprint == next.Fingerprint {
		return Decision{Rebuild: false, Reason: "reused: snapshot unchanged"}
	}

	newMessages := next.MessageCount - prev.MessageCount
	if prev.MessageCount > 0 {
		pct := 100 * float64(newMessages) / float64(prev.MessageCount)
		if pct >= cfg.MinNewMessagesPct {
			return Decision{Rebuild: true,
				Reason: fmt.Sprintf("%d new messages (%.1f%% >= %.1f%%)", newMessages, pct, cfg.MinNewMessagesPct)}
		}
	} else if newMessages > 0 {
		return Decision{Rebuild: true, Reason: fmt.Sprintf("%d new messages on empty baseline", newMessages)}
	}

	prevTopics := make(map[string]bool, len(prev.Topics))
	for _, t := range prev.Topics {
		prevTopics[t.ID] = true
	}
	newTopics := 0
	for _, t := range next.Topics {
		if !prevTopics[t.ID] {
			newTopics++
		}
	}
	if newTopics >= 1 {
		return Decision{Rebuild: true, Reason: fmt.Sprintf("%d new topics", newTopics)}
	}

	return Decision{Rebuild: false, Reason: "reused: change below rebuild threshold"}
}
