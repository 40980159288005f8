package domain

import (
	"sort"
	"strings"
	"time"
)

// Direction indicates whether a message was sent or received by the account.
type Direction string

const (
	DirectionOutbound Direction = "outbound"
	DirectionInbound  Direction = "inbound"
)

// Message is a single normalized mail message. Messages are immutable once
// upserted; (AccountID, ExternalID) is the natural key.
type Message struct {
	ID         string    `json:"id" db:"id"`
	AccountID  string    `json:"account_id" db:"account_id"`
	ExternalID string    `json:"external_id" db:"external_id"`
	ThreadID   string    `json:"thread_id" db:"thread_id"`
	Direction  Direction `json:"direction" db:"direction"`
	Sender     string    `json:"sender" db:"sender"`
	To         []string  `json:"to" db:"to_addrs"`
	Cc         []string  `json:"cc" db:"cc_addrs"`
	Bcc        []string  `json:"bcc" db:"bcc_addrs"`
	Subject    string    `json:"subject" db:"subject"`
	Body       string    `json:"body" db:"body"`
	SentAt     time.Time `json:"sent_at" db:"sent_at"`
}

// Recipients returns all addressed recipients (to + cc + bcc), lowercased.
func (m Message) Recipients() []string {
	out := make([]string, 0, len(m.To)+len(m.Cc)+len(m.Bcc))
	for _, set := range [][]string{m.To, m.Cc, m.Bcc} {
		for _, a := range set {
			a = NormalizeAddress(a)
			if a != "" {
				out = append(out, a)
			}
		}
	}
	return out
}

// Touches reports whether the message involves the given address on either side.
func (m Message) Touches(address string) bool {
	address = NormalizeAddress(address)
	if NormalizeAddress(m.Sender) == address {
		return true
	}
	for _, r := range m.Recipients() {
		if r == address {
			return true
		}
	}
	return false
}

// Thread is a derived aggregation of messages sharing a thread id. Threads
// are never persisted; they are regenerated from messages on demand.
type Thread struct {
	ID           string    `json:"id"`
	Participants []string  `json:"participants"`
	Messages     []Message `json:"messages"` // ascending SentAt
}

// BuildThreads groups messages by thread id, ordering each thread's messages
// by timestamp. Out-of-order arrivals are tolerated because grouping keys on
// the thread id alone.
func BuildThreads(msgs []Message) []Thread {
	byThread := make(map[string][]Message)
	for _, m := range msgs {
		id := m.ThreadID
		if id == "" {
			id = m.ExternalID
		}
		byThread[id] = append(byThread[id], m)
	}

	threads := make([]Thread, 0, len(byThread))
	for id, ms := range byThread {
		sort.Slice(ms, func(i, j int) bool { return ms[i].SentAt.Before(ms[j].SentAt) })
		seen := make(map[string]bool)
		var parts []string
		for _, m := range ms {
			for _, p := range append([]string{m.Sender}, m.Recipients()...) {
				p = NormalizeAddress(p)
				if p != "" && !seen[p] {
					seen[p] = true
					parts = append(parts, p)
				}
			}
		}
		sort.Strings(parts)
		threads = append(threads, Thread{ID: id, Participants: parts, Messages: ms})
	}
	sort.Slice(threads, func(i, j int) bool { return threads[i].ID < threads[j].ID })
	return threads
}

// NormalizeAddress lowercases and trims an email address, stripping any
// display-name wrapper ("Jane Doe <jane@x.com>" -> "jane@x.com").
func NormalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if i := strings.LastIndex(addr, "<"); i >= 0 {
		if j := strings.Index(addr[i:], ">"); j > 0 {
			addr = addr[i+1 : i+j]
		}
	}
	return strings.ToLower(strings.TrimSpace(addr))
}

// AddressDomain returns the domain part of an email address, or "".
func AddressDomain(addr string) string {
	addr = NormalizeAddress(addr)
	if i := strings.LastIndex(addr, "@"); i > 0 && i < len(addr)-1 {
		return addr[i+1:]
	}
	return ""
}
