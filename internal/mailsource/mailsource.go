// Package mailsource abstracts the upstream mailbox provider. The pipeline
// only ever streams messages; it never holds a full mailbox in memory.
package mailsource

import (
	"context"
	"errors"
	"time"

	"github.com/ignite/mailmind/internal/domain"
)

// ErrAuthMissing is returned when the provider rejects our credentials.
// The pipeline surfaces it as an auth_missing job failure rather than
// retrying into a lockout.
var ErrAuthMissing = errors.New("mail source: authorization missing or expired")

// Source streams messages from a mailbox provider. Implementations call fn
// once per message in provider order and stop on the first error fn returns.
type Source interface {
	// Owner returns the authenticated mailbox address.
	Owner(ctx context.Context) (string, error)

	// ListSent streams the account's sent messages since the given time.
	ListSent(ctx context.Context, since time.Time, fn func(domain.Message) error) error

	// ListWith streams all correspondence (both directions) with one
	// address since the given time.
	ListWith(ctx context.Context, address string, since time.Time, fn func(domain.Message) error) error
}
