// Package llm abstracts the completion model behind the analyst pool. The
// pool never sees provider-specific types; it works with Request/Response
// and the sentinel errors here.
package llm

import (
	"context"
	"errors"
)

// ErrRateLimited signals the provider throttled the call. The caller backs
// off and retries on its own schedule.
var ErrRateLimited = errors.New("llm: rate limited")

// ErrTimeout signals the call exceeded its deadline.
var ErrTimeout = errors.New("llm: timeout")

// Request is one completion call.
type Request struct {
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
}

// Response is the model's reply.
type Response struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

// Client completes prompts.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}
