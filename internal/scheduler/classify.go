package scheduler

import (
	"context"
	"errors"
	"strings"

	"github.com/anthonybaldwin/crewforge/internal/gateway"
	"github.com/anthonybaldwin/crewforge/internal/model"
	"github.com/anthonybaldwin/crewforge/internal/providers"
	"github.com/anthonybaldwin/crewforge/internal/runner"
)

// ErrClass buckets a step failure into one of three outcomes.
type ErrClass int

const (
	// ClassRetriable steps are re-dispatched, counted against MaxRetries.
	ClassRetriable ErrClass = iota
	// ClassFatal steps stop the pipeline immediately, no retry spent.
	ClassFatal
	// ClassCancelled means abortOrchestration fired; the step is recorded
	// stopped rather than failed.
	ClassCancelled
)

// nonRetriableMarkers flags provider API error text for non-retriable
// failures (401/402/403, invalid_request_error, billing failures) that none
// of the wired provider SDKs expose as a typed sentinel (see DESIGN.md);
// this is a deliberately narrow text fallback, consulted only after every
// typed sentinel below has already missed.
var nonRetriableMarkers = []string{
	"401", "403", "invalid_request_error", "invalid api key",
	"authentication_error", "permission_error", "insufficient credit",
	"insufficient_quota", "billing",
}

// Classify decides how the Scheduler should react to a step's error
//. ProviderUnavailable, UnknownProvider, and NoProvider are fatal on
// first occurrence since no retry can repair a missing binding, as is known
// non-retriable API error text. Cancellation (context.Canceled or
// gateway.ErrCancelled) is ClassCancelled: never retried, and the step is
// recorded stopped. AgentAborted and everything else default-retriable,
// consistent with §7's "retry allowed (counted)" language for AgentAborted.
func Classify(err error) ErrClass {
	if err == nil {
		return ClassRetriable
	}
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, gateway.ErrCancelled):
		return ClassCancelled
	case errors.Is(err, gateway.ErrProviderUnavailable),
		errors.Is(err, providers.ErrUnknownProvider),
		errors.Is(err, runner.ErrNoProvider):
		return ClassFatal
	case errors.Is(err, gateway.ErrAgentAborted),
		errors.Is(err, gateway.ErrToolLoopExceeded),
		errors.Is(err, model.ErrRateLimited),
		errors.Is(err, context.DeadlineExceeded):
		return ClassRetriable
	}
	lower := strings.ToLower(err.Error())
	for _, marker := range nonRetriableMarkers {
		if strings.Contains(lower, marker) {
			return ClassFatal
		}
	}
	return ClassRetriable
}
