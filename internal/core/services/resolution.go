package services

import (
	"regexp"
	"time"
)

// ResolutionKind enumerates the actions the retry/error policy can take
// for a failure signature.
type ResolutionKind int

const (
	// Resubmit clears error state and sends the scene straight back to submitted.
	Resubmit ResolutionKind = iota
	// Unavailable gives up on the scene with a user-facing reason.
	Unavailable
	// Retry defers the scene and counts an attempt against its ceiling.
	Retry
	// Escalate parks the scene in error status for operator attention.
	Escalate
)

func (k ResolutionKind) String() string {
	switch k {
	case Resubmit:
		return "resubmit"
	case Unavailable:
		return "unavailable"
	case Retry:
		return "retry"
	default:
		return "escalate"
	}
}

// Resolution is the tagged result of classifying a failure signature.
type Resolution struct {
	Kind       ResolutionKind
	Reason     string        // user-facing note for Unavailable / Retry
	RetryAfter time.Duration // Retry only
	RetryLimit int           // Retry only, 0 keeps the scene's current ceiling
}

// Rule maps a failure-signature pattern to a resolution. Patterns match
// anywhere in the signature text.
type Rule struct {
	Pattern    *regexp.Regexp
	Resolution Resolution
}

// Resolver classifies failure signatures. The rule catalog is supplied by
// the caller; the first matching rule wins and anything unmatched
// escalates.
type Resolver struct {
	rules []Rule
}

func NewResolver(rules []Rule) *Resolver {
	return &Resolver{rules: rules}
}

// Resolve classifies a failure signature for the named scene.
func (r *Resolver) Resolve(signature, sceneName string) Resolution {
	for _, rule := range r.rules {
		if rule.Pattern.MatchString(signature) {
			return rule.Resolution
		}
	}
	return Resolution{Kind: Escalate}
}

// DefaultRules is the stock signature catalog. Deployments tune this; the
// policy itself only defines the resolution protocol.
func DefaultRules() []Rule {
	return []Rule{
		{
			Pattern:    regexp.MustCompile(`(?i)network is unreachable|connection timed out|timeout waiting`),
			Resolution: Resolution{Kind: Retry, Reason: "network error, retrying", RetryAfter: 20 * time.Minute},
		},
		{
			Pattern:    regexp.MustCompile(`(?i)error staging (source )?data|failed to stage`),
			Resolution: Resolution{Kind: Retry, Reason: "staging failure, retrying", RetryAfter: 30 * time.Minute},
		},
		{
			Pattern:    regexp.MustCompile(`(?i)no space left on device`),
			Resolution: Resolution{Kind: Retry, Reason: "processing node out of disk, retrying", RetryAfter: 60 * time.Minute},
		},
		{
			Pattern:    regexp.MustCompile(`(?i)missing auxiliary data|auxiliary file .* not found`),
			Resolution: Resolution{Kind: Retry, Reason: "auxiliary data not yet available", RetryAfter: 12 * time.Hour},
		},
		{
			Pattern:    regexp.MustCompile(`(?i)not found in the archive|scene no longer available`),
			Resolution: Resolution{Kind: Unavailable, Reason: "Source data no longer available, please search again"},
		},
		{
			Pattern:    regexp.MustCompile(`(?i)night.?time acquisition|insufficient (valid )?pixels`),
			Resolution: Resolution{Kind: Unavailable, Reason: "Scene cannot be processed to the requested products"},
		},
		{
			Pattern:    regexp.MustCompile(`(?i)killed by oom|task lost`),
			Resolution: Resolution{Kind: Resubmit},
		},
	}
}
