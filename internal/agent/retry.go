package agent

import (
	"strings"
	"time"
)

// errorClass buckets a provider error for retry purposes. Providers in this
// codebase don't expose a structured error type (each backend wraps the
// underlying net/http or SSE failure in a plain error), so classification
// pattern-matches over the error text and any embedded HTTP status.
type errorClass int

const (
	classUnknown errorClass = iota
	classNetwork
	classRateLimited
	classServerError
	classBadRequest
	classAuth
)

// backoffBase is the first retry delay; each subsequent retry doubles it, up
// to backoffCap. A var so tests can shrink it.
var backoffBase = time.Second

const backoffCap = 60 * time.Second

// maxAttemptsFor bounds total provider attempts (initial + retries) per
// round, by failure class. Rate limits get the longest leash; auth failures
// get exactly one extra attempt so an OAuth-backed provider can re-resolve a
// refreshed token; everything else is terminal.
func maxAttemptsFor(c errorClass) int {
	switch c {
	case classRateLimited:
		return 5
	case classServerError, classNetwork:
		return 3
	case classAuth:
		return 2
	default:
		return 1
	}
}

func retryDelayFor(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := backoffBase << uint(attempt)
	if d > backoffCap {
		return backoffCap
	}
	return d
}

func classifyError(err error) errorClass {
	if err == nil {
		return classUnknown
	}
	msg := strings.ToLower(err.Error())

	switch {
	case containsAny(msg, "429", "rate limit", "rate_limit", "too many requests"):
		return classRateLimited
	case containsAny(msg, "500", "502", "503", "504", "internal server error", "bad gateway", "service unavailable", "gateway timeout", "overloaded"):
		return classServerError
	case containsAny(msg, "401", "403", "unauthorized", "invalid_api_key", "invalid api key", "authentication", "forbidden"):
		return classAuth
	case containsAny(msg, "400", "invalid_request", "invalid request"):
		return classBadRequest
	case containsAny(msg, "connection refused", "connection reset", "no such host", "timeout", "eof", "broken pipe", "i/o timeout"):
		return classNetwork
	default:
		return classUnknown
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// isRetryable reports whether RunTask should back off and re-dial rather
// than surface the error immediately. Bad requests won't resolve themselves
// on retry; auth failures get the single forced-refresh attempt
// maxAttemptsFor grants them.
func isRetryable(c errorClass) bool {
	switch c {
	case classNetwork, classRateLimited, classServerError, classAuth:
		return true
	default:
		return false
	}
}
