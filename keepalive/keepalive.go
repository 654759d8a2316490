// Package keepalive computes how long an HTTP/1.x connection may be
// reused, from the Connection and Keep-Alive response headers and the
// response's protocol version.
package keepalive

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// DefaultTimeout is the deadline applied when a keep-alive response
// omits an explicit timeout.
const DefaultTimeout = 120 * time.Second

// Unlimited is the sentinel value for Set.Max meaning "no limit on the
// number of additional requests this connection may serve."
const Unlimited = -1

// Set is the result of accounting a response's keep-alive headers: the
// wall-clock time after which the connection must not be reused, and
// the number of additional requests it may still serve.
type Set struct {
	Deadline time.Time
	Max      int
}

// Never is the initial keep-alive state of a freshly opened connection:
// no deadline yet observed, no cap on reuse count.
func Never() Set {
	return Set{Max: Unlimited}
}

// Expired reports whether this keep-alive accounting forbids reuse at
// the given time, either because the deadline has passed or because the
// request budget is exhausted.
func (s Set) Expired(now time.Time) bool {
	if s.Max == 0 {
		return true
	}
	if s.Deadline.IsZero() {
		return false
	}
	return now.After(s.Deadline)
}

// Decrement accounts for one more request having been sent over the
// connection, consuming one unit of the remaining-request budget.
func (s Set) Decrement() Set {
	if s.Max > 0 {
		s.Max--
	}
	return s
}

// Parse implements RFC 7230's keep-alive accounting algorithm: given a
// response's headers and protocol version, compute the deadline after
// which the connection must be retired and the number of additional
// requests it may serve. prev is the connection's keep-alive state
// before this response, carried forward when the response doesn't
// repeat an explicit "max="; a server that sends Keep-Alive: max=N
// once is not required to keep sending it on every following
// response, so treating its absence as "unlimited again" would
// silently discard the budget instead of decrementing it.
func Parse(prev Set, header http.Header, protoMajor, protoMinor int, now time.Time) Set {
	httpOnePointOne := protoMajor == 1 && protoMinor >= 1

	connection := strings.ToLower(strings.TrimSpace(header.Get("Connection")))
	wantsKeepAlive := httpOnePointOne
	switch connection {
	case "close":
		wantsKeepAlive = false
	case "keep-alive":
		wantsKeepAlive = true
	}

	if !wantsKeepAlive {
		return Set{Deadline: now, Max: 0}
	}

	timeout, max, maxPresent := parseKeepAliveHeader(header.Get("Keep-Alive"))
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if !maxPresent {
		max = prev.Decrement().Max
	}
	return Set{Deadline: now.Add(timeout), Max: max}
}

// parseKeepAliveHeader parses "timeout=T, max=N" forms. Either field may
// be absent; maxPresent reports whether "max=" was actually given, so
// that Parse can tell "no budget stated" apart from "budget of zero."
func parseKeepAliveHeader(value string) (timeout time.Duration, max int, maxPresent bool) {
	max = Unlimited
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		name, val, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		name = strings.ToLower(strings.TrimSpace(name))
		val = strings.TrimSpace(val)
		switch name {
		case "timeout":
			if secs, err := strconv.Atoi(val); err == nil && secs >= 0 {
				timeout = time.Duration(secs) * time.Second
			}
		case "max":
			if n, err := strconv.Atoi(val); err == nil && n >= 0 {
				max = n
				maxPresent = true
			}
		}
	}
	return timeout, max, maxPresent
}
