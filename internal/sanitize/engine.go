package sanitize

import (
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/SableWorks/SableBrowser/core/internal/logging"
)

// Result describes one sanitize call.
type Result struct {
	OriginalURL  string        `json:"original_url"`
	SanitizedURL string        `json:"sanitized_url"`
	Removed      []string      `json:"removed_params"`
	Elapsed      time.Duration `json:"elapsed"`
}

// Modified reports whether any parameter was stripped.
func (r Result) Modified() bool { return len(r.Removed) > 0 }

// Engine applies the active rule set to URLs. Safe for concurrent use; rule
// reloads swap an atomic pointer and never block in-flight sanitize calls.
type Engine struct {
	rules  atomic.Pointer[RuleSet]
	stats  *domainStats
	logger *logging.Logger
}

// NewEngine creates an engine with the built-in default rules active.
func NewEngine(logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.NewNop()
	}
	e := &Engine{
		stats:  newDomainStats(),
		logger: logger,
	}
	e.rules.Store(DefaultRuleSet())
	return e
}

// Sanitize strips tracking parameters from rawURL. Unparsable input comes
// back unchanged with an empty removal list; the caller never sees an error.
func (e *Engine) Sanitize(rawURL string) Result {
	start := time.Now()
	result := Result{OriginalURL: rawURL, SanitizedURL: rawURL}

	u, err := url.Parse(rawURL)
	if err != nil || u.RawQuery == "" {
		result.Elapsed = time.Since(start)
		if err == nil {
			e.recordMetrics(hostOf(u), result)
		}
		return result
	}

	domain := hostOf(u)
	rules := e.rules.Load()

	// Walk raw query segments instead of url.Values to preserve the order
	// of surviving parameters and their original encoding.
	segments := strings.Split(u.RawQuery, "&")
	survivors := make([]string, 0, len(segments))
	for _, seg := range segments {
		if seg == "" {
			continue
		}
		name := seg
		if i := strings.IndexByte(seg, '='); i >= 0 {
			name = seg[:i]
		}
		decoded, decErr := url.QueryUnescape(name)
		if decErr != nil {
			decoded = name
		}
		if rules.shouldStrip(domain, strings.ToLower(decoded)) {
			result.Removed = append(result.Removed, decoded)
			continue
		}
		survivors = append(survivors, seg)
	}

	if len(result.Removed) > 0 {
		// Dropping RawQuery entirely when nothing survives also drops the
		// bare "?" from the reconstructed URL.
		u.RawQuery = strings.Join(survivors, "&")
		result.SanitizedURL = u.String()
	}

	result.Elapsed = time.Since(start)
	e.recordMetrics(domain, result)
	return result
}

// LoadRules parses and atomically installs a new rule set. Malformed input
// is swallowed: the previous rules stay active and the call returns normally.
func (e *Engine) LoadRules(data []byte) {
	rs, err := ParseRules(data)
	if err != nil {
		e.logger.Warn("rule reload rejected, keeping active rules", zap.Error(err))
		return
	}
	e.rules.Store(rs)
	e.logger.Info("sanitization rules reloaded",
		zap.Int("exact", rs.ExactCount()),
		zap.Int("patterns", rs.PatternCount()))
}

// DomainMetrics returns counters for domain, zero-valued if never seen.
func (e *Engine) DomainMetrics(domain string) DomainMetrics {
	return e.stats.get(strings.ToLower(domain))
}

// AllDomainMetrics returns a snapshot of every tracked domain.
func (e *Engine) AllDomainMetrics() []DomainMetrics {
	return e.stats.snapshot()
}

// RuleStats reports the size of the active rule set.
func (e *Engine) RuleStats() (exact, patterns int) {
	rs := e.rules.Load()
	return rs.ExactCount(), rs.PatternCount()
}

// recordMetrics updates per-domain counters. Metrics are best-effort and
// must never fail or block the sanitize path.
func (e *Engine) recordMetrics(domain string, r Result) {
	if domain == "" {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			e.logger.Warn("metrics update panicked", zap.Any("panic", rec))
		}
	}()
	e.stats.record(domain, r.Modified(), r.Elapsed)
}

func hostOf(u *url.URL) string {
	if u == nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
