package summary

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/ehall/attic/internal/session"
)

// Skip rules: sessions too large to feed the summarizer and sessions with
// too little user traffic to be worth a summary.
const (
	maxSessionBytes = 1 << 20
	minUserMessages = 3
)

// CommandGenerator wraps an external summarizer command. The session text
// goes to stdin, the summary is read from stdout.
func CommandGenerator(command []string) Generator {
	return func(ctx context.Context, text string) (string, error) {
		if len(command) == 0 {
			return "", fmt.Errorf("no summarizer command configured")
		}
		cmd := exec.CommandContext(ctx, command[0], command[1:]...)
		cmd.Stdin = strings.NewReader(text)
		var out, errOut bytes.Buffer
		cmd.Stdout = &out
		cmd.Stderr = &errOut
		if err := cmd.Run(); err != nil {
			return "", fmt.Errorf("%w: %s", err, strings.TrimSpace(errOut.String()))
		}
		return strings.TrimSpace(out.String()), nil
	}
}

// Fingerprint derives the cache key component for a session's content.
func Fingerprint(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Runner periodically summarizes recently active sessions into the cache.
// A failed generation is logged and waits for the next cycle; there is no
// per-session retry loop.
type Runner struct {
	cache    *Cache
	sessions *session.Store
	gen      Generator
	interval time.Duration
	logger   *slog.Logger
}

// NewRunner wires a runner. interval comes from summary_interval_minutes.
func NewRunner(cache *Cache, sessions *session.Store, gen Generator, interval time.Duration, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{cache: cache, sessions: sessions, gen: gen, interval: interval, logger: logger}
}

// Run loops until ctx is cancelled, running one pass immediately and then
// one per interval.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.Pass(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.Pass(ctx)
		}
	}
}

// Pass summarizes every eligible session active in the last two intervals.
func (r *Runner) Pass(ctx context.Context) {
	cutoff := time.Now().Add(-2 * r.interval)
	records, err := r.sessions.Pending(ctx, cutoff)
	if err != nil {
		r.logger.Warn("listing pending sessions failed", "error", err)
		return
	}

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return
		}
		if !r.eligible(rec) {
			continue
		}
		fp := Fingerprint(rec.Text)
		if _, err := r.cache.GetOrGenerate(ctx, rec.SessionID, fp, rec.Text, r.gen); err != nil {
			r.logger.Warn("summarization failed", "session", rec.SessionID, "error", err)
		}
	}
}

func (r *Runner) eligible(rec session.Record) bool {
	if len(rec.Text) > maxSessionBytes {
		r.logger.Debug("session too large to summarize", "session", rec.SessionID, "bytes", len(rec.Text))
		return false
	}
	if rec.MessageCount < minUserMessages {
		return false
	}
	return true
}
