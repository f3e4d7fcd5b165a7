// Package gather builds best-effort context snapshots from independent
// domain backends.
package gather

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Fetcher retrieves the latest payload for one domain. Implementations
// enforce their own timeout.
type Fetcher interface {
	FetchLatest(ctx context.Context, d Domain) (json.RawMessage, error)
}

// Snapshot maps each requested domain to its payload, or to absent when the
// fetch failed.
type Snapshot struct {
	order   []Domain
	payload map[Domain]json.RawMessage
}

// Get returns the payload for d. ok is false when d is absent or was not requested.
func (s Snapshot) Get(d Domain) (json.RawMessage, bool) {
	p, ok := s.payload[d]
	return p, ok && p != nil
}

// Domains lists every requested domain in request order.
func (s Snapshot) Domains() []Domain {
	out := make([]Domain, len(s.order))
	copy(out, s.order)
	return out
}

func (s Snapshot) Present() []Domain { return s.filter(true) }
func (s Snapshot) Absent() []Domain { return s.filter(false) }

func (s Snapshot) filter(present bool) []Domain {
	var out []Domain
	for _, d := range s.order {
		if (s.payload[d] != nil) == present {
			out = append(out, d)
		}
	}
	return out
}

// Len is the number of entries, present or absent.
func (s Snapshot) Len() int { return len(s.order) }

// MarshalJSON renders the snapshot as an object in request order; absent
// domains are null.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, d := range s.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, _ := json.Marshal(string(d))
		buf.Write(key)
		buf.WriteByte(':')
		if p := s.payload[d]; p != nil {
			buf.Write(p)
		} else {
			buf.WriteString("null")
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Aggregator fans out one fetch per domain.
type Aggregator struct {
	fetcher Fetcher
	logger  *slog.Logger
}

func New(f Fetcher) *Aggregator {
	return &Aggregator{fetcher: f, logger: slog.Default()}
}

// Gather fetches every domain concurrently and waits for all of them to
// settle. A failing fetch never cancels its siblings and never fails the
// snapshot: errors, malformed payloads and panics leave that domain absent.
// Duplicate domains are fetched once.
func (a *Aggregator) Gather(ctx context.Context, domains []Domain) Snapshot {
	order := dedupe(domains)
	results := make([]json.RawMessage, len(order))

	var g errgroup.Group
	for i, d := range order {
		g.Go(func() error {
			results[i] = a.fetchOne(ctx, d)
			return nil
		})
	}
	_ = g.Wait()

	snap := Snapshot{order: order, payload: make(map[Domain]json.RawMessage, len(order))}
	for i, d := range order {
		snap.payload[d] = results[i]
	}
	return snap
}

func (a *Aggregator) fetchOne(ctx context.Context, d Domain) (payload json.RawMessage) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("domain fetch panicked", "domain", d, "panic", fmt.Sprint(r))
			payload = nil
		}
	}()

	p, err := a.fetcher.FetchLatest(ctx, d)
	if err != nil {
		a.logger.Warn("domain fetch failed", "domain", d, "error", err, "duration_ms", time.Since(start).Milliseconds())
		return nil
	}
	if len(p) == 0 || !json.Valid(p) {
		a.logger.Warn("domain payload malformed", "domain", d, "bytes", len(p))
		return nil
	}
	return p
}

func dedupe(domains []Domain) []Domain {
	seen := make(map[Domain]bool, len(domains))
	out := make([]Domain, 0, len(domains))
	for _, d := range domains {
		if seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	return out
}
