// Package blocker implements the Filter Engine Actor (C2): a single
// goroutine owning the compiled filter engine, serving Network,
// Cosmetic, and ReplaceEngine requests from a bounded channel. An
// actor was chosen over a shared RWMutex because ReplaceEngine must
// drop the old engine before acknowledging, and mixing long-lived
// match guards with exclusive swaps over a lock deadlocks easily; a
// single serializing worker sidesteps that entirely and gives every
// query a total order against engine replacement.
package blocker

import (
	"context"
	"time"

	"github.com/privaxy-core/privaxy/internal/filterengine"
	"github.com/privaxy-core/privaxy/internal/metrics"
	"github.com/privaxy-core/privaxy/internal/resources"
)

// request is the internal sum type carried over the actor's channel.
// Each concrete request knows how to apply itself against the
// blocker's state and reply.
type request interface {
	apply(b *actor)
}

type networkRequest struct {
	url, referer string
	reply        chan<- filterengine.NetworkMatch
}

func (r networkRequest) apply(b *actor) {
	start := time.Now()

	if !b.enabled() {
		b.metrics.RecordNetwork(time.Since(start), false, false)
		r.reply <- filterengine.NetworkMatch{}
		return
	}

	match, err := b.engine.Network(r.url, r.referer)
	elapsed := time.Since(start)
	failed := err != nil
	if failed {
		match = filterengine.NetworkMatch{}
	}
	b.metrics.RecordNetwork(elapsed, match.Matched, failed)
	r.reply <- match
}

type cosmeticRequest struct {
	url          string
	ids, classes []string
	reply        chan<- filterengine.CosmeticMatch
}

func (r cosmeticRequest) apply(b *actor) {
	start := time.Now()
	defer func() {
		b.metrics.RecordCosmetic(time.Since(start))
	}()

	if !b.enabled() {
		r.reply <- filterengine.CosmeticMatch{}
		return
	}

	match, err := b.engine.Cosmetic(r.url, r.ids, r.classes)
	if err != nil {
		r.reply <- filterengine.CosmeticMatch{}
		return
	}
	r.reply <- match
}

type replaceEngineRequest struct {
	filters []string
	reply   chan<- error
}

func (r replaceEngineRequest) apply(b *actor) {
	start := time.Now()

	newEngine, err := filterengine.Compile(r.filters, b.resourceTable)
	elapsed := time.Since(start)
	if err != nil {
		b.metrics.RecordEngineUpdate(elapsed, 0, false)
		r.reply <- err
		return
	}

	old := b.engine
	b.engine = newEngine
	if old != nil {
		old.Close()
	}

	b.metrics.RecordEngineUpdate(elapsed, uint64(newEngine.SizeKB()), true)
	r.reply <- nil
}

type setDisabledRequest struct {
	disabled bool
	done     chan<- struct{}
}

func (r setDisabledRequest) apply(b *actor) {
	b.disabledFlag = r.disabled
	close(r.done)
}

// actor holds the state only the actor goroutine touches.
type actor struct {
	engine        *filterengine.Engine
	resourceTable *resources.Table
	metrics       *metrics.Collector
	// disabledFlag is inverted relative to user-facing semantics: true
	// means blocking is disabled. Keeping the inversion contained to
	// this field and the enabled() accessor avoids sign bugs at call
	// sites.
	disabledFlag bool
}

func (b *actor) enabled() bool {
	return !b.disabledFlag
}

// Blocker is the public handle to the running actor: a channel the
// caller sends requests on. The actor stops with the ctx given to Start.
type Blocker struct {
	requests chan request
}

// Start compiles an initial engine from filterTexts (may be empty)
// and launches the actor goroutine. The actor exits when ctx is
// canceled or its request channel is closed.
func Start(ctx context.Context, filterTexts []string, resourceTable *resources.Table, m *metrics.Collector) (*Blocker, error) {
	engine, err := filterengine.Compile(filterTexts, resourceTable)
	if err != nil {
		return nil, err
	}

	b := &Blocker{requests: make(chan request, 256)}
	a := &actor{engine: engine, resourceTable: resourceTable, metrics: m}

	go a.run(ctx, b.requests)

	return b, nil
}

func (a *actor) run(ctx context.Context, requests <-chan request) {
	defer func() {
		if a.engine != nil {
			a.engine.Close()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case req, ok := <-requests:
			if !ok {
				return
			}
			req.apply(a)
		}
	}
}

// Network queries the engine for a network-block decision. A dropped
// reply (caller gave up waiting) is tolerated; the result is still
// computed and counted.
func (b *Blocker) Network(ctx context.Context, url, referer string) (filterengine.NetworkMatch, error) {
	reply := make(chan filterengine.NetworkMatch, 1)
	select {
	case b.requests <- networkRequest{url: url, referer: referer, reply: reply}:
	case <-ctx.Done():
		return filterengine.NetworkMatch{}, ctx.Err()
	}
	select {
	case m := <-reply:
		return m, nil
	case <-ctx.Done():
		return filterengine.NetworkMatch{}, ctx.Err()
	}
}

// Cosmetic queries the engine for the cosmetic hiding/scriptlet
// payload for a page.
func (b *Blocker) Cosmetic(ctx context.Context, url string, ids, classes []string) (filterengine.CosmeticMatch, error) {
	reply := make(chan filterengine.CosmeticMatch, 1)
	select {
	case b.requests <- cosmeticRequest{url: url, ids: ids, classes: classes, reply: reply}:
	case <-ctx.Done():
		return filterengine.CosmeticMatch{}, ctx.Err()
	}
	select {
	case m := <-reply:
		return m, nil
	case <-ctx.Done():
		return filterengine.CosmeticMatch{}, ctx.Err()
	}
}

// ReplaceEngine atomically swaps the compiled engine for one built
// from filters. The old engine is released before the call returns.
func (b *Blocker) ReplaceEngine(ctx context.Context, filters []string) error {
	reply := make(chan error, 1)
	select {
	case b.requests <- replaceEngineRequest{filters: filters, reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetDisabled enables or disables the filter engine. When disabled,
// Network and Cosmetic short-circuit to an empty match without
// consulting the compiled rules, though the request is still counted.
func (b *Blocker) SetDisabled(ctx context.Context, disabled bool) error {
	done := make(chan struct{})
	select {
	case b.requests <- setDisabledRequest{disabled: disabled, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
