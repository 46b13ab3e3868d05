// Copyright (c) Bas van Beek 2022.
// Copyright (c) Tetrate, Inc 2021.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package spantree

import (
	"time"

	"github.com/pkg/errors"
	"github.com/zoobzio/clockz"
	"go.uber.org/zap"
)

// EvictReason tells why a trace was removed from the tree.
type EvictReason string

const (
	// EvictExpired marks traces idle for longer than the TTL.
	EvictExpired EvictReason = "expired"
	// EvictCapacity marks traces removed to make room for new spans.
	EvictCapacity EvictReason = "capacity"
)

// EvictionHook is notified of every evicted trace.
type EvictionHook func(traceID string, reason EvictReason, spans int)

type eviction struct {
	traceID string
	reason  EvictReason
	spans   int
	idle    time.Duration
}

// makeRoomLocked evicts least recently active traces, never target, until a
// span for target fits within both ceilings. newTrace indicates target is
// not tracked yet.
func (t *Tree) makeRoomLocked(target string, newTrace bool) ([]eviction, error) {
	var evictions []eviction
	for t.overCapacityLocked(newTrace) {
		victim := t.oldestTraceLocked(target)
		if victim == nil {
			return evictions, errors.Wrapf(ErrCapacityExceeded,
				"%d spans in %d traces, ceilings %d spans / %d traces",
				len(t.spans), len(t.traces), t.cfg.MaxSpans, t.cfg.MaxTraces)
		}
		evictions = append(evictions, t.evictLocked(victim, EvictCapacity))
	}
	return evictions, nil
}

func (t *Tree) overCapacityLocked(newTrace bool) bool {
	if len(t.spans)+1 > t.cfg.MaxSpans {
		return true
	}
	return newTrace && len(t.traces)+1 > t.cfg.MaxTraces
}

// oldestTraceLocked returns the trace with the oldest activity, ties broken
// by the lower trace id, skipping exclude.
func (t *Tree) oldestTraceLocked(exclude string) *traceRecord {
	var oldest *traceRecord
	for id, tr := range t.traces {
		if id == exclude {
			continue
		}
		if oldest == nil ||
			tr.lastActivity.Before(oldest.lastActivity) ||
			(tr.lastActivity.Equal(oldest.lastActivity) && id < oldest.id) {
			oldest = tr
		}
	}
	return oldest
}

// evictLocked removes tr and all of its spans.
func (t *Tree) evictLocked(tr *traceRecord, reason EvictReason) eviction {
	for _, rec := range tr.spans {
		delete(t.spans, rec.spanID)
	}
	delete(t.traces, tr.id)
	t.evicted[reason]++
	t.metrics.size(len(t.traces), len(t.spans))

	return eviction{
		traceID: tr.id,
		reason:  reason,
		spans:   len(tr.spans),
		idle:    t.clock.Since(tr.lastActivity),
	}
}

// notify reports evictions. Must be called without holding mtx.
func (t *Tree) notify(evictions []eviction) {
	for _, e := range evictions {
		t.metrics.evicted(e.reason, e.spans)
		t.logger.Debug("evicted trace",
			zap.String("trace_id", e.traceID),
			zap.String("reason", string(e.reason)),
			zap.Int("spans", e.spans),
			zap.Duration("idle", e.idle),
		)
		if t.onEvict != nil {
			t.onEvict(e.traceID, e.reason, e.spans)
		}
	}
}

// Sweep evicts every trace idle for longer than the TTL and returns the
// number of traces removed.
func (t *Tree) Sweep() int {
	now := t.clock.Now()

	t.mtx.Lock()
	var evictions []eviction
	for _, tr := range t.traces {
		if now.Sub(tr.lastActivity) > t.cfg.TTL {
			evictions = append(evictions, t.evictLocked(tr, EvictExpired))
		}
	}
	t.mtx.Unlock()

	t.notify(evictions)
	return len(evictions)
}

// Start launches the background expiry sweep, ticking on the tree's clock
// every SweepInterval. Calling Start more than once has no effect.
func (t *Tree) Start() {
	t.startOnce.Do(func() {
		t.started.Store(true)
		go t.sweepLoop(t.clock.NewTicker(t.cfg.SweepInterval))
	})
}

func (t *Tree) sweepLoop(ticker clockz.Ticker) {
	defer close(t.done)
	defer ticker.Stop()

	for {
		select {
		case <-t.stopCh:
			return
		case <-ticker.C():
			t.Sweep()
		}
	}
}

// Close stops the background sweep and releases all tracked traces. The tree
// stays usable afterwards but no longer expires traces on its own.
func (t *Tree) Close() {
	t.closeOnce.Do(func() {
		close(t.stopCh)
		if t.started.Load() {
			<-t.done
		}

		t.mtx.Lock()
		t.spans = make(map[string]*spanRecord)
		t.traces = make(map[string]*traceRecord)
		t.metrics.size(0, 0)
		t.mtx.Unlock()
	})
}
