package service

import (
	"context"
	"sync"
	"time"

	id "webkart/pkg/domain"
	dErrors "webkart/pkg/domain-errors"
)

// defaultGateWait bounds how long a transition waits behind another
// transition on the same session.
const defaultGateWait = 30 * time.Second

// sessionGate serializes transitions per session id. Each id gets a one-slot
// semaphore that exists only while someone holds or waits for it, so distinct
// sessions never contend and the map does not grow with idle sessions.
type sessionGate struct {
	mu    sync.Mutex
	slots map[id.SessionID]*gateSlot
	wait  time.Duration
}

type gateSlot struct {
	sem  chan struct{}
	refs int
}

func newSessionGate(wait time.Duration) *sessionGate {
	if wait <= 0 {
		wait = defaultGateWait
	}
	return &sessionGate{slots: make(map[id.SessionID]*gateSlot), wait: wait}
}

// acquire blocks until the caller owns sessionID's slot. The returned release
// must be called exactly once.
func (g *sessionGate) acquire(ctx context.Context, sessionID id.SessionID) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeTimeout, "transition aborted: context cancelled")
	}

	g.mu.Lock()
	slot, ok := g.slots[sessionID]
	if !ok {
		slot = &gateSlot{sem: make(chan struct{}, 1)}
		g.slots[sessionID] = slot
	}
	slot.refs++
	g.mu.Unlock()

	timer := time.NewTimer(g.wait)
	defer timer.Stop()

	select {
	case slot.sem <- struct{}{}:
		return func() {
			<-slot.sem
			g.unref(sessionID, slot)
		}, nil
	case <-ctx.Done():
		g.unref(sessionID, slot)
		return nil, dErrors.Wrap(ctx.Err(), dErrors.CodeTimeout, "transition aborted: context cancelled")
	case <-timer.C:
		g.unref(sessionID, slot)
		return nil, dErrors.New(dErrors.CodeTimeout, "another transition is in progress for this session")
	}
}

func (g *sessionGate) unref(sessionID id.SessionID, slot *gateSlot) {
	g.mu.Lock()
	defer g.mu.Unlock()
	slot.refs--
	if slot.refs == 0 {
		delete(g.slots, sessionID)
	}
}

// size reports the number of live slots.
func (g *sessionGate) size() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.slots)
}
