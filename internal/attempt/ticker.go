package attempt

import (
	"sync"
	"time"
)

// Ticker is an owned, cancellable interval handle.
type Ticker interface {
	Stop()
}

// TickerFactory starts interval handles. fn runs on the ticker's own
// goroutine and must do its own locking.
type TickerFactory interface {
	Every(interval time.Duration, fn func()) Ticker
}

// RealTickers backs handles with time.Ticker.
type RealTickers struct{}

// Every starts a goroutine calling fn once per interval until Stop.
func (RealTickers) Every(interval time.Duration, fn func()) Ticker {
	t := &realTicker{
		ticker: time.NewTicker(interval),
		done:   make(chan struct{}),
	}
	go t.loop(fn)
	return t
}

type realTicker struct {
	ticker *time.Ticker
	done   chan struct{}
	once   sync.Once
}

func (t *realTicker) loop(fn func()) {
	for {
		select {
		case <-t.done:
			return
		case <-t.ticker.C:
			fn()
		}
	}
}

// Stop is idempotent and does not wait for an in-progress fn.
func (t *realTicker) Stop() {
	t.once.Do(func() {
		t.ticker.Stop()
		close(t.done)
	})
}

// stopTicker stops h if set and returns nil so callers can reset the field.
func stopTicker(h Ticker) Ticker {
	if h != nil {
		h.Stop()
	}
	return nil
}
