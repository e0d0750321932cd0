package task

import (
	"context"
	"sync"
	"time"
)

// Throttle admits at most limit calls per fixed window of length interval.
// Calls beyond the limit wait in FIFO order for a later window. Windows are
// aligned to the start of the first window, so the limit bounds the average
// admission rate rather than the number of bodies running at once.
type Throttle struct {
	limit    int
	interval time.Duration

	mu          sync.Mutex
	windowStart time.Time
	admitted    int
	queue       []chan struct{}
	timer       *time.Timer
}

// NewThrottle creates a throttle. A non-positive interval falls back to one second.
func NewThrottle(limit int, interval time.Duration) *Throttle {
	if interval <= 0 {
		interval = time.Second
	}
	if limit <= 0 {
		limit = 1
	}
	return &Throttle{
		limit:    limit,
		interval: interval,
	}
}

// Limit returns the number of admissions per window
func (t *Throttle) Limit() int {
	return t.limit
}

// Interval returns the window length
func (t *Throttle) Interval() time.Duration {
	return t.interval
}

// Waiting returns the number of queued calls
func (t *Throttle) Waiting() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.queue)
}

// Wait blocks until the call is admitted or ctx is done
func (t *Throttle) Wait(ctx context.Context) error {
	t.mu.Lock()
	t.roll(time.Now())
	if len(t.queue) == 0 && t.admitted < t.limit {
		t.admitted++
		t.mu.Unlock()
		return nil
	}

	ch := make(chan struct{})
	t.queue = append(t.queue, ch)
	t.schedule()
	t.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		t.mu.Lock()
		defer t.mu.Unlock()
		for i, w := range t.queue {
			if w == ch {
				t.queue = append(t.queue[:i], t.queue[i+1:]...)
				return ctx.Err()
			}
		}
		// Admitted while ctx was being cancelled; the slot is already spent.
		return nil
	}
}

// roll moves the window forward to the boundary containing now. Caller holds mu.
func (t *Throttle) roll(now time.Time) {
	if t.windowStart.IsZero() {
		t.windowStart = now
		return
	}
	elapsed := now.Sub(t.windowStart)
	if elapsed < t.interval {
		return
	}
	t.windowStart = t.windowStart.Add(elapsed / t.interval * t.interval)
	t.admitted = 0
}

// schedule arms the drain timer for the next window boundary. Caller holds mu.
func (t *Throttle) schedule() {
	if t.timer != nil {
		return
	}
	delay := time.Until(t.windowStart.Add(t.interval))
	if delay < 0 {
		delay = 0
	}
	t.timer = time.AfterFunc(delay, t.drain)
}

func (t *Throttle) drain() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.timer = nil
	t.roll(time.Now())
	for len(t.queue) > 0 && t.admitted < t.limit {
		close(t.queue[0])
		t.queue = t.queue[1:]
		t.admitted++
	}
	if len(t.queue) > 0 {
		t.schedule()
	}
}
