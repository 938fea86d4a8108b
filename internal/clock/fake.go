package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake is a Scheduler whose time only moves when Advance is called.
// Callbacks run synchronously on the goroutine calling Advance.
type Fake struct {
	mu     sync.Mutex
	now    time.Time
	nextID int64
	timers map[int64]*fakeTimer
}

type fakeTimer struct {
	fake     *Fake
	id       int64
	deadline time.Time
	period   time.Duration
	fn       func()
}

// NewFake creates a fake scheduler starting at the given time
func NewFake(start time.Time) *Fake {
	return &Fake{
		now:    start,
		timers: make(map[int64]*fakeTimer),
	}
}

// Now returns the fake current time
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// After schedules fn to run once when the fake time passes now+d
func (f *Fake) After(d time.Duration, fn func()) Timer {
	return f.schedule(d, 0, fn)
}

// Every schedules fn to run each time the fake time passes another period d
func (f *Fake) Every(d time.Duration, fn func()) Timer {
	if d <= 0 {
		panic("clock: non-positive interval for Every")
	}
	return f.schedule(d, d, fn)
}

func (f *Fake) schedule(d, period time.Duration, fn func()) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextID++
	t := &fakeTimer{
		fake:     f,
		id:       f.nextID,
		deadline: f.now.Add(d),
		period:   period,
		fn:       fn,
	}
	f.timers[t.id] = t
	return t
}

// Advance moves the fake time forward by d, firing every timer whose
// deadline is reached in deadline order. Timers armed by callbacks are
// fired too if they fall inside the window.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now.Add(d)
	f.mu.Unlock()

	for {
		f.mu.Lock()
		next := f.nextDue(target)
		if next == nil {
			f.now = target
			f.mu.Unlock()
			return
		}

		f.now = next.deadline
		if next.period > 0 {
			next.deadline = next.deadline.Add(next.period)
		} else {
			delete(f.timers, next.id)
		}
		fn := next.fn
		f.mu.Unlock()

		fn()
	}
}

// Pending returns the number of armed timers
func (f *Fake) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.timers)
}

// nextDue returns the earliest timer due at or before target. Caller holds mu.
func (f *Fake) nextDue(target time.Time) *fakeTimer {
	due := make([]*fakeTimer, 0, len(f.timers))
	for _, t := range f.timers {
		if !t.deadline.After(target) {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return nil
	}

	sort.Slice(due, func(i, j int) bool {
		if due[i].deadline.Equal(due[j].deadline) {
			return due[i].id < due[j].id
		}
		return due[i].deadline.Before(due[j].deadline)
	})
	return due[0]
}

func (t *fakeTimer) Stop() bool {
	t.fake.mu.Lock()
	defer t.fake.mu.Unlock()

	if _, ok := t.fake.timers[t.id]; !ok {
		return false
	}
	delete(t.fake.timers, t.id)
	return true
}
