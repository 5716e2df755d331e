// A thin wrapper over the system clock which can be implemented for use in tests.
package clock

import (
	"sync"
	"time"
)

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func NewSystemClock() Clock {
	return &systemClock{}
}

func (sc *systemClock) Now() time.Time {
	return time.Now()
}

// Manual is a clock which only moves when told to.
type Manual struct {
	lock sync.Mutex
	now  time.Time
}

func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Now() time.Time {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.now
}

func (m *Manual) Advance(d time.Duration) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.now = m.now.Add(d)
}
