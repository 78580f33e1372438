// Package gameserver drives the economy's time: the game clock that marks
// economic days and the tick manager that paces background work.
package gameserver

import (
	"fmt"
	"sync"
	"time"
)

// GameHour is a game-clock hour in [0, 23].
type GameHour int32

// String returns the hour in "HH:00" format.
func (h GameHour) String() string {
	return fmt.Sprintf("%02d:00", int(h))
}

// Tick is one advance of the economy clock.
type Tick struct {
	Day  int64
	Hour GameHour
	// Rollover is set on the tick that starts a new economic day.
	Rollover bool
}

// EconomyClock advances game hours and starts a new economic day each time the
// rollover hour is reached. Day hooks run on their own goroutine so a slow
// daily cycle never stalls the clock.
type EconomyClock struct {
	interval time.Duration
	rollover GameHour

	mu          sync.Mutex
	day         int64
	hour        GameHour
	subscribers map[chan<- Tick]struct{}
	hooks       []func(day int64)

	done chan struct{}
	once sync.Once
}

// NewEconomyClock creates a stopped clock at day and startHour.
//
// Precondition: startHour and rolloverHour in [0, 23]; interval > 0.
// Postcondition: Returns a non-nil *EconomyClock ready to Start().
func NewEconomyClock(day int64, startHour, rolloverHour int32, interval time.Duration) *EconomyClock {
	if interval <= 0 {
		panic("gameserver.NewEconomyClock: interval must be > 0")
	}
	return &EconomyClock{
		interval:    interval,
		rollover:    GameHour(rolloverHour % 24),
		day:         day,
		hour:        GameHour(startHour % 24),
		subscribers: make(map[chan<- Tick]struct{}),
		done:        make(chan struct{}),
	}
}

// Now returns the current day and hour.
func (c *EconomyClock) Now() Tick {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Tick{Day: c.day, Hour: c.hour}
}

// Subscribe registers ch to receive every tick. A full channel misses the tick.
//
// Precondition: ch must not be nil.
func (c *EconomyClock) Subscribe(ch chan<- Tick) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribers[ch] = struct{}{}
}

// Unsubscribe removes ch from the subscriber list.
func (c *EconomyClock) Unsubscribe(ch chan<- Tick) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subscribers, ch)
}

// OnDay registers fn to run with the new day number at every rollover.
func (c *EconomyClock) OnDay(fn func(day int64)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, fn)
}

// Advance moves the clock forward one hour and delivers the tick.
//
// Postcondition: Day is incremented exactly when the new hour equals the rollover hour.
func (c *EconomyClock) Advance() Tick {
	c.mu.Lock()
	c.hour = (c.hour + 1) % 24
	t := Tick{Hour: c.hour}
	if c.hour == c.rollover {
		c.day++
		t.Rollover = true
	}
	t.Day = c.day
	subs := make([]chan<- Tick, 0, len(c.subscribers))
	for ch := range c.subscribers {
		subs = append(subs, ch)
	}
	var hooks []func(int64)
	if t.Rollover {
		hooks = append(hooks, c.hooks...)
	}
	c.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- t:
		default:
		}
	}
	for _, fn := range hooks {
		go fn(t.Day)
	}
	return t
}

// Start advances the clock once per interval until Stop is called.
func (c *EconomyClock) Start() error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.Advance()
		case <-c.done:
			return nil
		}
	}
}

// Stop ends Start. Calling Stop more than once is safe.
func (c *EconomyClock) Stop() {
	c.once.Do(func() { close(c.done) })
}
