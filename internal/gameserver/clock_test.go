package gameserver_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/townworks/internal/gameserver"
)

func TestGameHour_String(t *testing.T) {
	assert.Equal(t, "06:00", gameserver.GameHour(6).String())
	assert.Equal(t, "18:00", gameserver.GameHour(18).String())
}

func TestEconomyClock_RolloverStartsDay(t *testing.T) {
	clk := gameserver.NewEconomyClock(1, 4, 6, time.Hour)

	tk := clk.Advance()
	assert.Equal(t, gameserver.Tick{Day: 1, Hour: 5}, tk)

	tk = clk.Advance()
	assert.True(t, tk.Rollover)
	assert.Equal(t, int64(2), tk.Day)
	assert.Equal(t, gameserver.GameHour(6), tk.Hour)
	assert.Equal(t, gameserver.Tick{Day: 2, Hour: 6}, clk.Now())
}

func TestEconomyClock_Wraps(t *testing.T) {
	clk := gameserver.NewEconomyClock(0, 23, 12, time.Hour)
	tk := clk.Advance()
	assert.Equal(t, gameserver.GameHour(0), tk.Hour)
	assert.False(t, tk.Rollover)
}

func TestEconomyClock_OnDayHook(t *testing.T) {
	clk := gameserver.NewEconomyClock(7, 23, 0, time.Hour)
	days := make(chan int64, 1)
	clk.OnDay(func(day int64) { days <- day })

	clk.Advance()
	select {
	case d := <-days:
		assert.Equal(t, int64(8), d)
	case <-time.After(time.Second):
		t.Fatal("day hook not invoked")
	}
}

func TestEconomyClock_StartDeliversTicks(t *testing.T) {
	clk := gameserver.NewEconomyClock(0, 0, 6, 10*time.Millisecond)
	ch := make(chan gameserver.Tick, 4)
	clk.Subscribe(ch)
	done := make(chan error, 1)
	go func() { done <- clk.Start() }()

	for i := 0; i < 2; i++ {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for tick %d", i+1)
		}
	}
	clk.Unsubscribe(ch)
	clk.Stop()
	clk.Stop()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("clock did not stop")
	}
}

func TestProperty_EconomyClock_OneDayPer24Hours(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		start := rapid.Int32Range(0, 23).Draw(t, "start")
		rollover := rapid.Int32Range(0, 23).Draw(t, "rollover")
		hours := rapid.IntRange(0, 200).Draw(t, "hours")
		clk := gameserver.NewEconomyClock(0, start, rollover, time.Hour)

		rollovers := 0
		for i := 0; i < hours; i++ {
			if clk.Advance().Rollover {
				rollovers++
			}
		}
		now := clk.Now()
		if now.Day != int64(rollovers) {
			t.Fatalf("day %d after %d rollovers", now.Day, rollovers)
		}
		if want := int64(hours / 24); now.Day < want || now.Day > want+1 {
			t.Fatalf("day %d after %d hours", now.Day, hours)
		}
		if int(now.Hour) != (int(start)+hours)%24 {
			t.Fatalf("hour %d after %d hours from %d", now.Hour, hours, start)
		}
	})
}
