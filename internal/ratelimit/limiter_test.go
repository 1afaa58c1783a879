package ratelimit

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/whisper/roomsync/internal/metrics"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("read counter: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestThrottle_TypingOncePerWindow(t *testing.T) {
	th := NewThrottle(RuleTyping)
	start := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	if !th.AllowAt(start) {
		t.Fatal("first ping should be allowed")
	}

	// Keystrokes every 100ms for just under 3 seconds.
	for d := 100 * time.Millisecond; d < 3*time.Second; d += 100 * time.Millisecond {
		if th.AllowAt(start.Add(d)) {
			t.Fatalf("ping at +%v should be throttled", d)
		}
	}

	if !th.AllowAt(start.Add(3*time.Second + time.Millisecond)) {
		t.Fatal("ping after the window should be allowed")
	}
}

func TestThrottle_CountsRefusals(t *testing.T) {
	th := NewThrottle(Rule{Name: "count-test", Limit: 1, Window: time.Minute})
	refused := metrics.ThrottledTotal.WithLabelValues("count-test")
	before := counterValue(t, refused)
	now := time.Now()

	th.AllowAt(now)
	th.AllowAt(now)
	th.AllowAt(now)

	if got := counterValue(t, refused) - before; got != 2 {
		t.Errorf("expected 2 refusals counted, got %v", got)
	}
}

func TestThrottle_Unlimited(t *testing.T) {
	th := NewThrottle(Rule{Name: "off"})
	now := time.Now()
	for i := 0; i < 100; i++ {
		if !th.AllowAt(now) {
			t.Fatalf("unlimited throttle refused event %d", i)
		}
	}
}
