package telemetry

import (
	"sync"
	"time"

	"recsys/internal/recsys/event"
)

// OnlineWindow maintains rolling per-type event counts over a fixed window.
// The ingest consumer feeds it with every valid event; gauges expose the
// current counts so dashboards can watch live funnel health without querying
// the event store.
type OnlineWindow struct {
	mu     sync.Mutex
	window time.Duration
	now    func() time.Time
	byType map[event.Type][]time.Time
}

// NewOnlineWindow creates a tracker; window <= 0 defaults to 30 minutes.
func NewOnlineWindow(window time.Duration) *OnlineWindow {
	if window <= 0 {
		window = 30 * time.Minute
	}
	return &OnlineWindow{
		window: window,
		now:    time.Now,
		byType: make(map[event.Type][]time.Time),
	}
}

// Record notes one event and refreshes the published gauge for its type.
func (w *OnlineWindow) Record(ev event.Event) {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.now()
	pruned := prune(w.byType[ev.Type], now.Add(-w.window))
	w.byType[ev.Type] = append(pruned, now)
	SetOnlineWindowCount(string(ev.Type), len(w.byType[ev.Type]))
}

// Count returns the number of events of one type inside the window.
func (w *OnlineWindow) Count(t event.Type) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.byType[t] = prune(w.byType[t], w.now().Add(-w.window))
	return len(w.byType[t])
}

func prune(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && ts[i].Before(cutoff) {
		i++
	}
	return ts[i:]
}
