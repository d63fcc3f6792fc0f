package websocket

import (
	"testing"
	"time"
)

func TestLocationFilter(t *testing.T) {
	f := NewLocationFilter()
	t0 := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	steps := []struct {
		name     string
		lat, lng float64
		accuracy float64
		at       time.Time
		want     bool
	}{
		{"first fix", 37.3300, -121.8900, 5, t0, true},
		{"jitter", 37.33001, -121.8900, 5, t0.Add(time.Second), false},
		{"moved ~110m", 37.3310, -121.8900, 5, t0.Add(2 * time.Second), true},
		{"poor accuracy", 37.3400, -121.8900, 250, t0.Add(3 * time.Second), false},
		{"parked but silent too long", 37.3310, -121.8900, 0, t0.Add(40 * time.Second), true},
	}
	for _, s := range steps {
		if got := f.Allow("collector-1", s.lat, s.lng, s.accuracy, s.at); got != s.want {
			t.Fatalf("%s: Allow = %v, want %v", s.name, got, s.want)
		}
	}

	stats := f.Stats()
	if stats["relayed"] != int64(3) || stats["skipped"] != int64(2) {
		t.Fatalf("stats = %v, want 3 relayed and 2 skipped", stats)
	}

	f.Forget("collector-1")
	if !f.Allow("collector-1", 37.3310, -121.8900, 5, t0.Add(41*time.Second)) {
		t.Fatalf("Allow after Forget = false, want true")
	}
}
