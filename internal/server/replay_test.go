package server

import (
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func TestNonceSource(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)}
	nonces := newNonceSource(time.Minute, clock.Now)

	first := nonces.Current()
	if first == "" {
		t.Fatal("expected a nonce")
	}
	if nonces.Current() != first {
		t.Error("nonce changed within its lifetime")
	}
	if !nonces.Valid(first) {
		t.Error("current nonce is not valid")
	}
	if nonces.Valid("") || nonces.Valid("unknown") {
		t.Error("unknown nonce is valid")
	}

	clock.Advance(90 * time.Second)
	second := nonces.Current()
	if second == first {
		t.Fatal("nonce did not rotate")
	}
	if !nonces.Valid(first) {
		t.Error("previous nonce should stay valid for one more lifetime")
	}
	if !nonces.Valid(second) {
		t.Error("rotated nonce is not valid")
	}

	clock.Advance(61 * time.Second)
	third := nonces.Current()
	if nonces.Valid(first) {
		t.Error("nonce two rotations old is still valid")
	}
	if !nonces.Valid(second) || !nonces.Valid(third) {
		t.Error("current and previous nonces should be valid")
	}
}

func TestNonceSourceIdleRotation(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)}
	nonces := newNonceSource(time.Minute, clock.Now)

	first := nonces.Current()
	clock.Advance(3 * time.Minute)

	if nonces.Valid(first) {
		t.Error("nonce older than two lifetimes is still valid")
	}
}

func TestReplayCache(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)}
	cache := newReplayCache(2*time.Minute, clock.Now)

	tests := []struct {
		name    string
		advance time.Duration
		id      string
		want    bool
	}{
		{name: "first use", id: "a", want: true},
		{name: "replay", id: "a", want: false},
		{name: "other id", id: "b", want: true},
		{name: "replay within window", advance: time.Minute, id: "a", want: false},
		{name: "after window", advance: 90 * time.Second, id: "a", want: true},
	}

	for _, tt := range tests {
		clock.Advance(tt.advance)
		if got := cache.Add(tt.id); got != tt.want {
			t.Errorf("%s: Add(%q) = %v, want %v", tt.name, tt.id, got, tt.want)
		}
	}
}
