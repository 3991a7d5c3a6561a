package chat

import (
	"testing"
	"time"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestRateLimiter_FixedWindow(t *testing.T) {
	r := NewRateLimiter(3, 10*time.Second)

	for i := range 3 {
		if !r.Allow("1.2.3.4", t0.Add(time.Duration(i)*time.Second)) {
			t.Fatalf("message %d rejected", i+1)
		}
	}
	if r.Allow("1.2.3.4", t0.Add(9*time.Second)) {
		t.Fatal("message 4 inside the window admitted")
	}
	if !r.Allow("5.6.7.8", t0.Add(9*time.Second)) {
		t.Fatal("other identity rejected")
	}
	if !r.Allow("1.2.3.4", t0.Add(10*time.Second)) {
		t.Fatal("message after the window rejected")
	}
	// The new window started at t0+10s.
	if !r.Allow("1.2.3.4", t0.Add(11*time.Second)) || !r.Allow("1.2.3.4", t0.Add(12*time.Second)) {
		t.Fatal("fresh window should admit up to the limit")
	}
	if r.Allow("1.2.3.4", t0.Add(13*time.Second)) {
		t.Fatal("fresh window over the limit admitted")
	}
}

func TestRateLimiter_Sweep(t *testing.T) {
	r := NewRateLimiter(3, 10*time.Second)
	r.Allow("a", t0)
	r.Allow("b", t0.Add(5*time.Second))

	if n := r.Sweep(t0.Add(10 * time.Second)); n != 1 {
		t.Errorf("Sweep() = %d, want 1", n)
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
	r.Sweep(t0.Add(time.Minute))
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
}

func TestRateLimiter_SetLimits(t *testing.T) {
	r := NewRateLimiter(1, 10*time.Second)
	r.Allow("a", t0)
	if r.Allow("a", t0.Add(time.Second)) {
		t.Fatal("over the limit admitted")
	}
	r.SetLimits(2, 10*time.Second)
	if !r.Allow("a", t0.Add(2*time.Second)) {
		t.Fatal("raised limit not applied to the open window")
	}
}
