package ratelimit

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestLimiter_BasicEnforcement(t *testing.T) {
	limiter := New(2.0, 2)

	if !limiter.Allow("store") {
		t.Error("first request should be allowed")
	}
	if !limiter.Allow("store") {
		t.Error("second request should be allowed")
	}
	if limiter.Allow("store") {
		t.Error("third request should be rate limited")
	}
}

func TestLimiter_Reset(t *testing.T) {
	limiter := New(2.0, 2)

	limiter.Allow("auth")
	limiter.Allow("auth")
	if limiter.Allow("auth") {
		t.Error("request should be rate limited")
	}

	time.Sleep(600 * time.Millisecond)

	if !limiter.Allow("auth") {
		t.Error("request should be allowed after waiting")
	}
}

func TestLimiter_SubsystemOverride(t *testing.T) {
	limiter := New(100, 100)
	limiter.SetLimit("storage", 1, 1)

	if !limiter.Allow("storage") {
		t.Error("first storage request should be allowed")
	}
	if limiter.Allow("storage") {
		t.Error("second storage request should be limited")
	}
	if !limiter.Allow("store") {
		t.Error("other subsystems keep the default rate")
	}
}

func TestLimiter_Disabled(t *testing.T) {
	limiter := New(0, 0)
	if limiter != nil {
		t.Fatal("expected nil limiter for zero rate")
	}
	for i := 0; i < 100; i++ {
		if !limiter.Allow("store") {
			t.Fatal("disabled limiter must allow every request")
		}
	}
	if err := limiter.Wait(context.Background(), "store"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	limiter.SetLimit("store", 1, 1)
}

func TestLimiter_WaitCancelled(t *testing.T) {
	limiter := New(0.1, 1)
	limiter.Allow("functions")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := limiter.Wait(ctx, "functions")
	if err == nil {
		t.Fatal("expected error when the context expires")
	}
	if !strings.Contains(err.Error(), "global rate limit") {
		t.Errorf("unexpected error: %v", err)
	}
}
