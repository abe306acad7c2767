package app

import (
	"testing"
	"time"
)

func TestNewRedisLocker_NormalizesSettings(t *testing.T) {
	tests := []struct {
		name    string
		prefix  string
		ttl     time.Duration
		wantKey string
		wantTTL time.Duration
	}{
		{name: "defaults", prefix: "  ", ttl: 0, wantKey: "spenn:lock:reconciliation", wantTTL: 2 * time.Minute},
		{name: "trailing separator", prefix: "spenn:test:", ttl: time.Minute, wantKey: "spenn:test:reconciliation", wantTTL: time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			locker := NewRedisLocker(nil, tt.prefix, tt.ttl)
			if got := locker.key(" reconciliation "); got != tt.wantKey {
				t.Fatalf("expected key %q, got %q", tt.wantKey, got)
			}
			if locker.ttl != tt.wantTTL {
				t.Fatalf("expected ttl %s, got %s", tt.wantTTL, locker.ttl)
			}
			if locker.token == "" {
				t.Fatal("expected a holder token")
			}
		})
	}
}
