package oppdrag

import (
	"sync"
	"time"

	"github.com/transfa/spenn-service/internal/domain"
)

// KeyGenerator hands out reconciliation keys derived from the clock. Keys from one
// generator are strictly increasing even when the clock stalls or steps back.
type KeyGenerator struct {
	mu   sync.Mutex
	now  func() time.Time
	last domain.ReconciliationKey
}

func NewKeyGenerator(now func() time.Time) *KeyGenerator {
	if now == nil {
		now = time.Now
	}
	return &KeyGenerator{now: now}
}

// Next returns a key for the current instant.
func (g *KeyGenerator) Next() domain.ReconciliationKey {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := domain.KeyAt(g.now())
	if key <= g.last {
		key = g.last + 1
	}
	g.last = key
	return key
}
