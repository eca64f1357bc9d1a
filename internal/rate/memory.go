package rate

import (
	"context"
	"fmt"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryLimiter es el fixed window en proceso, para dev y despliegues de una réplica.
type MemoryLimiter struct {
	c   *gocache.Cache
	now func() time.Time
}

func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		c:   gocache.New(time.Minute, 5*time.Minute),
		now: time.Now,
	}
}

func (l *MemoryLimiter) AllowWithLimits(_ context.Context, key string, limit int, window time.Duration) (Result, error) {
	now := l.now().UTC()
	winStart := now.Truncate(window)
	k := fmt.Sprintf("%s:%d", strings.ReplaceAll(key, " ", "_"), winStart.Unix())
	ttl := winStart.Add(window).Sub(now)

	var hits int64
	for i := 0; ; i++ {
		if err := l.c.Add(k, int64(1), ttl); err == nil {
			hits = 1
			break
		}
		n, err := l.c.IncrementInt64(k, 1)
		if err == nil {
			hits = n
			break
		}
		// el item expiró entre Add e Increment
		if i > 2 {
			return Result{}, fmt.Errorf("rate: memory counter %s: %w", k, err)
		}
	}
	return evaluate(hits, int64(limit), ttl, window), nil
}
