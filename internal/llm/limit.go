package llm

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

type limited struct {
	next    Completer
	limiter *rate.Limiter
}

// RateLimited spaces calls to next so that at most perMinute start in any
// minute, with a burst of one. Waiting honours ctx.
func RateLimited(next Completer, perMinute int) Completer {
	return &limited{
		next:    next,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1),
	}
}

func (l *limited) Complete(ctx context.Context, prompt string) (string, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}
	return l.next.Complete(ctx, prompt)
}
