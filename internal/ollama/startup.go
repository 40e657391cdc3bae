package ollama

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// EnsureReady checks that Ollama is up and has model, pulling it when missing
// with progress written to w. The model is then warmed up so the first
// question does not pay the load time. A failed warm-up is only reported.
func EnsureReady(ctx context.Context, c *Client, model string, w io.Writer) error {
	listCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	names, err := c.Models(listCtx)
	cancel()
	if err != nil {
		return errors.New("Ollama is not running. Start it with: ollama serve")
	}

	if !installed(names, model) {
		fmt.Fprintf(w, "model %s: pulling...\n", model)
		err := c.Pull(ctx, model, func(p PullProgress) {
			if pct := p.Percent(); pct >= 0 {
				fmt.Fprintf(w, "  %s %.0f%%\n", p.Status, pct)
			} else {
				fmt.Fprintf(w, "  %s\n", p.Status)
			}
		})
		if err != nil {
			return err
		}
	}
	fmt.Fprintf(w, "model %s: ready\n", model)

	warmCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if _, err := c.Complete(warmCtx, model, "ping"); err != nil {
		fmt.Fprintf(w, "model %s: warm-up failed: %v\n", model, err)
	} else {
		fmt.Fprintf(w, "model %s: warm\n", model)
	}
	return nil
}
