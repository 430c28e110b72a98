package scheduler

import (
	"context"
	"log"
	"time"
)

type Task func(ctx context.Context) error

// Every runs task once right away, then on every tick until ctx is cancelled.
// A failing or panicking task is logged and the loop keeps ticking: one bad
// sync run must not kill the schedule for the rest of the process lifetime.
func Every(ctx context.Context, interval time.Duration, name string, task Task) {
	run := func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("[%s] panic: %v", name, r)
			}
		}()
		if err := task(ctx); err != nil {
			log.Printf("[%s] error: %v", name, err)
		}
	}

	go run()

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			run()
		}
	}
}
