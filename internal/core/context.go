package core

import (
	"context"
)

// requestContext turns the cancel channel go-fuse hands to each request into
// a context. The returned CancelFunc must be called once the request is done
// so the watcher goroutine exits.
func requestContext(cancel <-chan struct{}) (context.Context, context.CancelFunc) {
	ctx, stop := context.WithCancel(context.Background())
	if cancel == nil {
		return ctx, stop
	}
	go func() {
		select {
		case <-cancel:
			stop()
		case <-ctx.Done():
		}
	}()
	return ctx, stop
}
