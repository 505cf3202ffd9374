package storage

import "context"

// Subscription delivers full ordered snapshots of a collection. The first
// snapshot is sent right after subscribing and a fresh one follows every
// change. A slow reader only ever sees the latest snapshot. C is closed when
// the subscription ends.
type Subscription struct {
	C <-chan []Record

	cancel context.CancelFunc
	done   chan struct{}
}

// Close stops the subscription and waits for its goroutine to exit.
func (s *Subscription) Close() {
	s.cancel()
	<-s.done
}

// Subscribe opens a live query on collection. It ends when ctx is cancelled
// or Close is called.
func (c *Client) Subscribe(ctx context.Context, collection string, order Order) (*Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)
	l, err := c.notifier.Listen(ctx, collection)
	if err != nil {
		cancel()
		return nil, err
	}
	out := make(chan []Record, 1)
	s := &Subscription{C: out, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(s.done)
		defer close(out)
		defer l.Close()
		logger := c.logger.WithField("collection", collection)
		for {
			recs, err := c.snapshot(ctx, collection, order)
			switch {
			case err == nil:
				offer(out, recs)
			case ctx.Err() != nil:
				return
			default:
				// the next change triggers another attempt
				logger.Errorf("snapshot: %v", err)
			}
			select {
			case <-ctx.Done():
				return
			case _, ok := <-l.C():
				if !ok {
					logger.Warn("change listener closed")
					return
				}
			}
		}
	}()
	return s, nil
}

// offer replaces any unread value in ch with v. ch must have a single sender.
func offer[T any](ch chan T, v T) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

