package todo

import (
	"sync"

	"todo-app/domain"
	"todo-app/storage"
)

// Feed is a live, cancelable stream of todo list snapshots. It has a single
// consumer; a slow consumer only sees the latest snapshot.
type Feed struct {
	C <-chan []domain.Todo

	stop func()
	once sync.Once
}

func newFeed(sub *storage.Subscription) *Feed {
	out := make(chan []domain.Todo, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer close(out)
		for recs := range sub.C {
			latest(out, fromRecords(recs))
		}
	}()
	return &Feed{C: out, stop: func() {
		sub.Close()
		<-done
	}}
}

// Close cancels the feed. C is closed once pending work has stopped.
func (f *Feed) Close() {
	f.once.Do(f.stop)
}

func latest(ch chan []domain.Todo, v []domain.Todo) {
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
