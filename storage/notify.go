package storage

import (
	"context"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"todo-app/domain"
)

// Notifier carries change notifications between writers and live subscriptions.
type Notifier interface {
	Publish(ctx context.Context, ev domain.Event) error
	Listen(ctx context.Context, collection string) (Listener, error)
}

// Listener receives a signal after changes to one collection. Bursts of
// changes may collapse into a single signal. C is closed once the listener
// stops.
type Listener interface {
	C() <-chan struct{}
	Close() error
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Broker is an in-process Notifier used when no Redis is configured.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[*brokerListener]struct{}
}

// NewBroker creates an empty Broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[*brokerListener]struct{})}
}

type brokerListener struct {
	b          *Broker
	collection string
	ch         chan struct{}
	once       sync.Once
}

func (l *brokerListener) C() <-chan struct{} { return l.ch }

func (l *brokerListener) Close() error {
	l.once.Do(func() {
		l.b.mu.Lock()
		delete(l.b.subs[l.collection], l)
		if len(l.b.subs[l.collection]) == 0 {
			delete(l.b.subs, l.collection)
		}
		close(l.ch)
		l.b.mu.Unlock()
	})
	return nil
}

func (b *Broker) Listen(_ context.Context, collection string) (Listener, error) {
	l := &brokerListener{b: b, collection: collection, ch: make(chan struct{}, 1)}
	b.mu.Lock()
	if b.subs[collection] == nil {
		b.subs[collection] = make(map[*brokerListener]struct{})
	}
	b.subs[collection][l] = struct{}{}
	b.mu.Unlock()
	return l, nil
}

func (b *Broker) Publish(_ context.Context, ev domain.Event) error {
	b.mu.Lock()
	for l := range b.subs[ev.Collection] {
		signal(l.ch)
	}
	b.mu.Unlock()
	return nil
}

// RedisNotifier publishes change events on a Redis channel per collection so
// every process sharing the store sees every write.
type RedisNotifier struct {
	rc     *redis.Client
	prefix string
	logger *log.Logger
}

// NewRedisNotifier creates a notifier publishing on "<prefix>:<collection>".
func NewRedisNotifier(rc *redis.Client, prefix string, logger *log.Logger) *RedisNotifier {
	if prefix == "" {
		prefix = "changes"
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &RedisNotifier{rc: rc, prefix: prefix, logger: logger}
}

func (n *RedisNotifier) channel(collection string) string {
	return n.prefix + ":" + collection
}

func (n *RedisNotifier) Publish(ctx context.Context, ev domain.Event) error {
	payload, err := sonic.Marshal(ev)
	if err != nil {
		return err
	}
	return n.rc.Publish(ctx, n.channel(ev.Collection), payload).Err()
}

// Listen subscribes to the collection channel. It returns once Redis has
// confirmed the subscription, so writes made afterwards are never missed.
func (n *RedisNotifier) Listen(ctx context.Context, collection string) (Listener, error) {
	sub := n.rc.Subscribe(ctx, n.channel(collection))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}
	l := &redisListener{sub: sub, ch: make(chan struct{}, 1)}
	go l.run(n.logger, n.channel(collection))
	return l, nil
}

type redisListener struct {
	sub  *redis.PubSub
	ch   chan struct{}
	once sync.Once
}

func (l *redisListener) run(logger *log.Logger, channel string) {
	defer close(l.ch)
	for msg := range l.sub.Channel() {
		var ev domain.Event
		if err := sonic.UnmarshalString(msg.Payload, &ev); err != nil {
			logger.Errorf("unable to parse change on %s: %v", channel, err)
			continue
		}
		logger.WithFields(log.Fields{"record": ev.RecordID, "type": ev.Type}).Debug("change received")
		signal(l.ch)
	}
}

func (l *redisListener) C() <-chan struct{} { return l.ch }

func (l *redisListener) Close() error {
	var err error
	l.once.Do(func() { err = l.sub.Close() })
	return err
}
