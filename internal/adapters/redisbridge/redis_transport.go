package redisbridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

type redisTransport struct {
	client *redis.Client
}

// Dial opens a pooled go-redis client and checks the connection.
func Dial(ctx context.Context, cfg Config) (Transport, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     10,
		MinIdleConns: 2,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &redisTransport{client: client}, nil
}

func (t *redisTransport) Publish(ctx context.Context, topic string, data []byte) error {
	return t.client.Publish(ctx, topic, data).Err()
}

func (t *redisTransport) Subscribe(ctx context.Context, topics ...string) (Inbox, error) {
	ps := t.client.Subscribe(ctx, topics...)
	// Receive blocks until Redis confirms the subscription.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}
	in := &redisInbox{ps: ps, out: make(chan []byte, 64)}
	go in.pump(ps.Channel())
	return in, nil
}

func (t *redisTransport) Close() error { return t.client.Close() }

type redisInbox struct {
	ps   *redis.PubSub
	out  chan []byte
	once sync.Once
}

func (in *redisInbox) pump(msgs <-chan *redis.Message) {
	defer close(in.out)
	for m := range msgs {
		in.out <- []byte(m.Payload)
	}
}

func (in *redisInbox) Messages() <-chan []byte { return in.out }

func (in *redisInbox) Close() error {
	var err error
	in.once.Do(func() { err = in.ps.Close() })
	return err
}
