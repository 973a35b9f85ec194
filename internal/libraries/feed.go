package libraries

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const feedPrefix = "board:"

// Feed fans confirmed entries out beyond this process.
type Feed interface {
	Publish(ctx context.Context, boardID string, payload []byte) error
}

// RedisFeed publishes every confirmed entry of a board on the redis channel
// "board:<id>".
type RedisFeed struct {
	rdb *redis.Client
}

func NewRedisFeed(ctx context.Context, addr string) (*RedisFeed, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("could not connect to redis at %s: %w", addr, err)
	}
	return &RedisFeed{rdb: rdb}, nil
}

func FeedChannel(boardID string) string {
	return feedPrefix + boardID
}

func (f *RedisFeed) Publish(ctx context.Context, boardID string, payload []byte) error {
	return f.rdb.Publish(ctx, FeedChannel(boardID), payload).Err()
}

// Subscribe returns the raw entries published for a board until ctx ends.
func (f *RedisFeed) Subscribe(ctx context.Context, boardID string) <-chan []byte {
	pubsub := f.rdb.Subscribe(ctx, FeedChannel(boardID))
	out := make(chan []byte)
	go func() {
		defer close(out)
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

func (f *RedisFeed) Close() error {
	return f.rdb.Close()
}
