package redis

import (
	"context"
)

// KeyInvalidationChannel carries API-key cache invalidations between proxy
// instances. Each instance stays correct without it (cache TTL bounds
// staleness); the channel just makes admin writes converge faster.
const KeyInvalidationChannel = "apikey:invalidate"

// PublishKeyInvalidation broadcasts that the key's cache entry must drop.
func PublishKeyInvalidation(ctx context.Context, key string) error {
	if client == nil {
		return nil
	}
	return client.Publish(ctx, KeyInvalidationChannel, key).Err()
}

// SubscribeKeyInvalidations delivers invalidated key strings to fn until the
// context is cancelled. Runs its own goroutine.
func SubscribeKeyInvalidations(ctx context.Context, fn func(key string)) {
	if client == nil {
		return
	}
	sub := client.Subscribe(ctx, KeyInvalidationChannel)
	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				fn(msg.Payload)
			}
		}
	}()
}
