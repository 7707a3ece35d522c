// Package cart addresses shopper carts in Redis. The storefront
// service owns cart reads and writes; payment completion only needs to
// empty one.
package cart

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Store locates carts in Redis keyed by user id, falling back to the
// guest session id for anonymous carts.
type Store struct {
	client redis.UniversalClient
}

func NewStore(client redis.UniversalClient) *Store {
	return &Store{client: client}
}

func key(userID, sessionID string) string {
	if userID != "" {
		return "cart:user:" + userID
	}
	return "cart:session:" + sessionID
}

// Clear removes the cart. Called after the first successful payment
// completion for an order.
func (s *Store) Clear(ctx context.Context, userID, sessionID string) error {
	if err := s.client.Del(ctx, key(userID, sessionID)).Err(); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}
