package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/execsync/internal/domain"
)

// SeenSet implements domain.SeenSet with one SET NX key per member, so
// membership survives restarts and expires after ttl.
type SeenSet struct {
	client *Client
	name   string
	ttl    time.Duration
}

// NewSeenSet creates a SeenSet whose keys live under name.
func NewSeenSet(c *Client, name string, ttl time.Duration) *SeenSet {
	return &SeenSet{client: c, name: name, ttl: ttl}
}

func (s *SeenSet) key(member string) string {
	return s.client.Key("seen:" + s.name + ":" + member)
}

// MarkSeen records member and reports whether it was already present.
func (s *SeenSet) MarkSeen(ctx context.Context, member string) (bool, error) {
	added, err := s.client.Underlying().SetNX(ctx, s.key(member), 1, s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: mark seen %s: %w", member, err)
	}
	return !added, nil
}

// Forget deletes members.
func (s *SeenSet) Forget(ctx context.Context, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	keys := make([]string, len(members))
	for i, m := range members {
		keys[i] = s.key(m)
	}
	if err := s.client.Underlying().Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis: forget %d seen keys: %w", len(keys), err)
	}
	return nil
}

var _ domain.SeenSet = (*SeenSet)(nil)
