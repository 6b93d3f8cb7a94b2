package replay

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const redisKey = "freightwatch:events:recent"

// Redis keeps the recent-event tail in a capped redis list, so several
// service instances behind one redis share a replay window.
type Redis struct {
	client *redis.Client
	cap    int64
}

// NewRedis wraps an existing client. capacity bounds the retained tail.
func NewRedis(client *redis.Client, capacity int) *Redis {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Redis{client: client, cap: int64(capacity)}
}

// Append pushes the entry and trims the list to capacity.
func (r *Redis) Append(ctx context.Context, e Entry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("replay: encode entry: %w", err)
	}
	pipe := r.client.TxPipeline()
	pipe.RPush(ctx, redisKey, raw)
	pipe.LTrim(ctx, redisKey, -r.cap, -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("replay: append: %w", err)
	}
	return nil
}

// Since scans the retained tail for lastEventID and returns the newer
// entries addressed to userID.
func (r *Redis) Since(ctx context.Context, lastEventID, userID string) ([]Entry, error) {
	if lastEventID == "" {
		return nil, nil
	}
	raws, err := r.client.LRange(ctx, redisKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("replay: range: %w", err)
	}
	start := -1
	entries := make([]Entry, 0, len(raws))
	for i, raw := range raws {
		var e Entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("replay: decode entry: %w", err)
		}
		entries = append(entries, e)
		if e.ID == lastEventID {
			start = i + 1
		}
	}
	if start < 0 {
		return nil, nil
	}
	var out []Entry
	for _, e := range entries[start:] {
		if e.TargetedAt(userID) {
			out = append(out, e)
		}
	}
	return out, nil
}
