package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gdnshnk/pohw-registry-node-sub003/internal/ratelimit"
	"github.com/gdnshnk/pohw-registry-node-sub003/internal/reputation"
)

// historyTTL matches the rate limiter's 24h retention; the list key expires
// once an identity goes quiet, so Redis self-prunes what the tracker would
// have dropped anyway.
const historyTTL = 24 * time.Hour

// Redis mirrors gatekeeper state in Redis for multi-pod deployments where
// Postgres is too heavy or a shared hot window is wanted.
type Redis struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedis wraps an existing client. keyPrefix namespaces all keys and
// defaults to "pohw:gatekeeper:".
func NewRedis(client *redis.Client, keyPrefix string) *Redis {
	if keyPrefix == "" {
		keyPrefix = "pohw:gatekeeper:"
	}
	return &Redis{client: client, keyPrefix: keyPrefix}
}

// Reputation returns the stored record, or (nil, nil) when absent.
func (r *Redis) Reputation(ctx context.Context, identity string) (*reputation.Record, error) {
	data, err := r.client.Get(ctx, r.keyPrefix+"reputation:"+identity).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read reputation: %w", err)
	}
	var rec reputation.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode reputation: %w", err)
	}
	return &rec, nil
}

// SaveReputation upserts the full record.
func (r *Redis) SaveReputation(ctx context.Context, rec *reputation.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode reputation: %w", err)
	}
	if err := r.client.Set(ctx, r.keyPrefix+"reputation:"+rec.Identity, data, 0).Err(); err != nil {
		return fmt.Errorf("save reputation: %w", err)
	}
	return nil
}

// Submissions returns the identity's stored records, oldest first.
func (r *Redis) Submissions(ctx context.Context, identity string) ([]ratelimit.SubmissionRecord, error) {
	items, err := r.client.LRange(ctx, r.keyPrefix+"history:"+identity, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read submissions: %w", err)
	}
	out := make([]ratelimit.SubmissionRecord, 0, len(items))
	for _, item := range items {
		var rec ratelimit.SubmissionRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			return nil, fmt.Errorf("decode submission: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// AppendSubmission appends one record and refreshes the key's retention TTL.
func (r *Redis) AppendSubmission(ctx context.Context, rec ratelimit.SubmissionRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode submission: %w", err)
	}
	key := r.keyPrefix + "history:" + rec.Identity
	pipe := r.client.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.Expire(ctx, key, historyTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append submission: %w", err)
	}
	return nil
}

// AnomalyEntries returns the identity's entries, oldest first.
func (r *Redis) AnomalyEntries(ctx context.Context, identity string) ([]string, error) {
	items, err := r.client.LRange(ctx, r.keyPrefix+"anomalies:"+identity, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read anomalies: %w", err)
	}
	return items, nil
}

// AppendAnomaly appends one entry.
func (r *Redis) AppendAnomaly(ctx context.Context, identity, entry string) error {
	if err := r.client.RPush(ctx, r.keyPrefix+"anomalies:"+identity, entry).Err(); err != nil {
		return fmt.Errorf("append anomaly: %w", err)
	}
	return nil
}
