// Package cache provides Redis-backed decorators for outbound ports.
package cache

import (
	"context"
	"time"

	"labeler_server/core/domain"
	"labeler_server/core/port/out"
	"labeler_server/pkg/cache"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const defaultLedgerTTL = 24 * time.Hour

// LedgerCache is a read-through Redis cache in front of a LedgerStore.
// Only hits are cached; Redis failures fall through to the store.
type LedgerCache struct {
	store out.LedgerStore
	cache *cache.RedisCache
	ttl   time.Duration
	log   zerolog.Logger
}

var _ out.LedgerStore = (*LedgerCache)(nil)

// NewLedgerCache wraps store with a cache on client.
func NewLedgerCache(store out.LedgerStore, client *redis.Client, ttl time.Duration, log zerolog.Logger) *LedgerCache {
	if ttl <= 0 {
		ttl = defaultLedgerTTL
	}
	return &LedgerCache{
		store: store,
		cache: cache.NewRedisCache(client, "labeler:ledger:"),
		ttl:   ttl,
		log:   log.With().Str("component", "ledger_cache").Logger(),
	}
}

func entryKey(userID, messageID string) string {
	return userID + ":" + messageID
}

// FindByMessageIDs serves what it can from Redis and asks the store for the rest.
func (c *LedgerCache) FindByMessageIDs(ctx context.Context, userID string, ids []string) (map[string]*domain.LedgerEntry, error) {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = entryKey(userID, id)
	}

	result := make(map[string]*domain.LedgerEntry, len(ids))
	cached, err := c.cache.GetMulti(ctx, keys)
	if err != nil {
		c.log.Warn().Err(err).Msg("ledger cache read failed")
		cached = nil
	}

	var missing []string
	for i, id := range ids {
		raw, ok := cached[keys[i]]
		if !ok {
			missing = append(missing, id)
			continue
		}
		var entry domain.LedgerEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			missing = append(missing, id)
			continue
		}
		result[id] = &entry
	}

	if len(missing) == 0 {
		return result, nil
	}

	found, err := c.store.FindByMessageIDs(ctx, userID, missing)
	if err != nil {
		return nil, err
	}

	fill := make(map[string]any, len(found))
	for id, entry := range found {
		result[id] = entry
		fill[entryKey(userID, id)] = entry
	}
	if err := c.cache.SetMultiJSON(ctx, fill, c.ttl); err != nil {
		c.log.Warn().Err(err).Int("entries", len(fill)).Msg("ledger cache fill failed")
	}

	return result, nil
}

// Upsert writes through to the store, then refreshes the cached entry.
func (c *LedgerCache) Upsert(ctx context.Context, entry *domain.LedgerEntry) (domain.LedgerAction, error) {
	action, err := c.store.Upsert(ctx, entry)
	if err != nil {
		return action, err
	}
	if err := c.cache.SetJSON(ctx, entryKey(entry.UserID, entry.MessageID), entry, c.ttl); err != nil {
		c.log.Warn().Err(err).Str("message_id", entry.MessageID).Msg("ledger cache write failed")
		// a stale entry must not outlive the write
		_ = c.cache.Delete(ctx, entryKey(entry.UserID, entry.MessageID))
	}
	return action, nil
}

// Delete removes the entry from the store and evicts it.
func (c *LedgerCache) Delete(ctx context.Context, userID, messageID string) error {
	if err := c.cache.Delete(ctx, entryKey(userID, messageID)); err != nil {
		c.log.Warn().Err(err).Str("message_id", messageID).Msg("ledger cache evict failed")
	}
	return c.store.Delete(ctx, userID, messageID)
}
