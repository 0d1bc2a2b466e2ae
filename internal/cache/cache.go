// Package cache is a best-effort Redis read-through cache for waitlist
// rank queries, so a read replica answering GET /waitlist/:courseId or a
// rank lookup does not need to go through the course lock that the
// in-process waitlist.Store (the source of truth) is guarded by. A cache
// miss or Redis outage degrades to "ask the owning node", it never blocks
// a mutating path.
package cache

import (
	"context"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"
)

// WaitlistCache mirrors a course's waitlist ranking into a Redis sorted
// set keyed by composite score, so rank queries can be served without
// acquiring the course's in-process lock.
type WaitlistCache struct {
	rdb *redis.Client
}

// New wraps an existing Redis client.
func New(rdb *redis.Client) *WaitlistCache {
	return &WaitlistCache{rdb: rdb}
}

func waitlistKey(courseID string) string {
	return fmt.Sprintf("registrar:waitlist:%s", courseID)
}

// Sync replaces the cached ranking for courseId with the given
// studentId -> compositeScore pairs. Errors are logged, not returned: a
// stale or absent cache entry only degrades rank queries to a store
// round-trip, it never corrupts state.
func (c *WaitlistCache) Sync(ctx context.Context, courseID string, scores map[string]float64) {
	if c == nil || c.rdb == nil {
		return
	}
	key := waitlistKey(courseID)
	pipe := c.rdb.TxPipeline()
	pipe.Del(ctx, key)
	if len(scores) > 0 {
		members := make([]redis.Z, 0, len(scores))
		for studentID, score := range scores {
			members = append(members, redis.Z{Score: score, Member: studentID})
		}
		pipe.ZAdd(ctx, key, members...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("cache: failed to sync waitlist for course %s: %v", courseID, err)
	}
}

// RankOf returns studentId's 1-based rank within courseId's cached
// waitlist. ok is false on a cache miss (absent key or Redis error), in
// which case the caller should fall back to the authoritative store.
func (c *WaitlistCache) RankOf(ctx context.Context, courseID, studentID string) (rank int, ok bool) {
	if c == nil || c.rdb == nil {
		return 0, false
	}
	// ZREVRANK: higher score = better rank, matching compositeScore DESC.
	r, err := c.rdb.ZRevRank(ctx, waitlistKey(courseID), studentID).Result()
	if err != nil {
		return 0, false
	}
	return int(r) + 1, true
}

// TopK returns up to k studentIds ordered by descending composite score
// from the cache, or ok=false on a miss.
func (c *WaitlistCache) TopK(ctx context.Context, courseID string, k int) (studentIDs []string, ok bool) {
	if c == nil || c.rdb == nil {
		return nil, false
	}
	members, err := c.rdb.ZRevRange(ctx, waitlistKey(courseID), 0, int64(k)-1).Result()
	if err != nil {
		return nil, false
	}
	return members, true
}

// Drop removes courseId's cached ranking entirely. No registration
// operation calls it: closing a course's booking leaves its waitlist and
// cached ranking in place.
func (c *WaitlistCache) Drop(ctx context.Context, courseID string) {
	if c == nil || c.rdb == nil {
		return
	}
	if err := c.rdb.Del(ctx, waitlistKey(courseID)).Err(); err != nil {
		log.Printf("cache: failed to drop waitlist cache for course %s: %v", courseID, err)
	}
}
