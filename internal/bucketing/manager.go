package bucketing

import (
	"hash"
	"sync"
	"time"

	"auth-token-service/internal/config"

	"github.com/spaolacci/murmur3"
)

// BucketingManager spreads accounts over a fixed number of Scylla partitions.
type BucketingManager struct {
	accountBuckets int
	hasherPool     sync.Pool
}

func NewBucketingManager(cfg *config.Config) *BucketingManager {
	return NewBucketingManagerWithBuckets(cfg.Bucketing.AccountBuckets)
}

func NewBucketingManagerWithBuckets(buckets int) *BucketingManager {
	if buckets <= 0 {
		buckets = 1
	}
	bm := &BucketingManager{accountBuckets: buckets}

	// Create pool of hash functions to avoid allocation overhead
	bm.hasherPool = sync.Pool{
		New: func() interface{} {
			return murmur3.New64()
		},
	}
	return bm
}

// AccountBucket returns a stable bucket in [0, accountBuckets).
func (bm *BucketingManager) AccountBucket(accountID string) int {
	return int(bm.getHash(accountID) % uint64(bm.accountBuckets))
}

// DateBucket returns the UTC day used to partition audit rows.
func (bm *BucketingManager) DateBucket(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func (bm *BucketingManager) AccountBuckets() int {
	return bm.accountBuckets
}

func (bm *BucketingManager) getHash(key string) uint64 {
	hasher := bm.hasherPool.Get().(hash.Hash64)
	defer bm.hasherPool.Put(hasher)

	hasher.Reset()
	hasher.Write([]byte(key))
	return hasher.Sum64()
}
