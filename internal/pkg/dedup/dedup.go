package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "taskhub:dedup:task:"

// Deduplicator 在一个短时间窗口内抑制完全相同的任务提交。
type Deduplicator struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewDeduplicator 创建去重器。
func NewDeduplicator(rdb *redis.Client, ttl time.Duration) *Deduplicator {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Deduplicator{
		rdb: rdb,
		ttl: ttl,
	}
}

// IsDuplicate 报告指纹在窗口内是否已出现过；首次出现时顺带记录。
func (d *Deduplicator) IsDuplicate(ctx context.Context, fingerprint string) (bool, error) {
	if d == nil || d.rdb == nil || fingerprint == "" {
		return false, nil
	}
	key := keyPrefix + fingerprint
	ok, err := d.rdb.SetNX(ctx, key, "1", d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup setnx: %w", err)
	}
	return !ok, nil
}

// Delete 主动清除指纹，使相同内容可以立即重新提交。
func (d *Deduplicator) Delete(ctx context.Context, fingerprint string) error {
	if d == nil || d.rdb == nil || fingerprint == "" {
		return nil
	}
	key := keyPrefix + fingerprint
	if err := d.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("dedup del: %w", err)
	}
	return nil
}

// Fingerprint 计算一次任务提交的内容指纹。
func Fingerprint(ownerID uint, title, description string) string {
	h := sha256.New()
	h.Write([]byte(strconv.FormatUint(uint64(ownerID), 10)))
	h.Write([]byte{0})
	h.Write([]byte(title))
	h.Write([]byte{0})
	h.Write([]byte(description))
	return hex.EncodeToString(h.Sum(nil))
}
