package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/davidleathers/guardian-recovery/internal/domain/guardian"
	"github.com/davidleathers/guardian-recovery/internal/domain/values"
	"github.com/davidleathers/guardian-recovery/internal/service/protocol"
)

const (
	guardianKeyPrefix   = "guardian:"
	generationKeyPrefix = "guardian-gen:"
)

// fillScript writes the entry only while the generation still matches.
// Generation counters carry no TTL; there is one per invalidated guardian.
var fillScript = redis.NewScript(`
if (redis.call('GET', KEYS[2]) or '0') ~= ARGV[1] then
	return 0
end
if tonumber(ARGV[3]) > 0 then
	redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
else
	redis.call('SET', KEYS[1], ARGV[2])
end
return 1
`)

var _ protocol.GuardianCache = (*GuardianCache)(nil)

// GuardianCache keeps guardian snapshots in Redis. Cache failures are logged
// and treated as misses so the store stays authoritative.
type GuardianCache struct {
	client redis.UniversalClient
	ttl    time.Duration
	logger *zap.Logger
}

func NewGuardianCache(client redis.UniversalClient, ttl time.Duration, logger *zap.Logger) *GuardianCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GuardianCache{
		client: client,
		ttl:    ttl,
		logger: logger.Named("guardian_cache"),
	}
}

func guardianKey(addr values.Address) string {
	return guardianKeyPrefix + addr.String()
}

func generationKey(addr values.Address) string {
	return generationKeyPrefix + addr.String()
}

// Get returns the cached guardian. On a miss it returns the generation a
// later Set must present; -1 when Redis could not be read.
func (c *GuardianCache) Get(ctx context.Context, addr values.Address) (*guardian.Guardian, int64, bool) {
	vals, err := c.client.MGet(ctx, guardianKey(addr), generationKey(addr)).Result()
	if err != nil {
		c.logger.Warn("guardian cache get failed", zap.String("guardian", addr.String()), zap.Error(err))
		return nil, -1, false
	}

	gen, err := parseGeneration(vals[1])
	if err != nil {
		c.logger.Warn("unreadable guardian generation", zap.String("guardian", addr.String()), zap.Error(err))
		return nil, -1, false
	}
	data, ok := vals[0].(string)
	if !ok {
		return nil, gen, false
	}

	var g guardian.Guardian
	if err := json.Unmarshal([]byte(data), &g); err != nil {
		c.logger.Warn("dropping undecodable guardian entry", zap.String("guardian", addr.String()), zap.Error(err))
		c.client.Del(ctx, guardianKey(addr))
		return nil, gen, false
	}
	return &g, gen, true
}

// Set fills the entry for g unless g.Address was invalidated after the Get
// that returned gen
func (c *GuardianCache) Set(ctx context.Context, g *guardian.Guardian, gen int64) {
	if gen < 0 {
		return
	}
	data, err := json.Marshal(g)
	if err != nil {
		c.logger.Error("failed to encode guardian", zap.String("guardian", g.Address.String()), zap.Error(err))
		return
	}
	keys := []string{guardianKey(g.Address), generationKey(g.Address)}
	stored, err := fillScript.Run(ctx, c.client, keys, gen, data, c.ttl.Milliseconds()).Int()
	if err != nil {
		c.logger.Warn("guardian cache set failed", zap.String("guardian", g.Address.String()), zap.Error(err))
		return
	}
	if stored == 0 {
		c.logger.Debug("skipped stale guardian fill", zap.String("guardian", g.Address.String()), zap.Int64("generation", gen))
	}
}

// Invalidate bumps each address's generation before deleting its entry, so
// a fill that read the store earlier can no longer land
func (c *GuardianCache) Invalidate(ctx context.Context, addrs ...values.Address) {
	if len(addrs) == 0 {
		return
	}
	keys := make([]string, len(addrs))
	_, err := c.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, a := range addrs {
			keys[i] = guardianKey(a)
			pipe.Incr(ctx, generationKey(a))
			pipe.Del(ctx, keys[i])
		}
		return nil
	})
	if err != nil {
		// a stale entry lives at most one TTL
		c.logger.Error("guardian cache invalidation failed", zap.Strings("keys", keys), zap.Error(err))
	}
}

func parseGeneration(v interface{}) (int64, error) {
	if v == nil {
		return 0, nil
	}
	s, ok := v.(string)
	if !ok {
		return 0, fmt.Errorf("unexpected generation type %T", v)
	}
	return strconv.ParseInt(s, 10, 64)
}
