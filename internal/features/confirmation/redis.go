package confirmation

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// confirmScript атомарно добавляет сторону в набор и проверяет кворум.
// KEYS[1] — набор подтверждений, KEYS[2] — маркер сработавшего кворума.
// ARGV: party, window ms, required, fired ttl ms.
var confirmScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[2]) == 1 then
  return {redis.call('SCARD', KEYS[1]), 0}
end
redis.call('SADD', KEYS[1], ARGV[1])
if redis.call('PTTL', KEYS[1]) < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
local n = redis.call('SCARD', KEYS[1])
if n >= tonumber(ARGV[3]) then
  if redis.call('SET', KEYS[2], '1', 'NX', 'PX', ARGV[4]) then
    return {n, 1}
  end
end
return {n, 0}
`)

// RedisStore хранит подтверждения в Redis SET с TTL окна.
type RedisStore struct {
	client redis.UniversalClient
	window time.Duration
}

// NewRedisStore создаёт хранилище поверх клиента go-redis.
func NewRedisStore(client redis.UniversalClient, window time.Duration) *RedisStore {
	if window <= 0 {
		window = DefaultWindow
	}
	return &RedisStore{client: client, window: window}
}

func (s *RedisStore) Confirm(ctx context.Context, transactionID, partyID int64, required int) (Result, error) {
	vals, err := confirmScript.Run(ctx, s.client,
		[]string{Key(transactionID), firedKey(transactionID)},
		partyID, s.window.Milliseconds(), required, firedTTL.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Result{}, fmt.Errorf("redis confirm %d: %w", transactionID, err)
	}
	if len(vals) != 2 {
		return Result{}, fmt.Errorf("redis confirm %d: unexpected reply %v", transactionID, vals)
	}
	return Result{Confirmed: int(vals[0]), QuorumReached: vals[1] == 1}, nil
}

func (s *RedisStore) Reset(ctx context.Context, transactionID int64) error {
	if err := s.client.Del(ctx, Key(transactionID), firedKey(transactionID)).Err(); err != nil {
		return fmt.Errorf("redis reset %d: %w", transactionID, err)
	}
	return nil
}

func (s *RedisStore) Release(ctx context.Context, transactionID int64) error {
	if err := s.client.Del(ctx, firedKey(transactionID)).Err(); err != nil {
		return fmt.Errorf("redis release %d: %w", transactionID, err)
	}
	return nil
}
