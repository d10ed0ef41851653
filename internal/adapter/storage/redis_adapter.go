package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/rl1809/checkout/internal/port"
)

const (
	pendingPrefix = "pending:"
	donePrefix    = "done:"

	defaultPendingTTL   = 30 * time.Second
	defaultCompletedTTL = 24 * time.Hour
)

// Values are "pending:<token>" while a checkout runs and
// "done:<token>:<order id>" once it committed.
var completeScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if current == ARGV[1] then
	redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
	return 1
end
return 0
`)

var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	redis.call('DEL', KEYS[1])
	return 1
end
return 0
`)

type RedisAdapter struct {
	client       *redis.Client
	pendingTTL   time.Duration
	completedTTL time.Duration
}

// NewRedisAdapter returns an idempotency store. pendingTTL bounds how long a
// crashed request blocks its key; completedTTL is the replay window.
func NewRedisAdapter(client *redis.Client, pendingTTL, completedTTL time.Duration) *RedisAdapter {
	if pendingTTL <= 0 {
		pendingTTL = defaultPendingTTL
	}
	if completedTTL <= 0 {
		completedTTL = defaultCompletedTTL
	}
	return &RedisAdapter{client: client, pendingTTL: pendingTTL, completedTTL: completedTTL}
}

func (r *RedisAdapter) Reserve(ctx context.Context, key string) (port.Reservation, error) {
	token := uuid.NewString()

	// A key can expire between SETNX and GET; one retry covers that.
	for attempt := 0; attempt < 2; attempt++ {
		ok, err := r.client.SetNX(ctx, key, pendingPrefix+token, r.pendingTTL).Result()
		if err != nil {
			return port.Reservation{}, err
		}
		if ok {
			return port.Reservation{Acquired: true, Token: token}, nil
		}

		val, err := r.client.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return port.Reservation{}, err
		}
		return parseReservation(val)
	}

	return port.Reservation{}, fmt.Errorf("reserve %s: key churned", key)
}

func (r *RedisAdapter) Complete(ctx context.Context, key, token string, orderID int64) error {
	done := donePrefix + token + ":" + strconv.FormatInt(orderID, 10)
	res, err := completeScript.Run(ctx, r.client, []string{key},
		pendingPrefix+token, done, r.completedTTL.Milliseconds()).Int()
	if err != nil {
		return err
	}
	if res == 0 {
		return fmt.Errorf("complete %s: reservation lost", key)
	}
	return nil
}

func (r *RedisAdapter) Release(ctx context.Context, key, token string) error {
	return releaseScript.Run(ctx, r.client, []string{key}, pendingPrefix+token).Err()
}

func parseReservation(val string) (port.Reservation, error) {
	if token, ok := strings.CutPrefix(val, pendingPrefix); ok {
		return port.Reservation{Token: token}, nil
	}

	rest, ok := strings.CutPrefix(val, donePrefix)
	if !ok {
		return port.Reservation{}, fmt.Errorf("malformed idempotency value %q", val)
	}
	i := strings.LastIndexByte(rest, ':')
	if i < 0 {
		return port.Reservation{}, fmt.Errorf("malformed idempotency value %q", val)
	}
	orderID, err := strconv.ParseInt(rest[i+1:], 10, 64)
	if err != nil {
		return port.Reservation{}, fmt.Errorf("malformed idempotency value %q: %w", val, err)
	}
	return port.Reservation{Token: rest[:i], OrderID: orderID}, nil
}
