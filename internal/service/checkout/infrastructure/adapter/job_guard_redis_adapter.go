package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/pkg/jobqueue"
	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/pkg/redis"
)

const (
	acquireJobScriptName = "job_guard_acquire"

	defaultLeaseTTL = 5 * time.Minute
	defaultDoneTTL  = 24 * time.Hour
)

// RedisJobGuard 是 jobqueue.Guard 的 Redis 实现。
// 执行中的任务持有一个带过期时间的租约，完成后留下一个 done 标记，重复投递直接跳过。
type RedisJobGuard struct {
	redisClient *redis.Client
	leaseTTL    time.Duration
	doneTTL     time.Duration
}

func NewRedisJobGuard(redisClient *redis.Client) (*RedisJobGuard, error) {
	if err := redisClient.LoadScriptFromContent(acquireJobScriptName, acquireJobScript); err != nil {
		return nil, fmt.Errorf("failed to load job guard script: %w", err)
	}
	return &RedisJobGuard{
		redisClient: redisClient,
		leaseTTL:    defaultLeaseTTL,
		doneTTL:     defaultDoneTTL,
	}, nil
}

func leaseKey(jobID string) string { return fmt.Sprintf("checkout:job:{%s}:lease", jobID) }
func doneKey(jobID string) string  { return fmt.Sprintf("checkout:job:{%s}:done", jobID) }

func (g *RedisJobGuard) Acquire(ctx context.Context, jobID string) (jobqueue.GuardState, error) {
	keys := []string{doneKey(jobID), leaseKey(jobID)}
	result, err := g.redisClient.RunScript(ctx, acquireJobScriptName, keys, g.leaseTTL.Milliseconds())
	if err != nil {
		return 0, fmt.Errorf("job guard failed to run script: %w", err)
	}
	code, ok := result.(int64)
	if !ok {
		return 0, fmt.Errorf("unexpected result type from Lua script: %T", result)
	}
	switch code {
	case 1:
		return jobqueue.GuardAcquired, nil
	case 0:
		return jobqueue.GuardBusy, nil
	case 2:
		return jobqueue.GuardDone, nil
	default:
		return 0, fmt.Errorf("unknown result code from job guard script: %d", code)
	}
}

func (g *RedisJobGuard) Complete(ctx context.Context, jobID string) error {
	return g.redisClient.GetClient().Set(ctx, doneKey(jobID), 1, g.doneTTL).Err()
}

func (g *RedisJobGuard) Release(ctx context.Context, jobID string) error {
	return g.redisClient.GetClient().Del(ctx, leaseKey(jobID)).Err()
}

var acquireJobScript = `
-- KEYS[1]: 任务完成标记, 例如: checkout:job:{post-payment:o-1}:done
-- KEYS[2]: 任务执行租约, 例如: checkout:job:{post-payment:o-1}:lease
-- ARGV[1]: 租约时长（毫秒）

if redis.call('exists', KEYS[1]) == 1 then
    return 2 -- 已完成
end

if redis.call('set', KEYS[2], 1, 'NX', 'PX', ARGV[1]) then
    return 1 -- 拿到租约
end

return 0 -- 其他实例正在执行
`
