package storage

import (
	"context"
	"strconv"
	"time"

	redis2 "CSProject/service/storage/redis"

	pkgerrors "github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RedisPresenceStore 多实例部署时共享的在线状态后端。
// key 约定：
//
//	pre:u:<user>   SET    成员=connID（带哈希标签无关，单key操作）
//	pre:ls:<user>  STRING 最近离线时间（Unix ms）
//
// 失败时各方法退化为"当前实例视角"，不会让连接建立失败。
type RedisPresenceStore struct {
	ttl time.Duration // 连接集合兜底 TTL，进程崩溃后的自愈
}

func NewRedisPresenceStore(ttl time.Duration) *RedisPresenceStore {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &RedisPresenceStore{ttl: ttl}
}

var ctx = context.Background()

func userSetKey(user string) string  { return "pre:u:" + user }
func lastSeenKey(user string) string { return "pre:ls:" + user }

func (s *RedisPresenceStore) AddConn(userID, connID string) int {
	pipe := redis2.GetRedis().TxPipeline()
	pipe.SAdd(ctx, userSetKey(userID), connID)
	pipe.Expire(ctx, userSetKey(userID), s.ttl)
	card := pipe.SCard(ctx, userSetKey(userID))
	if _, err := pipe.Exec(ctx); err != nil {
		return 1 // 退化：至少本连接在
	}
	return int(card.Val())
}

func (s *RedisPresenceStore) RemoveConn(userID, connID string) int {
	pipe := redis2.GetRedis().TxPipeline()
	pipe.SRem(ctx, userSetKey(userID), connID)
	card := pipe.SCard(ctx, userSetKey(userID))
	if _, err := pipe.Exec(ctx); err != nil {
		return 0
	}
	return int(card.Val())
}

func (s *RedisPresenceStore) ConnCount(userID string) int {
	n, err := redis2.GetRedis().SCard(ctx, userSetKey(userID)).Result()
	if err != nil {
		return 0
	}
	return int(n)
}

func (s *RedisPresenceStore) Conns(userID string) []string {
	members, err := redis2.GetRedis().SMembers(ctx, userSetKey(userID)).Result()
	if err != nil {
		return nil
	}
	return members
}

func (s *RedisPresenceStore) SetLastSeen(userID string, ts time.Time) {
	// Lua 保证单调：新值小于已存值时丢弃
	const lua = `
local cur = redis.call("GET", KEYS[1])
if cur and tonumber(cur) >= tonumber(ARGV[1]) then
  return 0
end
redis.call("SET", KEYS[1], ARGV[1])
return 1
`
	_ = redis.NewScript(lua).Run(ctx, redis2.GetRedis(),
		[]string{lastSeenKey(userID)}, ts.UnixMilli()).Err()
}

func (s *RedisPresenceStore) LastSeen(userID string) (time.Time, bool) {
	v, err := redis2.GetRedis().Get(ctx, lastSeenKey(userID)).Result()
	if pkgerrors.Is(err, redis.Nil) {
		return time.Time{}, false
	}
	if err != nil {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

// PublishPresenceEvent 粗粒度全局在线/离线事件（best-effort，UI 侧做列表小圆点用）。
// 事件：ONLINE:<user> / OFFLINE:<user>:<lastSeenMs>
func PublishPresenceEvent(channel, payload string) {
	if redis2.GetRedis() == nil {
		return
	}
	_ = redis2.GetRedis().Publish(ctx, channel, payload).Err()
}
