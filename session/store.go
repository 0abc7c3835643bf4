package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// dropUserIfEmptyLua removes the user from the users index once neither a
// session nor a refresh token remains. Expects base (p:u:{uid}), users key
// and uid in locals.
const dropUserIfEmptyLua = `
local function drop_user_if_empty(base, users_key, uid)
  if redis.call("HLEN", base .. ":set") == 0 and redis.call("HLEN", base .. ":refresh") == 0 then
    redis.call("DEL", base .. ":order")
    redis.call("ZREM", users_key, uid)
  end
end
`

const createSessionScript = `
local set_key = KEYS[1]
local order_key = KEYS[2]
local rec_key = KEYS[3]
local refresh_key = KEYS[4]
local users_key = KEYS[5]
local seq_key = KEYS[6]
local uid = ARGV[1]
local pat = ARGV[2]
local token = ARGV[3]
local rec_prefix = ARGV[4]
local rt_prefix = ARGV[5]
local evict_count = tonumber(ARGV[6])

if redis.call("HEXISTS", set_key, pat) == 1 or redis.call("EXISTS", rec_key) == 1 then
  return -1
end

local evicted = 0
for i = 7, 6 + evict_count do
  local old = ARGV[i]
  local old_rec = rec_prefix .. old
  local old_refresh = redis.call("HGET", old_rec, "refresh")
  if old_refresh and old_refresh ~= "" then
    redis.call("HDEL", refresh_key, old_refresh)
    redis.call("DEL", rt_prefix .. old_refresh)
  end
  redis.call("DEL", old_rec)
  redis.call("ZREM", order_key, old)
  evicted = evicted + redis.call("HDEL", set_key, old)
end

local fields = {}
for i = 7 + evict_count, #ARGV do
  fields[#fields + 1] = ARGV[i]
end

local seq = redis.call("INCR", seq_key)
redis.call("ZADD", order_key, seq, pat)
redis.call("HSET", set_key, pat, token)
redis.call("HSET", rec_key, unpack(fields))
redis.call("ZADD", users_key, 0, uid)
return evicted
`

var createSessionLua = redis.NewScript(createSessionScript)

const linkRefreshScript = `
local rec_key = KEYS[1]
local refresh_key = KEYS[2]
local rt_key = KEYS[3]
local users_key = KEYS[4]
local token = ARGV[1]
local exp = ARGV[2]
local uid = ARGV[3]
local pat = ARGV[4]
local expire_at = ARGV[5]
local rt_prefix = ARGV[6]

if redis.call("EXISTS", rec_key) == 0 then
  return 0
end
if redis.call("EXISTS", rt_key) == 1 then
  return -1
end

local prev = redis.call("HGET", rec_key, "refresh")
if prev and prev ~= "" and prev ~= token then
  redis.call("HDEL", refresh_key, prev)
  redis.call("DEL", rt_prefix .. prev)
end

redis.call("HSET", refresh_key, token, exp)
redis.call("HSET", rt_key, "uid", uid, "pat", pat, "exp", exp)
redis.call("EXPIREAT", rt_key, expire_at)
redis.call("HSET", rec_key, "refresh", token)
redis.call("ZADD", users_key, 0, uid)
return 1
`

var linkRefreshLua = redis.NewScript(linkRefreshScript)

const (
	consumeStatusNotFound int64 = 0
	consumeStatusExpired  int64 = 1
	consumeStatusConsumed int64 = 2
)

// The refresh record is deleted before anything else, so of two concurrent
// callers exactly one sees it.
const consumeRefreshScript = dropUserIfEmptyLua + `
local rt_key = KEYS[1]
local users_key = KEYS[2]
local token = ARGV[1]
local now = tonumber(ARGV[2])
local user_prefix = ARGV[3]

local data = redis.call("HGETALL", rt_key)
if #data == 0 then
  return {0}
end
local f = {}
for i = 1, #data, 2 do
  f[data[i]] = data[i + 1]
end
redis.call("DEL", rt_key)

local uid = f["uid"] or ""
local pat = f["pat"] or ""
local exp = tonumber(f["exp"] or "0") or 0
local base = user_prefix .. uid
redis.call("HDEL", base .. ":refresh", token)

if exp < now then
  if pat ~= "" then
    local rec = base .. ":rec:" .. pat
    if redis.call("HGET", rec, "refresh") == token then
      redis.call("HSET", rec, "refresh", "")
    end
  end
  drop_user_if_empty(base, users_key, uid)
  return {1, uid, pat, tostring(exp)}
end

if pat ~= "" then
  redis.call("HDEL", base .. ":set", pat)
  redis.call("ZREM", base .. ":order", pat)
  redis.call("DEL", base .. ":rec:" .. pat)
end
drop_user_if_empty(base, users_key, uid)
return {2, uid, pat, tostring(exp)}
`

var consumeRefreshLua = redis.NewScript(consumeRefreshScript)

const deleteSessionScript = dropUserIfEmptyLua + `
local users_key = KEYS[1]
local uid = ARGV[1]
local pat = ARGV[2]
local base = ARGV[3]
local rt_prefix = ARGV[4]
local rec = base .. ":rec:" .. pat

local refresh = redis.call("HGET", rec, "refresh")
if refresh and refresh ~= "" then
  redis.call("HDEL", base .. ":refresh", refresh)
  redis.call("DEL", rt_prefix .. refresh)
end

local existed = redis.call("HDEL", base .. ":set", pat)
existed = existed + redis.call("DEL", rec)
redis.call("ZREM", base .. ":order", pat)
drop_user_if_empty(base, users_key, uid)
if existed > 0 then
  return 1
end
return 0
`

var deleteSessionLua = redis.NewScript(deleteSessionScript)

const deleteAllScript = `
local users_key = KEYS[1]
local uid = ARGV[1]
local base = ARGV[2]
local rt_prefix = ARGV[3]

local pats = redis.call("HKEYS", base .. ":set")
for _, pat in ipairs(pats) do
  redis.call("DEL", base .. ":rec:" .. pat)
end
local ordered = redis.call("ZRANGE", base .. ":order", 0, -1)
for _, pat in ipairs(ordered) do
  redis.call("DEL", base .. ":rec:" .. pat)
end
local tokens = redis.call("HKEYS", base .. ":refresh")
for _, token in ipairs(tokens) do
  redis.call("DEL", rt_prefix .. token)
end
redis.call("DEL", base .. ":set", base .. ":order", base .. ":refresh")
redis.call("ZREM", users_key, uid)
return {#pats, #tokens}
`

var deleteAllLua = redis.NewScript(deleteAllScript)

// Expired PATs are dropped without their refresh token: the refresh grant
// exists to outlive the access token.
const pruneScript = dropUserIfEmptyLua + `
local users_key = KEYS[1]
local uid = ARGV[1]
local now = tonumber(ARGV[2])
local base = ARGV[3]
local rt_prefix = ARGV[4]

local tokens_removed = 0
local refresh_removed = 0

local pats = redis.call("HKEYS", base .. ":set")
for _, pat in ipairs(pats) do
  local rec = base .. ":rec:" .. pat
  local exp = tonumber(redis.call("HGET", rec, "exp") or "0") or 0
  if now > exp then
    redis.call("HDEL", base .. ":set", pat)
    redis.call("ZREM", base .. ":order", pat)
    redis.call("DEL", rec)
    tokens_removed = tokens_removed + 1
  end
end

local refresh = redis.call("HGETALL", base .. ":refresh")
for i = 1, #refresh, 2 do
  local token = refresh[i]
  local exp = tonumber(refresh[i + 1]) or 0
  if exp < now then
    redis.call("HDEL", base .. ":refresh", token)
    redis.call("DEL", rt_prefix .. token)
    refresh_removed = refresh_removed + 1
  end
end

drop_user_if_empty(base, users_key, uid)
return {tokens_removed, refresh_removed}
`

var pruneLua = redis.NewScript(pruneScript)

const touchScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
redis.call("HSET", KEYS[1], "last_used", ARGV[1])
return 1
`

var touchLua = redis.NewScript(touchScript)

// Store is the Redis-backed session store.
type Store struct {
	redis            redis.UniversalClient
	prefix           string
	refreshRetention time.Duration
}

// NewStore creates a session [Store] backed by the given Redis client.
// prefix sets the key namespace. Individual refresh records expire from
// Redis refreshRetention after their logical expiration.
func NewStore(rdb redis.UniversalClient, prefix string, refreshRetention time.Duration) *Store {
	if prefix == "" {
		prefix = "pat"
	}
	if refreshRetention < 0 {
		refreshRetention = 0
	}
	return &Store{redis: rdb, prefix: prefix, refreshRetention: refreshRetention}
}

func (s *Store) userBase(uid string) string    { return s.prefix + ":u:" + uid }
func (s *Store) setKey(uid string) string      { return s.userBase(uid) + ":set" }
func (s *Store) orderKey(uid string) string    { return s.userBase(uid) + ":order" }
func (s *Store) refreshKey(uid string) string  { return s.userBase(uid) + ":refresh" }
func (s *Store) recPrefix(uid string) string   { return s.userBase(uid) + ":rec:" }
func (s *Store) recKey(uid, pat string) string { return s.recPrefix(uid) + pat }
func (s *Store) rtPrefix() string              { return s.prefix + ":rt:" }
func (s *Store) rtKey(token string) string     { return s.rtPrefix() + token }
func (s *Store) usersKey() string              { return s.prefix + ":users" }
func (s *Store) seqKey() string                { return s.prefix + ":seq" }

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
}

// Load reads the full session state of uid.
//
//	Performance: 3 Redis commands plus one pipelined HGETALL per session.
func (s *Store) Load(ctx context.Context, uid string) (*Index, error) {
	pipe := s.redis.Pipeline()
	setCmd := pipe.HGetAll(ctx, s.setKey(uid))
	orderCmd := pipe.ZRange(ctx, s.orderKey(uid), 0, -1)
	refreshCmd := pipe.HGetAll(ctx, s.refreshKey(uid))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, unavailable(err)
	}

	set := setCmd.Val()
	ordered := make([]string, 0, len(set))
	seen := make(map[string]struct{}, len(set))
	for _, pat := range orderCmd.Val() {
		if _, ok := set[pat]; ok {
			ordered = append(ordered, pat)
			seen[pat] = struct{}{}
		}
	}
	for pat := range set {
		if _, ok := seen[pat]; !ok {
			ordered = append(ordered, pat)
		}
	}

	ix := NewIndex()
	if len(ordered) > 0 {
		recPipe := s.redis.Pipeline()
		recCmds := make([]*redis.MapStringStringCmd, len(ordered))
		for i, pat := range ordered {
			recCmds[i] = recPipe.HGetAll(ctx, s.recKey(uid, pat))
		}
		if _, err := recPipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
			return nil, unavailable(err)
		}
		for i, pat := range ordered {
			rec, err := DecodeRecord(recCmds[i].Val())
			if err != nil {
				// Orphan set entry; keep the token so it can still be listed and destroyed.
				rec = &Record{PAT: pat, UserID: uid}
			}
			rec.Token = set[pat]
			if err := ix.Add(rec); err != nil {
				return nil, err
			}
		}
	}

	for token, raw := range refreshCmd.Val() {
		exp, _ := strconv.ParseInt(raw, 10, 64)
		pat, _ := ix.RefreshPAT(token)
		ix.PutRefresh(token, pat, exp)
	}

	return ix, nil
}

// Active reports whether pat is in uid's session set.
func (s *Store) Active(ctx context.Context, uid, pat string) (bool, error) {
	ok, err := s.redis.HExists(ctx, s.setKey(uid), pat).Result()
	if err != nil {
		return false, unavailable(err)
	}
	return ok, nil
}

// Get reads one session record.
func (s *Store) Get(ctx context.Context, uid, pat string) (*Record, error) {
	fields, err := s.redis.HGetAll(ctx, s.recKey(uid, pat)).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	if len(fields) == 0 {
		return nil, ErrSessionNotFound
	}
	rec, err := DecodeRecord(fields)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Create appends rec to its user's session set and, in the same script,
// cascade-deletes the PATs named in evict. Returns how many were evicted.
//
//	Performance: 1 Lua script.
func (s *Store) Create(ctx context.Context, rec *Record, evict []string) (int, error) {
	uid := rec.UserID
	keys := []string{
		s.setKey(uid), s.orderKey(uid), s.recKey(uid, rec.PAT),
		s.refreshKey(uid), s.usersKey(), s.seqKey(),
	}
	fields := EncodeRecord(rec)
	args := make([]interface{}, 0, 6+len(evict)+len(fields))
	args = append(args, uid, rec.PAT, rec.Token, s.recPrefix(uid), s.rtPrefix(), len(evict))
	for _, pat := range evict {
		args = append(args, pat)
	}
	for _, f := range fields {
		args = append(args, f)
	}

	n, err := createSessionLua.Run(ctx, s.redis, keys, args...).Int64()
	if err != nil {
		return 0, unavailable(err)
	}
	if n < 0 {
		return 0, ErrPATCollision
	}
	return int(n), nil
}

// LinkRefresh binds a refresh token to an existing PAT and writes its
// individual lookup record. A token previously linked to the PAT is removed.
func (s *Store) LinkRefresh(ctx context.Context, uid, pat, token string, exp int64) error {
	keys := []string{s.recKey(uid, pat), s.refreshKey(uid), s.rtKey(token), s.usersKey()}
	expireAt := exp + int64(s.refreshRetention/time.Second)
	res, err := linkRefreshLua.Run(ctx, s.redis, keys,
		token, exp, uid, pat, expireAt, s.rtPrefix()).Int64()
	if err != nil {
		return unavailable(err)
	}
	switch res {
	case 0:
		return ErrSessionNotFound
	case -1:
		return ErrRefreshCollision
	}
	return nil
}

// LookupRefresh reads a refresh token's binding without consuming it.
func (s *Store) LookupRefresh(ctx context.Context, token string) (*RefreshBinding, error) {
	fields, err := s.redis.HGetAll(ctx, s.rtKey(token)).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	if len(fields) == 0 {
		return nil, ErrRefreshNotFound
	}
	exp, err := strconv.ParseInt(fields["exp"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: refresh exp: %v", ErrRecordCorrupt, err)
	}
	return &RefreshBinding{Token: token, UserID: fields["uid"], PAT: fields["pat"], ExpiresAt: exp}, nil
}

// ConsumeRefresh atomically deletes a refresh token and, unless it has
// expired, destroys the PAT it was bound to. Under concurrent calls with the
// same token exactly one returns a binding; the rest get ErrRefreshNotFound.
//
//	Performance: 1 Lua script.
func (s *Store) ConsumeRefresh(ctx context.Context, token string, now int64) (*RefreshBinding, error) {
	raw, err := consumeRefreshLua.Run(ctx, s.redis,
		[]string{s.rtKey(token), s.usersKey()},
		token, now, s.prefix+":u:").Slice()
	if err != nil {
		return nil, unavailable(err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty consume result", ErrRedisUnavailable)
	}

	status, _ := raw[0].(int64)
	if status == consumeStatusNotFound {
		return nil, ErrRefreshNotFound
	}
	if len(raw) < 4 {
		return nil, fmt.Errorf("%w: short consume result", ErrRecordCorrupt)
	}

	b := &RefreshBinding{Token: token}
	b.UserID, _ = raw[1].(string)
	b.PAT, _ = raw[2].(string)
	if expStr, ok := raw[3].(string); ok {
		b.ExpiresAt, _ = strconv.ParseInt(expStr, 10, 64)
	}

	if status == consumeStatusExpired {
		return b, ErrRefreshExpired
	}
	if status != consumeStatusConsumed {
		return nil, fmt.Errorf("%w: unexpected consume status %d", ErrRedisUnavailable, status)
	}
	return b, nil
}

// Delete removes one PAT with its record and linked refresh token. It
// reports whether anything existed.
//
//	Performance: 1 Lua script.
func (s *Store) Delete(ctx context.Context, uid, pat string) (bool, error) {
	n, err := deleteSessionLua.Run(ctx, s.redis, []string{s.usersKey()},
		uid, pat, s.userBase(uid), s.rtPrefix()).Int64()
	if err != nil {
		return false, unavailable(err)
	}
	return n == 1, nil
}

// DeleteAll clears every key belonging to uid.
func (s *Store) DeleteAll(ctx context.Context, uid string) (DeleteReport, error) {
	counts, err := deleteAllLua.Run(ctx, s.redis, []string{s.usersKey()},
		uid, s.userBase(uid), s.rtPrefix()).Int64Slice()
	if err != nil {
		return DeleteReport{}, unavailable(err)
	}
	if len(counts) != 2 {
		return DeleteReport{}, fmt.Errorf("%w: unexpected delete result", ErrRedisUnavailable)
	}
	return DeleteReport{Tokens: int(counts[0]), RefreshTokens: int(counts[1])}, nil
}

// Prune removes uid's access sessions whose exp passed and refresh tokens
// whose expiration passed.
func (s *Store) Prune(ctx context.Context, uid string, now int64) (DeleteReport, error) {
	counts, err := pruneLua.Run(ctx, s.redis, []string{s.usersKey()},
		uid, now, s.userBase(uid), s.rtPrefix()).Int64Slice()
	if err != nil {
		return DeleteReport{}, unavailable(err)
	}
	if len(counts) != 2 {
		return DeleteReport{}, fmt.Errorf("%w: unexpected prune result", ErrRedisUnavailable)
	}
	return DeleteReport{Tokens: int(counts[0]), RefreshTokens: int(counts[1])}, nil
}

// Touch sets last_used on an existing record. A missing record is a no-op
// and reports false.
func (s *Store) Touch(ctx context.Context, uid, pat string, now int64) (bool, error) {
	n, err := touchLua.Run(ctx, s.redis, []string{s.recKey(uid, pat)}, now).Int64()
	if err != nil {
		return false, unavailable(err)
	}
	return n == 1, nil
}

// Users pages the users index in lexical order, returning at most limit ids
// strictly after cursor. An empty cursor starts from the beginning.
func (s *Store) Users(ctx context.Context, cursor string, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}
	min := "-"
	if cursor != "" {
		min = "(" + cursor
	}
	ids, err := s.redis.ZRangeByLex(ctx, s.usersKey(), &redis.ZRangeBy{
		Min: min, Max: "+", Offset: 0, Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	return ids, nil
}

// UserCount returns the number of users holding session data.
func (s *Store) UserCount(ctx context.Context) (int, error) {
	n, err := s.redis.ZCard(ctx, s.usersKey()).Result()
	if err != nil {
		return 0, unavailable(err)
	}
	return int(n), nil
}

// Ping measures Redis round-trip latency.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return 0, unavailable(err)
	}
	return time.Since(start), nil
}
