package scheduler

import (
	redis "github.com/redis/go-redis/v9"
)

// KEYS[1] scheduled set, KEYS[2] job hash. ARGV[1] job id.
// The hash is only dropped when the job was still waiting, a running job
// keeps it until it completes.
var cancelScript = redis.NewScript(`
local removed = redis.call('ZREM', KEYS[1], ARGV[1])
if removed == 1 then
	redis.call('DEL', KEYS[2])
end
return removed
`)

// KEYS[1] scheduled set, KEYS[2] active set.
// ARGV[1] now (unix ms), ARGV[2] lease deadline (unix ms), ARGV[3] limit.
var claimScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[3])
for _, id in ipairs(ids) do
	redis.call('ZREM', KEYS[1], id)
	redis.call('ZADD', KEYS[2], ARGV[2], id)
end
return ids
`)

// KEYS[1] active set, KEYS[2] scheduled set. ARGV[1] job id, ARGV[2] job key
// prefix. The job may have been scheduled again while it was running, in that
// case the new hash must survive.
var completeScript = redis.NewScript(`
redis.call('ZREM', KEYS[1], ARGV[1])
if redis.call('ZSCORE', KEYS[2], ARGV[1]) == false then
	redis.call('DEL', ARGV[2] .. ARGV[1])
end
return 1
`)

// KEYS[1] active set, KEYS[2] scheduled set.
// ARGV[1] now (unix ms), ARGV[2] limit, ARGV[3] job key prefix.
// Jobs whose lease expired are put back and their run counts as an attempt.
// A lease without a job hash, or whose job was scheduled again meanwhile, is
// only released.
var requeueScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
local requeued = 0
for _, id in ipairs(ids) do
	redis.call('ZREM', KEYS[1], id)
	local key = ARGV[3] .. id
	if redis.call('EXISTS', key) == 1 and redis.call('ZSCORE', KEYS[2], id) == false then
		redis.call('HINCRBY', key, 'attempts', 1)
		redis.call('ZADD', KEYS[2], ARGV[1], id)
		requeued = requeued + 1
	end
end
return requeued
`)

// KEYS[1] scheduled set, KEYS[2] job hash.
// ARGV[1] job id, ARGV[2] kind, ARGV[3] payload, ARGV[4] due (unix ms).
// A job that is waiting or running is left as it is.
var ensureScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[2]) == 1 then
	return 0
end
redis.call('HSET', KEYS[2], 'kind', ARGV[2], 'payload', ARGV[3], 'attempts', 0, 'due', ARGV[4])
redis.call('ZADD', KEYS[1], ARGV[4], ARGV[1])
return 1
`)
