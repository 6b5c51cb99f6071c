package redis

import goredis "github.com/redis/go-redis/v9"

// insertScript stores a document only when its id is new and then records the
// id in the kind's order list, so listings keep insertion order.
// KEYS: [1]=hash, [2]=order list. ARGV: [1]=id, [2]=json body.
var insertScript = goredis.NewScript(`
if redis.call('HSETNX', KEYS[1], ARGV[1], ARGV[2]) == 1 then
  redis.call('RPUSH', KEYS[2], ARGV[1])
  return 1
end
return 0
`)

// appendMetricScript appends a sample and trims the history to the newest
// ARGV[3] entries once it grows beyond ARGV[2].
// KEYS: [1]=list. ARGV: [1]=json body, [2]=cap, [3]=trim.
var appendMetricScript = goredis.NewScript(`
local n = redis.call('RPUSH', KEYS[1], ARGV[1])
if n > tonumber(ARGV[2]) then
  redis.call('LTRIM', KEYS[1], -tonumber(ARGV[3]), -1)
  n = tonumber(ARGV[3])
end
return n
`)

// renewLeaseScript extends the lease TTL only while ARGV[1] still holds it.
// KEYS: [1]=lease key. ARGV: [1]=holder id, [2]=ttl in milliseconds.
var renewLeaseScript = goredis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`)

// releaseLeaseScript deletes the lease only while ARGV[1] still holds it.
// KEYS: [1]=lease key. ARGV: [1]=holder id.
var releaseLeaseScript = goredis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)
