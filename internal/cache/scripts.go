package cache

import "github.com/redis/go-redis/v9"

// reserveScript adds ARGV[1] to the day (KEYS[1]) and month (KEYS[2])
// counters only if neither would pass its ceiling (ARGV[2], ARGV[3]).
// Returns 0 on success, 1 when the day ceiling blocks, 2 for the month.
var reserveScript = redis.NewScript(`
local amount = tonumber(ARGV[1])
local day = tonumber(redis.call('GET', KEYS[1]) or '0')
local month = tonumber(redis.call('GET', KEYS[2]) or '0')
if day + amount > tonumber(ARGV[2]) then
  return 1
end
if month + amount > tonumber(ARGV[3]) then
  return 2
end
redis.call('INCRBY', KEYS[1], amount)
redis.call('EXPIRE', KEYS[1], ARGV[4])
redis.call('INCRBY', KEYS[2], amount)
redis.call('EXPIRE', KEYS[2], ARGV[5])
return 0
`)

// releaseScript subtracts ARGV[1] from each existing counter, never below zero.
var releaseScript = redis.NewScript(`
local amount = tonumber(ARGV[1])
for _, key in ipairs(KEYS) do
  if redis.call('EXISTS', key) == 1 then
    local v = redis.call('DECRBY', key, amount)
    if v < 0 then
      redis.call('SET', key, 0, 'KEEPTTL')
    end
  end
end
return 0
`)

// releaseLeaseScript deletes KEYS[1] only while it still holds ARGV[1].
var releaseLeaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)
