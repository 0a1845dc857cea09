package redisstore

// Server-side atomic scripts. Every mutation that touches more than one key
// runs as one of these so concurrent claimants and the recovery supervisor
// always observe a consistent job record. Job keys inside the scripts are
// derived from the key prefix passed in ARGV; the deployment targets a
// single Redis instance, not a cluster.

// Script replies use a small integer protocol:
//
//	-1  referenced record does not exist
//	-2  stale update (wrong owner or non-active status)
//	 0  no-op (idempotent repeat, stale progress, terminal target)
//	 1  mutation applied
//	 2  fail script only: terminal failed instead of requeue

const submitScript = `
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1], unpack(ARGV, 3))
redis.call('ZADD', KEYS[2], tonumber(ARGV[2]), ARGV[1])
return 1
`

// claimScript scans the pending queue in score order up to a bounded depth
// and assigns the first eligible job. Eligibility: the worker advertises the
// job's service, covers all required tags, and is not the worker the job
// last failed on (that clause only once the job has been retried).
//
// The worker hash is only touched when it exists: a claim must never
// fabricate a registry record for an unregistered claimant, or the recovery
// supervisor would see a live owner where there is none.
//
// KEYS: pending zset, active set, worker hash, worker jobs set
// ARGV: worker_id, now_ms, scan_depth, capabilities JSON, key prefix
const claimScript = `
local caps = cjson.decode(ARGV[4])
local services = {}
for _, s in ipairs(caps.services or {}) do services[s] = true end
local tags = {}
for _, t in ipairs(caps.tags or {}) do tags[t] = true end

local candidates = redis.call('ZRANGE', KEYS[1], 0, tonumber(ARGV[3]) - 1)
for _, id in ipairs(candidates) do
  local jk = ARGV[5] .. 'job:' .. id
  local j = redis.call('HMGET', jk, 'service_required', 'requirements', 'last_failed_worker', 'retry_count')
  local ok = services[j[1] or ''] == true
  if ok and j[2] and j[2] ~= '' then
    local reqs = cjson.decode(j[2])
    for _, r in ipairs(reqs) do
      if not tags[r] then
        ok = false
        break
      end
    end
  end
  if ok and tonumber(j[4] or '0') > 0 and j[3] == ARGV[1] then
    ok = false
  end
  if ok then
    redis.call('ZREM', KEYS[1], id)
    redis.call('SADD', KEYS[2], id)
    redis.call('HSET', jk, 'status', 'assigned', 'worker_id', ARGV[1], 'started_at', ARGV[2], 'updated_at', ARGV[2], 'progress', '0')
    redis.call('SADD', KEYS[4], id)
    if redis.call('EXISTS', KEYS[3]) == 1 then
      redis.call('HSET', KEYS[3], 'status', 'busy')
    end
    return redis.call('HGETALL', jk)
  end
end
return false
`

// progressScript enforces ownership unconditionally and drops regressing
// progress values within the current ownership epoch.
//
// KEYS: job hash
// ARGV: worker_id, now_ms, progress, status_text, estimated_completion
const progressScript = `
local st = redis.call('HMGET', KEYS[1], 'status', 'worker_id', 'progress')
if not st[1] then
  return -1
end
if st[1] ~= 'assigned' and st[1] ~= 'in_progress' then
  return -2
end
if st[2] ~= ARGV[1] then
  return -2
end
local cur = tonumber(st[3] or '0') or 0
local p = tonumber(ARGV[3])
if p < cur then
  return 0
end
redis.call('HSET', KEYS[1], 'status', 'in_progress', 'progress', ARGV[3], 'updated_at', ARGV[2])
if ARGV[4] ~= '' then
  redis.call('HSET', KEYS[1], 'status_text', ARGV[4])
end
if ARGV[5] ~= '' and ARGV[5] ~= '0' then
  redis.call('HSET', KEYS[1], 'estimated_completion', ARGV[5])
end
return 1
`

// completeScript transitions an owned active job to completed and returns
// the worker to idle once it holds no other jobs. A repeat completion is a
// no-op success.
//
// KEYS: job hash, active set, completed set, worker hash, worker jobs set
// ARGV: worker_id, now_ms, result, job_id
const completeScript = `
local st = redis.call('HMGET', KEYS[1], 'status', 'worker_id')
if not st[1] then
  return -1
end
if st[1] == 'completed' then
  return 0
end
if st[1] ~= 'assigned' and st[1] ~= 'in_progress' then
  return -2
end
if st[2] ~= ARGV[1] then
  return -2
end
redis.call('HSET', KEYS[1], 'status', 'completed', 'completed_at', ARGV[2], 'updated_at', ARGV[2], 'result', ARGV[3], 'progress', '100')
redis.call('HDEL', KEYS[1], 'worker_id')
redis.call('SREM', KEYS[2], ARGV[4])
redis.call('SADD', KEYS[3], ARGV[4])
redis.call('SREM', KEYS[5], ARGV[4])
if redis.call('EXISTS', KEYS[4]) == 1 then
  redis.call('HINCRBY', KEYS[4], 'jobs_completed', 1)
  if redis.call('SCARD', KEYS[5]) == 0 then
    redis.call('HSET', KEYS[4], 'status', 'idle')
  end
end
return 1
`

// failScript applies the retry policy: requeue with the original score when
// retries remain and the failure is retryable, terminal failed otherwise.
// The retry count never exceeds max_retries.
//
// KEYS: job hash, active set, failed set, pending zset, worker hash, worker jobs set
// ARGV: worker_id, now_ms, error, can_retry, job_id
const failScript = `
local st = redis.call('HMGET', KEYS[1], 'status', 'worker_id', 'retry_count', 'max_retries', 'score')
if not st[1] then
  return -1
end
if st[1] ~= 'assigned' and st[1] ~= 'in_progress' then
  if st[1] == 'failed' then
    return 0
  end
  return -2
end
if st[2] ~= ARGV[1] then
  return -2
end
local rc = tonumber(st[3] or '0')
local max = tonumber(st[4] or '0')
redis.call('SREM', KEYS[2], ARGV[5])
redis.call('SREM', KEYS[6], ARGV[5])
redis.call('HSET', KEYS[1], 'last_error', ARGV[3], 'last_failed_worker', ARGV[1], 'updated_at', ARGV[2])
redis.call('HDEL', KEYS[1], 'worker_id')
if redis.call('EXISTS', KEYS[5]) == 1 then
  redis.call('HINCRBY', KEYS[5], 'jobs_failed', 1)
  if redis.call('SCARD', KEYS[6]) == 0 then
    redis.call('HSET', KEYS[5], 'status', 'idle')
  end
end
if ARGV[4] == '1' and rc + 1 <= max then
  redis.call('HSET', KEYS[1], 'status', 'pending', 'retry_count', tostring(rc + 1), 'progress', '0')
  redis.call('HDEL', KEYS[1], 'started_at')
  redis.call('ZADD', KEYS[4], tonumber(st[5]), ARGV[5])
  return 1
end
redis.call('HSET', KEYS[1], 'status', 'failed', 'completed_at', ARGV[2])
redis.call('SADD', KEYS[3], ARGV[5])
return 2
`

// releaseScript returns an active job to the pending queue with its
// preserved score, leaving retry_count and last_failed_worker untouched.
//
// KEYS: job hash, active set, pending zset
// ARGV: job_id, now_ms, key prefix
const releaseScript = `
local st = redis.call('HMGET', KEYS[1], 'status', 'worker_id', 'score')
if not st[1] then
  return -1
end
if st[1] ~= 'assigned' and st[1] ~= 'in_progress' then
  return 0
end
local wid = st[2]
if not wid then
  wid = ''
end
redis.call('SREM', KEYS[2], ARGV[1])
if wid ~= '' then
  local wjk = ARGV[3] .. 'worker:' .. wid .. ':jobs'
  redis.call('SREM', wjk, ARGV[1])
end
redis.call('HSET', KEYS[1], 'status', 'pending', 'updated_at', ARGV[2], 'progress', '0')
redis.call('HDEL', KEYS[1], 'worker_id', 'started_at')
redis.call('ZADD', KEYS[3], tonumber(st[3]), ARGV[1])
return 1
`

// terminalScript moves a non-terminal job to the cancelled or timeout
// terminal state and reports who owned it so the caller can direct an abort
// to that worker. A terminal target is a no-op success. The owner returns
// to idle only from busy: a worker already marked offline stays offline.
//
// KEYS: job hash, pending zset, active set, destination set
// ARGV: job_id, now_ms, status, reason, key prefix
const terminalScript = `
local st = redis.call('HMGET', KEYS[1], 'status', 'worker_id')
if not st[1] then
  return -1
end
if st[1] == 'completed' or st[1] == 'failed' or st[1] == 'cancelled' or st[1] == 'timeout' then
  return 0
end
local wid = st[2]
if not wid then
  wid = ''
end
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('SREM', KEYS[3], ARGV[1])
if wid ~= '' then
  local wjk = ARGV[5] .. 'worker:' .. wid .. ':jobs'
  redis.call('SREM', wjk, ARGV[1])
  local wk = ARGV[5] .. 'worker:' .. wid
  if redis.call('SCARD', wjk) == 0 and redis.call('HGET', wk, 'status') == 'busy' then
    redis.call('HSET', wk, 'status', 'idle')
  end
end
redis.call('HSET', KEYS[1], 'status', ARGV[3], 'completed_at', ARGV[2], 'updated_at', ARGV[2], 'last_error', ARGV[4])
redis.call('HDEL', KEYS[1], 'worker_id')
redis.call('SADD', KEYS[4], ARGV[1])
return wid
`

// requeueScript reinserts an unworkable job with its preserved score and a
// cleared last_failed_worker so any future worker may take it.
//
// KEYS: job hash, pending zset, active set
// ARGV: job_id, now_ms, key prefix
const requeueScript = `
local st = redis.call('HMGET', KEYS[1], 'status', 'worker_id', 'score')
if not st[1] then
  return -1
end
if st[1] == 'completed' or st[1] == 'failed' or st[1] == 'cancelled' or st[1] == 'timeout' then
  return 0
end
local wid = st[2]
if not wid then
  wid = ''
end
redis.call('SREM', KEYS[3], ARGV[1])
if wid ~= '' then
  redis.call('SREM', ARGV[3] .. 'worker:' .. wid .. ':jobs', ARGV[1])
end
redis.call('HSET', KEYS[1], 'status', 'pending', 'updated_at', ARGV[2])
redis.call('HDEL', KEYS[1], 'worker_id', 'started_at', 'last_failed_worker')
redis.call('ZADD', KEYS[2], tonumber(st[3]), ARGV[1])
return 1
`

// finalizeExternalScript completes a job with the result reported by the
// external service, without an owner check: the owning worker may be gone.
// Used only by recovery reconciliation. Terminal jobs are left untouched.
//
// KEYS: job hash, pending zset, active set, completed set
// ARGV: job_id, now_ms, result, key prefix
const finalizeExternalScript = `
local st = redis.call('HMGET', KEYS[1], 'status', 'worker_id')
if not st[1] then
  return -1
end
if st[1] == 'completed' or st[1] == 'failed' or st[1] == 'cancelled' or st[1] == 'timeout' then
  return 0
end
local wid = st[2]
if not wid then
  wid = ''
end
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('SREM', KEYS[3], ARGV[1])
if wid ~= '' then
  local wjk = ARGV[4] .. 'worker:' .. wid .. ':jobs'
  redis.call('SREM', wjk, ARGV[1])
  local wk = ARGV[4] .. 'worker:' .. wid
  if redis.call('SCARD', wjk) == 0 and redis.call('HGET', wk, 'status') == 'busy' then
    redis.call('HSET', wk, 'status', 'idle')
  end
end
redis.call('HSET', KEYS[1], 'status', 'completed', 'completed_at', ARGV[2], 'updated_at', ARGV[2], 'result', ARGV[3], 'progress', '100')
redis.call('HDEL', KEYS[1], 'worker_id')
redis.call('SADD', KEYS[4], ARGV[1])
return 1
`

// serviceJobIDScript writes the external correlation id once; a set value
// is never rewritten.
//
// KEYS: job hash
// ARGV: service_job_id
const serviceJobIDScript = `
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
local cur = redis.call('HGET', KEYS[1], 'service_job_id')
if cur and cur ~= '' then
  return 0
end
redis.call('HSET', KEYS[1], 'service_job_id', ARGV[1])
return 1
`

// createWorkflowScript creates the workflow record only when absent.
//
// KEYS: workflow hash
// ARGV: field/value pairs
const createWorkflowScript = `
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1], unpack(ARGV))
return 1
`

// archiveWorkerScript preserves a garbage-collected worker's historical
// counters before deleting its record.
//
// KEYS: worker hash, workers active set, workers archive hash
// ARGV: worker_id, now_ms
const archiveWorkerScript = `
if redis.call('EXISTS', KEYS[1]) == 0 then
  redis.call('SREM', KEYS[2], ARGV[1])
  return 0
end
local w = redis.call('HMGET', KEYS[1], 'jobs_completed', 'jobs_failed', 'connected_at')
local doc = cjson.encode({
  jobs_completed = tonumber(w[1] or '0') or 0,
  jobs_failed = tonumber(w[2] or '0') or 0,
  connected_at = tonumber(w[3] or '0') or 0,
  archived_at = tonumber(ARGV[2]),
})
redis.call('HSET', KEYS[3], ARGV[1], doc)
redis.call('DEL', KEYS[1])
redis.call('SREM', KEYS[2], ARGV[1])
return 1
`
