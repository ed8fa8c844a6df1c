// Package redis provides a store.Registry backed by Redis hashes.
//
// Each name is stored as a hash at <prefix>entry:<name> with the fields
// seq, author, tombstone, value and hash. A sorted set at <prefix>names
// indexes every stored name with score 0 so ZRANGEBYLEX returns names in
// byte order.
//
// Apply runs the conflict policy inside a Lua script, so the check and the
// mutation are atomic on the server. Seq values are compared as Lua
// numbers and must stay below 2^53.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/netrunner/regfeed/internal/ir"
	"github.com/netrunner/regfeed/internal/policy"
	"github.com/netrunner/regfeed/internal/store"
)

// DefaultPrefix namespaces every key written by the registry.
const DefaultPrefix = "regfeed:"

// applyScript returns the policy.Decision as an integer.
// KEYS: entry hash, name index. ARGV: seq, author, tombstone, value, hash,
// prune, name.
var applyScript = redis.NewScript(`
local function cmp(a, b)
  local n = math.min(#a, #b)
  for i = 1, n do
    local x, y = string.byte(a, i), string.byte(b, i)
    if x ~= y then
      if x < y then return -1 end
      return 1
    end
  end
  if #a == #b then return 0 end
  if #a < #b then return -1 end
  return 1
end

local cur = redis.call('HMGET', KEYS[1], 'seq', 'author')
local seq = tonumber(ARGV[1])
local author = ARGV[2]
local tomb = ARGV[3] == '1'
local prune = ARGV[6] == '1'
local exists = cur[1] ~= false

local newer = true
if exists then
  local cseq = tonumber(cur[1])
  if seq < cseq then
    newer = false
  elseif seq == cseq then
    newer = cmp(author, cur[2]) > 0
  end
end

local decision = 0
if not tomb then
  if newer then decision = 1 end
elseif exists then
  if newer then decision = 2 end
elseif not prune then
  decision = 3
end

if decision == 2 and prune then
  redis.call('DEL', KEYS[1])
  redis.call('ZREM', KEYS[2], ARGV[7])
elseif decision ~= 0 then
  redis.call('HSET', KEYS[1], 'seq', ARGV[1], 'author', author, 'tombstone', ARGV[3], 'value', ARGV[4], 'hash', ARGV[5])
  redis.call('ZADD', KEYS[2], 0, ARGV[7])
end
return decision
`)

// Registry stores entries in Redis.
type Registry struct {
	client *redis.Client
	prefix string
}

// Option configures a Registry.
type Option func(*Registry)

// WithPrefix sets the key prefix. The default is DefaultPrefix.
func WithPrefix(prefix string) Option {
	return func(r *Registry) {
		r.prefix = prefix
	}
}

// New creates a Registry over client.
func New(client *redis.Client, opts ...Option) *Registry {
	r := &Registry{
		client: client,
		prefix: DefaultPrefix,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) entryKey(name string) string {
	return r.prefix + "entry:" + name
}

func (r *Registry) indexKey() string {
	return r.prefix + "names"
}

// Get implements store.Registry.
func (r *Registry) Get(ctx context.Context, name string) (ir.Entry, bool, error) {
	fields, err := r.client.HGetAll(ctx, r.entryKey(name)).Result()
	if err != nil {
		return ir.Entry{}, false, fmt.Errorf("get %s: %w", name, err)
	}
	if len(fields) == 0 {
		return ir.Entry{}, false, nil
	}
	e, err := decodeEntry(name, fields)
	if err != nil {
		return ir.Entry{}, false, fmt.Errorf("get %s: %w", name, err)
	}
	return e, true, nil
}

// Put implements store.Registry.
func (r *Registry) Put(ctx context.Context, name string, e ir.Entry) error {
	args, err := encodeEntry(e)
	if err != nil {
		return fmt.Errorf("put %s: %w", name, err)
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.entryKey(name))
		pipe.HSet(ctx, r.entryKey(name), args)
		pipe.ZAdd(ctx, r.indexKey(), redis.Z{Score: 0, Member: name})
		return nil
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", name, err)
	}
	return nil
}

// Delete implements store.Registry.
func (r *Registry) Delete(ctx context.Context, name string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.entryKey(name))
		pipe.ZRem(ctx, r.indexKey(), name)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", name, err)
	}
	return nil
}

// Apply implements store.Conditional.
func (r *Registry) Apply(ctx context.Context, e ir.Entry, prune bool) (policy.Decision, error) {
	fields, err := encodeEntry(e)
	if err != nil {
		return policy.DecisionDrop, fmt.Errorf("apply %s: %w", e.Name, err)
	}
	pruneArg := "0"
	if prune {
		pruneArg = "1"
	}

	n, err := applyScript.Run(ctx, r.client,
		[]string{r.entryKey(e.Name), r.indexKey()},
		fields["seq"], fields["author"], fields["tombstone"], fields["value"], fields["hash"],
		pruneArg, e.Name,
	).Int()
	if err != nil {
		return policy.DecisionDrop, fmt.Errorf("apply %s: %w", e.Name, err)
	}
	return policy.Decision(n), nil
}

// List implements store.Lister.
func (r *Registry) List(ctx context.Context, opts store.ListOptions) ([]ir.Entry, error) {
	min, max := "-", "+"
	if opts.Prefix != "" {
		// Names are UTF-8, which never contains 0xff.
		min = "[" + opts.Prefix
		max = "[" + opts.Prefix + "\xff"
	}
	names, err := r.client.ZRangeByLex(ctx, r.indexKey(), &redis.ZRangeBy{Min: min, Max: max}).Result()
	if err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}

	pipe := r.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(names))
	for i, name := range names {
		cmds[i] = pipe.HGetAll(ctx, r.entryKey(name))
	}
	if len(names) > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, fmt.Errorf("list: %w", err)
		}
	}

	entries := []ir.Entry{}
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue // removed between the range and the fetch
		}
		e, err := decodeEntry(names[i], fields)
		if err != nil {
			return nil, fmt.Errorf("list: %w", err)
		}
		if e.Tombstone && !opts.IncludeTombstones {
			continue
		}
		entries = append(entries, e)
		if opts.Limit > 0 && len(entries) == opts.Limit {
			break
		}
	}
	return entries, nil
}

func encodeEntry(e ir.Entry) (map[string]string, error) {
	value := "{}"
	if len(e.Value) > 0 {
		data, err := ir.MarshalCanonical(e.Value)
		if err != nil {
			return nil, err
		}
		value = string(data)
	}
	hash, err := ir.EntryHash(e)
	if err != nil {
		return nil, err
	}
	tomb := "0"
	if e.Tombstone {
		tomb = "1"
	}
	return map[string]string{
		"seq":       strconv.FormatInt(e.Seq, 10),
		"author":    string(e.Author),
		"tombstone": tomb,
		"value":     value,
		"hash":      hash,
	}, nil
}

func decodeEntry(name string, fields map[string]string) (ir.Entry, error) {
	seq, err := strconv.ParseInt(fields["seq"], 10, 64)
	if err != nil {
		return ir.Entry{}, fmt.Errorf("decode %s seq: %w", name, err)
	}
	e := ir.Entry{
		Name:      name,
		Seq:       seq,
		Author:    ir.FeedID(fields["author"]),
		Tombstone: fields["tombstone"] == "1",
	}
	if v := fields["value"]; v != "" && v != "{}" {
		if err := json.Unmarshal([]byte(v), &e.Value); err != nil {
			return ir.Entry{}, fmt.Errorf("decode %s value: %w", name, err)
		}
	}
	return e, nil
}

var (
	_ store.Registry    = (*Registry)(nil)
	_ store.Conditional = (*Registry)(nil)
	_ store.Lister      = (*Registry)(nil)
)
