// Package redisstore implements store.Client on Redis. Each quiz lives in one
// JSON document (key {prefix}:doc:quizzes/{id}); a Lua script applies a whole
// write batch against the document in a single server-side step, replacing
// timestamp sentinels with the Redis server clock so stamped instants never
// depend on a client's clock. Change notifications fan out over pub/sub, one
// channel per document.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/musudik/iquiz/internal/store"
)

// applyScript mutates the addressed documents and returns the commit
// timestamp in unix milliseconds. KEYS are the touched document keys; ARGV[1]
// is the JSON write list, each entry addressing KEYS by 1-based index.
var applyScript = redis.NewScript(`
local t = redis.call('TIME')
local ms = t[1] * 1000 + math.floor(t[2] / 1000)

local function stamp(v)
  if type(v) == 'table' then
    for k, e in pairs(v) do v[k] = stamp(e) end
    return v
  end
  if v == '` + store.TimestampSentinel + `' then
    return ms
  end
  return v
end

local docs = {}
for i, key in ipairs(KEYS) do
  local raw = redis.call('GET', key)
  if raw then docs[i] = cjson.decode(raw) else docs[i] = nil end
end

local deleted = {}
local writes = cjson.decode(ARGV[1])
for _, w in ipairs(writes) do
  local i = w.k
  local segs = w.path
  if #segs == 0 then
    if w.op == 'del' then
      docs[i] = nil
      deleted[i] = true
    elseif w.op == 'merge' then
      local doc = docs[i]
      if type(doc) ~= 'table' then doc = {} end
      for k2, v2 in pairs(stamp(w.value)) do doc[k2] = v2 end
      docs[i] = doc
      deleted[i] = nil
    else
      docs[i] = stamp(w.value)
      deleted[i] = nil
    end
  else
    if type(docs[i]) ~= 'table' then docs[i] = {} end
    deleted[i] = nil
    local node = docs[i]
    for j = 1, #segs - 1 do
      local s = segs[j]
      if type(node[s]) ~= 'table' then node[s] = {} end
      node = node[s]
    end
    local leaf = segs[#segs]
    if w.op == 'del' then
      node[leaf] = nil
    elseif w.op == 'merge' then
      if type(node[leaf]) ~= 'table' then node[leaf] = {} end
      for k2, v2 in pairs(stamp(w.value)) do node[leaf][k2] = v2 end
    else
      node[leaf] = stamp(w.value)
    end
  end
end

for i, key in ipairs(KEYS) do
  if deleted[i] then
    redis.call('DEL', key)
  elseif docs[i] ~= nil then
    redis.call('SET', key, cjson.encode(docs[i]))
  end
end
return ms
`)

type Store struct {
	client redis.UniversalClient
	prefix string
}

func New(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "iquiz"
	}
	return &Store{client: client, prefix: prefix}
}

func (s *Store) Get(ctx context.Context, path string, dest any) error {
	segs := store.Split(path)
	switch {
	case len(segs) == 0:
		return fmt.Errorf("redisstore: get with empty path")
	case len(segs) == 1:
		return s.getCollection(ctx, segs[0], dest)
	}

	raw, err := s.client.Get(ctx, s.docKey(segs[0], segs[1])).Bytes()
	if err == redis.Nil {
		return fmt.Errorf("%w: %s", store.ErrNotFound, path)
	}
	if err != nil {
		return fmt.Errorf("redisstore: get %s: %w", path, err)
	}

	if len(segs) == 2 {
		if err := json.Unmarshal(raw, dest); err != nil {
			return fmt.Errorf("redisstore: decode %s: %w", path, err)
		}
		return nil
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("redisstore: decode %s: %w", path, err)
	}
	node, ok := descend(doc, segs[2:])
	if !ok {
		return fmt.Errorf("%w: %s", store.ErrNotFound, path)
	}
	sub, err := json.Marshal(node)
	if err != nil {
		return fmt.Errorf("redisstore: encode %s: %w", path, err)
	}
	if err := json.Unmarshal(sub, dest); err != nil {
		return fmt.Errorf("redisstore: decode %s: %w", path, err)
	}
	return nil
}

// getCollection assembles the {id: document} object for a root path, e.g.
// "quizzes", from the collection index set.
func (s *Store) getCollection(ctx context.Context, root string, dest any) error {
	ids, err := s.client.SMembers(ctx, s.indexKey(root)).Result()
	if err != nil {
		return fmt.Errorf("redisstore: index %s: %w", root, err)
	}

	out := make(map[string]json.RawMessage, len(ids))
	if len(ids) > 0 {
		keys := make([]string, len(ids))
		for i, id := range ids {
			keys[i] = s.docKey(root, id)
		}
		vals, err := s.client.MGet(ctx, keys...).Result()
		if err != nil {
			return fmt.Errorf("redisstore: mget %s: %w", root, err)
		}
		for i, v := range vals {
			if raw, ok := v.(string); ok {
				out[ids[i]] = json.RawMessage(raw)
			}
		}
	}

	raw, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("redisstore: encode %s: %w", root, err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("redisstore: decode %s: %w", root, err)
	}
	return nil
}

type scriptWrite struct {
	Key   int      `json:"k"`
	Path  []string `json:"path"`
	Op    string   `json:"op"`
	Value any      `json:"value,omitempty"`
}

func (s *Store) Apply(ctx context.Context, writes ...store.Write) (int64, error) {
	if len(writes) == 0 {
		return 0, nil
	}

	var (
		keys    []string
		keyIdx  = make(map[string]int)
		batch   = make([]scriptWrite, 0, len(writes))
		touched = make(map[string][]string) // doc path -> changed paths
	)

	for _, w := range writes {
		segs := store.Split(w.Path)
		if len(segs) < 2 {
			return 0, fmt.Errorf("redisstore: write path %q must address a document", w.Path)
		}
		doc := store.Join(segs[0], segs[1])
		key := s.prefix + ":doc:" + doc
		idx, ok := keyIdx[key]
		if !ok {
			keys = append(keys, key)
			idx = len(keys)
			keyIdx[key] = idx
		}

		sw := scriptWrite{Key: idx, Path: segs[2:], Op: "set"}
		if sw.Path == nil {
			sw.Path = []string{}
		}
		switch w.Op {
		case store.OpMerge:
			sw.Op = "merge"
			sw.Value = w.Value
		case store.OpDelete:
			sw.Op = "del"
		default:
			sw.Value = w.Value
		}
		batch = append(batch, sw)
		touched[doc] = append(touched[doc], w.Path)
	}

	arg, err := json.Marshal(batch)
	if err != nil {
		return 0, fmt.Errorf("redisstore: encode batch: %w", err)
	}

	ms, err := applyScript.Run(ctx, s.client, keys, string(arg)).Int64()
	if err != nil {
		return 0, fmt.Errorf("redisstore: apply: %w", err)
	}

	s.updateIndexes(ctx, writes)
	for doc, paths := range touched {
		ch := s.channel(doc)
		for _, p := range paths {
			if err := s.client.Publish(ctx, ch, p).Err(); err != nil {
				return ms, fmt.Errorf("redisstore: publish %s: %w", doc, err)
			}
		}
	}
	return ms, nil
}

// updateIndexes keeps the collection index sets in step with document-level
// creates and deletes. Best effort: the index only feeds listings.
func (s *Store) updateIndexes(ctx context.Context, writes []store.Write) {
	for _, w := range writes {
		segs := store.Split(w.Path)
		if len(segs) != 2 {
			continue
		}
		if w.Op == store.OpDelete {
			_ = s.client.SRem(ctx, s.indexKey(segs[0]), segs[1]).Err()
		} else {
			_ = s.client.SAdd(ctx, s.indexKey(segs[0]), segs[1]).Err()
		}
	}
}

func (s *Store) Watch(ctx context.Context, path string) (<-chan store.Event, func(), error) {
	segs := store.Split(path)
	if len(segs) == 0 {
		return nil, nil, fmt.Errorf("redisstore: watch with empty path")
	}

	var ps *redis.PubSub
	if len(segs) == 1 {
		ps = s.client.PSubscribe(ctx, s.prefix+":changes:"+segs[0]+"/*")
	} else {
		ps = s.client.Subscribe(ctx, s.channel(store.Join(segs[0], segs[1])))
	}

	events := make(chan store.Event, 8)
	done := make(chan struct{})

	go func() {
		defer close(events)
		msgs := ps.Channel()
		for {
			select {
			case <-done:
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				if !store.Within(path, msg.Payload) {
					continue
				}
				ev := store.Event{Path: msg.Payload}
				select {
				case events <- ev:
				default:
					select {
					case <-events:
					default:
					}
					events <- ev
				}
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			_ = ps.Close()
		})
	}
	return events, cancel, nil
}

func (s *Store) docKey(root, id string) string {
	return s.prefix + ":doc:" + root + "/" + id
}

func (s *Store) indexKey(root string) string {
	return s.prefix + ":index:" + root
}

func (s *Store) channel(doc string) string {
	return s.prefix + ":changes:" + doc
}

func descend(node any, segs []string) (any, bool) {
	for _, seg := range segs {
		m, ok := node.(map[string]any)
		if !ok {
			return nil, false
		}
		node, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return node, true
}
