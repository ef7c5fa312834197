package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	recPrefix = "rz:rec:"
	chgPrefix = "rz:chg:"
	colPrefix = "rz:col:"
	willsKey  = "rz:wills"

	leasePrefix   = "rz:lease:"
	leaseTTL      = 10 * time.Second
	leaseInterval = 3 * time.Second
	reapInterval  = 5 * time.Second

	mergeRetries = 5
)

// Redis adapts a Redis instance to the Store interface. Records are JSON
// documents in plain keys, change fan-out rides pub/sub, and the presence
// primitive is built from a heartbeat lease plus a "will" entry: every live
// connection periodically reaps the wills of clients whose lease expired, the
// same cooperative scheme the invite TTL uses. First to notice applies.
type Redis struct {
	client   *redis.Client
	clientID string
	log      *slog.Logger
	cancel   context.CancelFunc
}

var _ Store = (*Redis)(nil)

// OpenRedis starts a participant connection identified by clientID. The
// heartbeat and will-reaper run until Close.
func OpenRedis(ctx context.Context, client *redis.Client, clientID string, log *slog.Logger) (*Redis, error) {
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	bg, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r := &Redis{client: client, clientID: clientID, log: log, cancel: cancel}
	if err := client.Set(ctx, leasePrefix+clientID, "1", leaseTTL).Err(); err != nil {
		cancel()
		return nil, fmt.Errorf("writing presence lease: %w", err)
	}
	go r.heartbeat(bg)
	go r.reapLoop(bg)
	return r, nil
}

func (r *Redis) heartbeat(ctx context.Context) {
	t := time.NewTicker(leaseInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := r.client.Set(ctx, leasePrefix+r.clientID, "1", leaseTTL).Err(); err != nil {
				r.log.Warn("presence lease refresh failed", "client", r.clientID, "error", err)
			}
		}
	}
}

// reapLoop applies the disconnect wills of clients whose lease has lapsed.
func (r *Redis) reapLoop(ctx context.Context) {
	t := time.NewTicker(reapInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			entries, err := r.client.HGetAll(ctx, willsKey).Result()
			if err != nil {
				continue
			}
			for client, raw := range entries {
				if client == r.clientID {
					continue
				}
				alive, err := r.client.Exists(ctx, leasePrefix+client).Result()
				if err != nil || alive > 0 {
					continue
				}
				r.applyWill(ctx, client, raw)
			}
		}
	}
}

func (r *Redis) applyWill(ctx context.Context, client, raw string) {
	// Claim before applying so only one peer executes the will.
	removed, err := r.client.HDel(ctx, willsKey, client).Result()
	if err != nil || removed == 0 {
		return
	}
	var will map[string]map[string]any
	if err := json.Unmarshal([]byte(raw), &will); err != nil {
		r.log.Warn("malformed disconnect will", "client", client, "error", err)
		return
	}
	for path, fields := range will {
		if err := r.Merge(ctx, path, fields); err != nil {
			r.log.Warn("applying disconnect will failed", "client", client, "path", path, "error", err)
		}
	}
	r.log.Info("applied disconnect will", "client", client)
}

func (r *Redis) Create(ctx context.Context, collection string, value any) (string, error) {
	doc, err := toDoc(value)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	path := collection + "/" + id
	data, _ := json.Marshal(doc)

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, recPrefix+path, data, 0)
		pipe.SAdd(ctx, colPrefix+collection, id)
		pipe.Publish(ctx, chgPrefix+path, data)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("creating record: %w", err)
	}
	return id, nil
}

func (r *Redis) Read(ctx context.Context, path string, out any) error {
	raw, err := r.client.Get(ctx, recPrefix+path).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("reading record: %w", err)
	}
	return json.Unmarshal(raw, out)
}

func (r *Redis) Write(ctx context.Context, path string, value any) error {
	doc, err := toDoc(value)
	if err != nil {
		return err
	}
	data, _ := json.Marshal(doc)
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, recPrefix+path, data, 0)
		r.indexInto(ctx, pipe, path)
		pipe.Publish(ctx, chgPrefix+path, data)
		return nil
	})
	return err
}

func (r *Redis) Merge(ctx context.Context, path string, fields map[string]any) error {
	_, err := r.transact(ctx, path, "", fields, false)
	return err
}

func (r *Redis) MergeIfAbsent(ctx context.Context, path, guardField string, fields map[string]any) (bool, error) {
	return r.transact(ctx, path, guardField, fields, true)
}

// transact runs an optimistic read-merge-write cycle on one record, retrying
// on contention. With guarded set, the merge only applies while guardField is
// unset and the record must already exist.
func (r *Redis) transact(ctx context.Context, path, guardField string, fields map[string]any, guarded bool) (bool, error) {
	key := recPrefix + path
	applied := false

	txn := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		doc := make(map[string]any)
		switch {
		case errors.Is(err, redis.Nil):
			if guarded {
				return ErrNotFound
			}
		case err != nil:
			return err
		default:
			if err := json.Unmarshal(raw, &doc); err != nil {
				return fmt.Errorf("decoding record: %w", err)
			}
		}

		if guarded && fieldSet(doc, guardField) {
			applied = false
			return nil
		}
		if err := applyMerge(doc, fields); err != nil {
			return err
		}
		data, _ := json.Marshal(doc)
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			r.indexInto(ctx, pipe, path)
			pipe.Publish(ctx, chgPrefix+path, data)
			return nil
		})
		if err == nil {
			applied = true
		}
		return err
	}

	for range mergeRetries {
		err := r.client.Watch(ctx, txn, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return false, err
		}
		return applied, nil
	}
	return false, fmt.Errorf("merge on %s: too much contention", path)
}

// indexInto keeps the collection membership set current for List.
func (r *Redis) indexInto(ctx context.Context, pipe redis.Pipeliner, path string) {
	if i := strings.LastIndex(path, "/"); i > 0 {
		pipe.SAdd(ctx, colPrefix+path[:i], path[i+1:])
	}
}

func (r *Redis) Subscribe(ctx context.Context, path string, fn OnChange) (func(), error) {
	sub := r.client.Subscribe(ctx, chgPrefix+path)
	// Force the subscription onto the wire before the initial read, so no
	// change between read and subscribe is lost.
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("subscribing to %s: %w", path, err)
	}

	raw, err := r.client.Get(ctx, recPrefix+path).Bytes()
	if errors.Is(err, redis.Nil) {
		raw = nil
	} else if err != nil {
		sub.Close()
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	fn(raw)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range sub.Channel() {
			if msg.Payload == "null" {
				fn(nil)
				continue
			}
			fn([]byte(msg.Payload))
		}
	}()

	stop := func() {
		sub.Close()
		<-done
	}
	context.AfterFunc(ctx, func() { sub.Close() })
	return stop, nil
}

func (r *Redis) RegisterOnDisconnect(ctx context.Context, path string, fields map[string]any) error {
	raw, err := r.client.HGet(ctx, willsKey, r.clientID).Result()
	will := make(map[string]map[string]any)
	if err == nil {
		_ = json.Unmarshal([]byte(raw), &will)
	} else if !errors.Is(err, redis.Nil) {
		return fmt.Errorf("reading disconnect will: %w", err)
	}
	if will[path] == nil {
		will[path] = make(map[string]any)
	}
	for k, v := range fields {
		will[path][k] = v
	}
	data, _ := json.Marshal(will)
	return r.client.HSet(ctx, willsKey, r.clientID, data).Err()
}

func (r *Redis) List(ctx context.Context, collection string) ([]string, error) {
	ids, err := r.client.SMembers(ctx, colPrefix+collection).Result()
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", collection, err)
	}
	// Drop index entries whose record is already gone.
	live := ids[:0]
	for _, id := range ids {
		n, err := r.client.Exists(ctx, recPrefix+collection+"/"+id).Result()
		if err == nil && n > 0 {
			live = append(live, id)
		}
	}
	return live, nil
}

func (r *Redis) Delete(ctx context.Context, path string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, recPrefix+path)
		if i := strings.LastIndex(path, "/"); i > 0 {
			pipe.SRem(ctx, colPrefix+path[:i], path[i+1:])
		}
		pipe.Publish(ctx, chgPrefix+path, "null")
		return nil
	})
	return err
}

// Close runs this connection's will immediately (a graceful drop counts as a
// drop), releases the lease, and stops the background loops. The underlying
// redis client is owned by the caller.
func (r *Redis) Close() error {
	r.cancel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if raw, err := r.client.HGet(ctx, willsKey, r.clientID).Result(); err == nil {
		r.applyWill(ctx, r.clientID, raw)
	}
	return r.client.Del(ctx, leasePrefix+r.clientID).Err()
}
