// Package idempotency replays stored responses for requests that carry an
// Idempotency-Key.
package idempotency

import (
	"context"
	"sync"
	"time"

	"escrowlane/pkg/apierr"
	"escrowlane/pkg/identity"
	"escrowlane/pkg/kv"
)

const Namespace = "idempotency"

type ActorContext struct {
	Principal      identity.Identity
	IdempotencyKey string
}

type Record struct {
	RequestHash string         `json:"request_hash"`
	Status      int            `json:"status"`
	Body        map[string]any `json:"body"`
	RecordedAt  time.Time      `json:"recorded_at"`
}

type Store interface {
	GetIdempotencyRecord(ctx context.Context, principal identity.Identity, idempotencyKey, endpoint string) (Record, bool, error)
	SaveIdempotencyRecord(ctx context.Context, principal identity.Identity, idempotencyKey, endpoint string, rec Record) error
}

// Replay returns the stored response for actor's key on endpoint. Reusing a
// key with a different request body is a Conflict.
func Replay(ctx context.Context, st Store, actor ActorContext, endpoint, requestHash string) (int, map[string]any, bool, error) {
	if actor.IdempotencyKey == "" {
		return 0, nil, false, nil
	}
	rec, found, err := st.GetIdempotencyRecord(ctx, actor.Principal, actor.IdempotencyKey, endpoint)
	if err != nil {
		return 0, nil, false, err
	}
	if !found {
		return 0, nil, false, nil
	}
	if rec.RequestHash != requestHash {
		return 0, nil, false, apierr.Conflictf("idempotency key %q was used with a different request", actor.IdempotencyKey)
	}
	return rec.Status, rec.Body, true, nil
}

func Save(ctx context.Context, st Store, actor ActorContext, endpoint, requestHash string, status int, response map[string]any) error {
	if actor.IdempotencyKey == "" {
		return nil
	}
	return st.SaveIdempotencyRecord(ctx, actor.Principal, actor.IdempotencyKey, endpoint, Record{
		RequestHash: requestHash,
		Status:      status,
		Body:        response,
		RecordedAt:  time.Now().UTC(),
	})
}

// KVStore keeps records in a kv namespace keyed by caller, key and endpoint.
type KVStore struct {
	records *kv.Map[Record]
}

func NewKVStore(s kv.Store) *KVStore { return &KVStore{records: kv.NewMap[Record](s)} }

func (s *KVStore) GetIdempotencyRecord(ctx context.Context, principal identity.Identity, idempotencyKey, endpoint string) (Record, bool, error) {
	rec, ok, err := s.records.Get(ctx, recordKey(principal, idempotencyKey, endpoint))
	if err != nil {
		return Record{}, false, apierr.Wrap(apierr.Internal, "load idempotency record", err)
	}
	return rec, ok, nil
}

func (s *KVStore) SaveIdempotencyRecord(ctx context.Context, principal identity.Identity, idempotencyKey, endpoint string, rec Record) error {
	if err := s.records.Put(ctx, recordKey(principal, idempotencyKey, endpoint), rec); err != nil {
		return apierr.Wrap(apierr.Internal, "save idempotency record", err)
	}
	return nil
}

func recordKey(principal identity.Identity, idempotencyKey, endpoint string) string {
	return principal.String() + "|" + idempotencyKey + "|" + endpoint
}

// Guard serializes requests that share a caller, key and endpoint so the
// replay check, the mutation and the save run as one step per key. Requests
// without a key are not serialized.
type Guard struct {
	mu   sync.Mutex
	held map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func NewGuard() *Guard { return &Guard{held: map[string]*keyLock{}} }

// Lock blocks until actor's key on endpoint is free and returns the release.
func (g *Guard) Lock(actor ActorContext, endpoint string) func() {
	if actor.IdempotencyKey == "" {
		return func() {}
	}
	k := recordKey(actor.Principal, actor.IdempotencyKey, endpoint)

	g.mu.Lock()
	l, ok := g.held[k]
	if !ok {
		l = &keyLock{}
		g.held[k] = l
	}
	l.refs++
	g.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		g.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(g.held, k)
		}
		g.mu.Unlock()
	}
}
