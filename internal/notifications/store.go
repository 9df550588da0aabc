package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/fabriz042/Chat-test/internal/kvstore"
)

const (
	keyPrefix = "notification:"

	DefaultListLimit = 50
	MaxListLimit     = 100
)

// RecordStore persists notifications as JSON under notification:{id}. Every
// write refreshes the record's TTL.
type RecordStore struct {
	kv  kvstore.Store
	ttl time.Duration
}

func NewRecordStore(kv kvstore.Store, ttl time.Duration) *RecordStore {
	return &RecordStore{kv: kv, ttl: ttl}
}

func (s *RecordStore) Save(ctx context.Context, n *Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification %s: %w", n.ID, err)
	}
	if err := s.kv.Set(ctx, keyPrefix+n.ID, data, s.ttl); err != nil {
		return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	return nil
}

func (s *RecordStore) Get(ctx context.Context, id string) (*Notification, error) {
	data, err := s.kv.Get(ctx, keyPrefix+id)
	if errors.Is(err, kvstore.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}

	var n Notification
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, fmt.Errorf("decode notification %s: %w", id, err)
	}
	return &n, nil
}

// ListForUser returns the newest user-targeted notifications for userID.
// limit <= 0 selects DefaultListLimit; values above MaxListLimit are capped.
func (s *RecordStore) ListForUser(ctx context.Context, userID string, limit int) ([]*Notification, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	keys, err := s.kv.Keys(ctx, keyPrefix+string(TargetUser)+"-"+userID+"-")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}

	out := make([]*Notification, 0, len(keys))
	for _, k := range keys {
		n, err := s.Get(ctx, k[len(keyPrefix):])
		if errors.Is(err, ErrNotFound) {
			// expired between scan and read
			continue
		}
		if err != nil {
			return nil, err
		}
		// the key prefix also matches ids that merely start with userID
		if n.Content.UserID != userID {
			continue
		}
		out = append(out, n)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *RecordStore) Ping(ctx context.Context) error {
	return s.kv.Ping(ctx)
}
