package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// keyWizardState is a pending "send me the key" prompt for one user.
type keyWizardState struct {
	Provider string `json:"provider"`
	ChatID   int64  `json:"chat_id"`
}

type memEntry struct {
	state   keyWizardState
	expires time.Time
}

type wizardStore struct {
	redis *redis.Client
	ttl   time.Duration

	mu  sync.Mutex
	mem map[int64]memEntry
}

func newWizardStore(rdb *redis.Client, ttl time.Duration) *wizardStore {
	return &wizardStore{redis: rdb, ttl: ttl, mem: map[int64]memEntry{}}
}

func (w *wizardStore) key(userID int64) string {
	return fmt.Sprintf("jarvis:wizard:%d", userID)
}

func (w *wizardStore) Set(ctx context.Context, userID int64, state keyWizardState) error {
	if w.redis == nil {
		w.mu.Lock()
		w.mem[userID] = memEntry{state: state, expires: time.Now().Add(w.ttl)}
		w.mu.Unlock()
		return nil
	}
	b, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return w.redis.Set(ctx, w.key(userID), string(b), w.ttl).Err()
}

func (w *wizardStore) Get(ctx context.Context, userID int64) (*keyWizardState, error) {
	if w.redis == nil {
		w.mu.Lock()
		defer w.mu.Unlock()
		e, ok := w.mem[userID]
		if !ok {
			return nil, nil
		}
		if time.Now().After(e.expires) {
			delete(w.mem, userID)
			return nil, nil
		}
		st := e.state
		return &st, nil
	}
	raw, err := w.redis.Get(ctx, w.key(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var state keyWizardState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func (w *wizardStore) Clear(ctx context.Context, userID int64) error {
	if w.redis == nil {
		w.mu.Lock()
		delete(w.mem, userID)
		w.mu.Unlock()
		return nil
	}
	return w.redis.Del(ctx, w.key(userID)).Err()
}
