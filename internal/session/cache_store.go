package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/2beens/gymlog/internal/backend"

	"github.com/coocood/freecache"
)

const cacheStoreSize = 16 * 1024 * 1024

// expireSeconds rounds ttl up to whole seconds for freecache, where 0 means no expiry.
func expireSeconds(ttl time.Duration) int {
	secs := int((ttl + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}

// CacheStore is an in-process Store for single instance setups (memory backend mode, tests).
// Entries expire by themselves, so there is nothing to clean.
type CacheStore struct {
	cache   *freecache.Cache
	ttl     time.Duration
	flowTTL time.Duration
}

func NewCacheStore(ttl, flowTTL time.Duration) *CacheStore {
	return &CacheStore{
		cache:   freecache.NewCache(cacheStoreSize),
		ttl:     ttl,
		flowTTL: flowTTL,
	}
}

func (s *CacheStore) Get(_ context.Context, id string) (*backend.Session, error) {
	sessJson, err := s.cache.Get([]byte(sessionKeyPrefix + id))
	if err != nil {
		if errors.Is(err, freecache.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	sess := &backend.Session{}
	if err := json.Unmarshal(sessJson, sess); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return sess, nil
}

func (s *CacheStore) Save(_ context.Context, id string, sess *backend.Session) error {
	sessJson, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	return s.cache.Set([]byte(sessionKeyPrefix+id), sessJson, expireSeconds(s.ttl))
}

func (s *CacheStore) Delete(_ context.Context, id string) error {
	s.cache.Del([]byte(sessionKeyPrefix + id))
	return nil
}

func (s *CacheStore) SaveFlow(_ context.Context, flowID, codeVerifier string) error {
	return s.cache.Set([]byte(flowKeyPrefix+flowID), []byte(codeVerifier), expireSeconds(s.flowTTL))
}

func (s *CacheStore) TakeFlow(_ context.Context, flowID string) (string, error) {
	key := []byte(flowKeyPrefix + flowID)
	verifier, err := s.cache.Get(key)
	if err != nil {
		if errors.Is(err, freecache.ErrNotFound) {
			return "", ErrFlowNotFound
		}
		return "", err
	}
	s.cache.Del(key)
	return string(verifier), nil
}

func (s *CacheStore) Count(_ context.Context) (int64, error) {
	var count int64
	it := s.cache.NewIterator()
	for entry := it.Next(); entry != nil; entry = it.Next() {
		if bytes.HasPrefix(entry.Key, []byte(sessionKeyPrefix)) {
			count++
		}
	}
	return count, nil
}

func (s *CacheStore) ScanAndClean(context.Context) {}
