package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/2beens/gymlog/internal/backend"

	"github.com/go-redis/redis/v8"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultTTL     = 24 * 7 * time.Hour
	DefaultFlowTTL = 10 * time.Minute

	sessionKeyPrefix = "gymlog-session||"
	flowKeyPrefix    = "gymlog-signin-flow||"
	sessionsSetKey   = "gymlog-sessions"
)

type RedisStore struct {
	redisClient *redis.Client
	ttl         time.Duration
	flowTTL     time.Duration
}

func NewRedisStore(redisClient *redis.Client, ttl, flowTTL time.Duration) *RedisStore {
	return &RedisStore{
		redisClient: redisClient,
		ttl:         ttl,
		flowTTL:     flowTTL,
	}
}

func (s *RedisStore) Get(ctx context.Context, id string) (*backend.Session, error) {
	cmd := s.redisClient.Get(ctx, sessionKeyPrefix+id)
	if err := cmd.Err(); err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	sess := &backend.Session{}
	if err := json.Unmarshal([]byte(cmd.Val()), sess); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return sess, nil
}

func (s *RedisStore) Save(ctx context.Context, id string, sess *backend.Session) error {
	sessJson, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	if err := s.redisClient.Set(ctx, sessionKeyPrefix+id, string(sessJson), s.ttl).Err(); err != nil {
		return err
	}
	// keep track of session ids, for counting and cleanup
	return s.redisClient.SAdd(ctx, sessionsSetKey, id).Err()
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.redisClient.Del(ctx, sessionKeyPrefix+id).Err(); err != nil {
		return err
	}
	return s.redisClient.SRem(ctx, sessionsSetKey, id).Err()
}

func (s *RedisStore) SaveFlow(ctx context.Context, flowID, codeVerifier string) error {
	return s.redisClient.Set(ctx, flowKeyPrefix+flowID, codeVerifier, s.flowTTL).Err()
}

func (s *RedisStore) TakeFlow(ctx context.Context, flowID string) (string, error) {
	flowKey := flowKeyPrefix + flowID
	cmd := s.redisClient.Get(ctx, flowKey)
	if err := cmd.Err(); err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrFlowNotFound
		}
		return "", err
	}

	if err := s.redisClient.Del(ctx, flowKey).Err(); err != nil {
		log.Warnf("session store, delete sign in flow %s: %s", flowID, err)
	}
	return cmd.Val(), nil
}

func (s *RedisStore) Count(ctx context.Context) (int64, error) {
	return s.redisClient.SCard(ctx, sessionsSetKey).Result()
}

// ScanAndClean will run through all tracked session ids and forget the ones whose key expired
func (s *RedisStore) ScanAndClean(ctx context.Context) {
	cmd := s.redisClient.SMembers(ctx, sessionsSetKey)
	if err := cmd.Err(); err != nil {
		log.Errorf("session store, scan and clean, get sessions: %s", err)
		return
	}

	ids := cmd.Val()
	if len(ids) == 0 {
		log.Debugln("session store, scan and clean abort, no sessions")
		return
	}

	log.Debugf("session store, scan and clean [%d sessions] start ...", len(ids))
	var toRemove []any
	for _, id := range ids {
		exists, err := s.redisClient.Exists(ctx, sessionKeyPrefix+id).Result()
		if err != nil {
			log.Errorf("session store, scan and clean session %s: %s", id, err)
			continue
		}
		if exists == 0 {
			toRemove = append(toRemove, id)
		}
	}

	if len(toRemove) == 0 {
		return
	}
	if err := s.redisClient.SRem(ctx, sessionsSetKey, toRemove...).Err(); err != nil {
		log.Errorf("session store, clean %d expired sessions: %s", len(toRemove), err)
		return
	}
	log.Debugf("session store, cleaned %d expired sessions", len(toRemove))
}
