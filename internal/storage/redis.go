package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"sensorchat-gateway/internal/model"
	"sensorchat-gateway/pkg/logger"

	"github.com/redis/go-redis/v9"
)

const redisOpTimeout = 5 * time.Second

// RedisStorage stores each session as a JSON blob and keeps a sorted set of
// session ids scored by last update.
type RedisStorage struct {
	client *redis.Client
	prefix string
}

func NewRedisStorage(client *redis.Client, prefix string) *RedisStorage {
	return &RedisStorage{client: client, prefix: prefix}
}

func (r *RedisStorage) sessionKey(id string) string {
	return r.prefix + "session:" + id
}

func (r *RedisStorage) indexKey() string {
	return r.prefix + "sessions"
}

func opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), redisOpTimeout)
}

func (r *RedisStorage) Init() error {
	ctx, cancel := opContext()
	defer cancel()

	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageInit, err)
	}
	logger.Info("Redis storage initialized")
	return nil
}

func (r *RedisStorage) Close() error {
	return r.client.Close()
}

func (r *RedisStorage) Backup() error {
	ctx, cancel := opContext()
	defer cancel()

	if err := r.client.BgSave(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil
}

func (r *RedisStorage) write(ctx context.Context, pipe redis.Pipeliner, session *model.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	pipe.Set(ctx, r.sessionKey(session.ID), data, 0)
	pipe.ZAdd(ctx, r.indexKey(), redis.Z{
		Score:  float64(session.UpdatedAt.UnixNano()),
		Member: session.ID,
	})
	return nil
}

func (r *RedisStorage) read(ctx context.Context, id string) (*model.Session, error) {
	data, err := r.client.Get(ctx, r.sessionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}

	var session model.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	return &session, nil
}

func (r *RedisStorage) CreateSession(session *model.Session) error {
	ctx, cancel := opContext()
	defer cancel()

	n, err := r.client.Exists(ctx, r.sessionKey(session.ID)).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	if n > 0 {
		return ErrSessionExists
	}

	return r.save(ctx, session)
}

func (r *RedisStorage) save(ctx context.Context, session *model.Session) error {
	pipe := r.client.TxPipeline()
	if err := r.write(ctx, pipe, session); err != nil {
		return err
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil
}

func (r *RedisStorage) GetSession(sessionID string) (*model.Session, error) {
	ctx, cancel := opContext()
	defer cancel()
	return r.read(ctx, sessionID)
}

// UpdateSession overwrites an existing session. The WATCH makes the write
// fail instead of resurrecting a session deleted in between.
func (r *RedisStorage) UpdateSession(session *model.Session) error {
	ctx, cancel := opContext()
	defer cancel()

	key := r.sessionKey(session.ID)
	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrBackend, err)
		}
		if n == 0 {
			return ErrSessionNotFound
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			return r.write(ctx, pipe, session)
		})
		if err != nil && !errors.Is(err, ErrInvalidData) && !errors.Is(err, redis.TxFailedErr) {
			return fmt.Errorf("%w: %v", ErrBackend, err)
		}
		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("%w: concurrent update of %s", ErrBackend, session.ID)
	}
	return err
}

func (r *RedisStorage) DeleteSession(sessionID string) error {
	ctx, cancel := opContext()
	defer cancel()

	pipe := r.client.TxPipeline()
	del := pipe.Del(ctx, r.sessionKey(sessionID))
	pipe.ZRem(ctx, r.indexKey(), sessionID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	if del.Val() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (r *RedisStorage) ListSessions() ([]*model.Session, error) {
	ctx, cancel := opContext()
	defer cancel()

	ids, err := r.client.ZRevRange(ctx, r.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}

	sessions := make([]*model.Session, 0, len(ids))
	for _, id := range ids {
		session, err := r.read(ctx, id)
		if err != nil {
			if errors.Is(err, ErrSessionNotFound) {
				continue
			}
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, nil
}

func (r *RedisStorage) GetMessages(sessionID string) ([]*model.Message, error) {
	session, err := r.GetSession(sessionID)
	if err != nil {
		return nil, err
	}

	messages := make([]*model.Message, len(session.Messages))
	for i := range session.Messages {
		messages[i] = &session.Messages[i]
	}
	return messages, nil
}
