// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package redisstore is a persist.Backend on Redis.
//
// Layout, under a configurable prefix:
//
//	{p}:user:{uid}                 string   created_at (ns)
//	{p}:user:{uid}:sessions        zset     session ids scored by update sequence
//	{p}:session:{sid}              hash     id, user_id, title, created_at, updated_at
//	{p}:session:{sid}:messages     list     message ids, insertion order
//	{p}:message:{mid}              hash     id, session_id, role, content, created_at
//	{p}:seq                        counter  update sequence
package redisstore

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/jeranaias/streamchat/internal/model"
	"github.com/jeranaias/streamchat/internal/persist"
)

// Name is the registry name.
const Name = "redis"

// DefaultPrefix namespaces every key.
const DefaultPrefix = "streamchat"

// maxWatchRetries bounds optimistic transaction retries.
const maxWatchRetries = 100

func init() {
	persist.Register(Name, func(ctx context.Context, cfg persist.Config) (persist.Backend, error) {
		opts, err := redis.ParseURL(cfg.DSN)
		if err != nil {
			return nil, errors.Wrap(err, "parse redis url")
		}
		return Open(ctx, redis.NewClient(opts), DefaultPrefix)
	})
}

// Store is a Redis-backed Backend.
type Store struct {
	rdb    *redis.Client
	prefix string
}

var _ persist.Backend = (*Store)(nil)

// Open verifies the connection and returns a store using prefix for keys.
// The store owns rdb and closes it on Close.
func Open(ctx context.Context, rdb *redis.Client, prefix string) (*Store, error) {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrap(err, "redis ping")
	}
	return &Store{rdb: rdb, prefix: prefix}, nil
}

// =============================================================================
// KEYS
// =============================================================================

func (s *Store) userKey(uid string) string         { return s.prefix + ":user:" + uid }
func (s *Store) userSessionsKey(uid string) string { return s.prefix + ":user:" + uid + ":sessions" }
func (s *Store) sessionKey(sid string) string      { return s.prefix + ":session:" + sid }
func (s *Store) messagesKey(sid string) string     { return s.prefix + ":session:" + sid + ":messages" }
func (s *Store) messageKey(mid string) string      { return s.prefix + ":message:" + mid }
func (s *Store) seqKey() string                    { return s.prefix + ":seq" }

func (s *Store) wrap(op string, err error) error {
	return persist.Wrap(Name, op, err)
}

// =============================================================================
// USERS & SESSIONS
// =============================================================================

func (s *Store) RegisterUser(ctx context.Context, userID string) error {
	err := s.rdb.SetNX(ctx, s.userKey(userID), persist.Now().UnixNano(), 0).Err()
	return s.wrap(persist.OpRegisterUser, err)
}

func (s *Store) CreateSession(ctx context.Context, userID, title string) (model.Session, error) {
	seq, err := s.rdb.Incr(ctx, s.seqKey()).Result()
	if err != nil {
		return model.Session{}, s.wrap(persist.OpCreateSession, errors.Wrap(err, "next sequence"))
	}

	now := persist.Now()
	sess := model.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, s.sessionKey(sess.ID),
			"id", sess.ID,
			"user_id", userID,
			"title", title,
			"created_at", now.UnixNano(),
			"updated_at", now.UnixNano(),
		)
		p.ZAdd(ctx, s.userSessionsKey(userID), redis.Z{Score: float64(seq), Member: sess.ID})
		return nil
	})
	if err != nil {
		return model.Session{}, s.wrap(persist.OpCreateSession, errors.Wrap(err, "write session"))
	}
	return sess, nil
}

func (s *Store) ListSessions(ctx context.Context, userID string) ([]model.Session, error) {
	ids, err := s.rdb.ZRevRange(ctx, s.userSessionsKey(userID), 0, -1).Result()
	if err != nil {
		return nil, s.wrap(persist.OpListSessions, errors.Wrap(err, "list session ids"))
	}

	out := make([]model.Session, 0, len(ids))
	for _, id := range ids {
		sess, err := s.loadSession(ctx, id)
		if persist.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, s.wrap(persist.OpListSessions, err)
		}
		out = append(out, sess)
	}
	return out, nil
}

func (s *Store) loadSession(ctx context.Context, id string) (model.Session, error) {
	fields, err := s.rdb.HGetAll(ctx, s.sessionKey(id)).Result()
	if err != nil {
		return model.Session{}, errors.Wrap(err, "read session")
	}
	if len(fields) == 0 {
		return model.Session{}, persist.NotFound(Name, persist.OpListSessions, id)
	}

	sess := model.Session{
		ID:        fields["id"],
		UserID:    fields["user_id"],
		Title:     fields["title"],
		CreatedAt: parseNanos(fields["created_at"]),
		UpdatedAt: parseNanos(fields["updated_at"]),
	}

	mids, err := s.rdb.LRange(ctx, s.messagesKey(id), 0, -1).Result()
	if err != nil {
		return model.Session{}, errors.Wrap(err, "list message ids")
	}
	if len(mids) == 0 {
		return sess, nil
	}

	cmds, err := s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, mid := range mids {
			p.HGetAll(ctx, s.messageKey(mid))
		}
		return nil
	})
	if err != nil {
		return model.Session{}, errors.Wrap(err, "read messages")
	}
	for _, cmd := range cmds {
		m := cmd.(*redis.MapStringStringCmd).Val()
		if len(m) == 0 {
			continue
		}
		sess.Messages = append(sess.Messages, model.Message{
			ID:        m["id"],
			SessionID: m["session_id"],
			Role:      model.Role(m["role"]),
			Content:   m["content"],
			CreatedAt: parseNanos(m["created_at"]),
		})
	}
	return sess, nil
}

// DeleteSession removes the session, its message list and every message
// hash. The session and message-list keys are WATCHed so a concurrent insert
// retries the delete rather than leaving an orphaned message hash.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	key := s.sessionKey(sessionID)
	listKey := s.messagesKey(sessionID)

	return s.watch(ctx, persist.OpDeleteSession, func(tx *redis.Tx) error {
		userID, err := tx.HGet(ctx, key, "user_id").Result()
		if errors.Is(err, redis.Nil) {
			return persist.NotFound(Name, persist.OpDeleteSession, sessionID)
		}
		if err != nil {
			return errors.Wrap(err, "read session")
		}
		mids, err := tx.LRange(ctx, listKey, 0, -1).Result()
		if err != nil {
			return errors.Wrap(err, "list message ids")
		}

		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			for _, mid := range mids {
				p.Del(ctx, s.messageKey(mid))
			}
			p.Del(ctx, listKey, key)
			p.ZRem(ctx, s.userSessionsKey(userID), sessionID)
			return nil
		})
		return errors.Wrap(err, "delete session")
	}, key, listKey)
}

func (s *Store) UpdateSessionTitle(ctx context.Context, sessionID, title string) error {
	err := s.touch(ctx, persist.OpUpdateSessionTitle, sessionID, func(p redis.Pipeliner, now int64) {
		p.HSet(ctx, s.sessionKey(sessionID), "title", title)
	})
	return err
}

// touch runs fn and bumps the session's updated time and sequence inside one
// WATCHed transaction, failing with ErrNotFound if the session is gone.
func (s *Store) touch(ctx context.Context, op, sessionID string, fn func(p redis.Pipeliner, now int64)) error {
	key := s.sessionKey(sessionID)

	txf := func(tx *redis.Tx) error {
		userID, err := tx.HGet(ctx, key, "user_id").Result()
		if errors.Is(err, redis.Nil) {
			return persist.NotFound(Name, op, sessionID)
		}
		if err != nil {
			return errors.Wrap(err, "read session")
		}
		// INCR runs outside MULTI, so a retried transaction consumes a
		// sequence number. Scores only need to increase, not be dense.
		seq, err := tx.Incr(ctx, s.seqKey()).Result()
		if err != nil {
			return errors.Wrap(err, "next sequence")
		}
		now := persist.Now().UnixNano()
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			fn(p, now)
			p.HSet(ctx, key, "updated_at", now)
			p.ZAdd(ctx, s.userSessionsKey(userID), redis.Z{Score: float64(seq), Member: sessionID})
			return nil
		})
		return err
	}

	return s.watch(ctx, op, txf, key)
}

// watch runs txf in a WATCH on keys, retrying while another client changes
// them before EXEC.
func (s *Store) watch(ctx context.Context, op string, txf func(*redis.Tx) error, keys ...string) error {
	for i := 0; i < maxWatchRetries; i++ {
		err := s.rdb.Watch(ctx, txf, keys...)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return s.wrap(op, err)
	}
	return s.wrap(op, errors.New("too much contention"))
}

// =============================================================================
// MESSAGES
// =============================================================================

func (s *Store) InsertMessage(ctx context.Context, sessionID string, role model.Role, content string) (model.Message, error) {
	msg := model.Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
	}
	err := s.touch(ctx, persist.OpInsertMessage, sessionID, func(p redis.Pipeliner, now int64) {
		msg.CreatedAt = persist.FromNanos(now)
		p.HSet(ctx, s.messageKey(msg.ID),
			"id", msg.ID,
			"session_id", sessionID,
			"role", string(role),
			"content", content,
			"created_at", now,
		)
		p.RPush(ctx, s.messagesKey(sessionID), msg.ID)
	})
	if err != nil {
		return model.Message{}, err
	}
	return msg, nil
}

func (s *Store) UpdateLatestMessage(ctx context.Context, sessionID string, role model.Role, content string) error {
	mids, err := s.rdb.LRange(ctx, s.messagesKey(sessionID), 0, -1).Result()
	if err != nil {
		return s.wrap(persist.OpUpdateLatestMessage, errors.Wrap(err, "list message ids"))
	}
	for i := len(mids) - 1; i >= 0; i-- {
		r, err := s.rdb.HGet(ctx, s.messageKey(mids[i]), "role").Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return s.wrap(persist.OpUpdateLatestMessage, errors.Wrap(err, "read role"))
		}
		if r == string(role) {
			err := s.rdb.HSet(ctx, s.messageKey(mids[i]), "content", content).Err()
			return s.wrap(persist.OpUpdateLatestMessage, errors.Wrap(err, "write content"))
		}
	}
	return persist.NotFound(Name, persist.OpUpdateLatestMessage, sessionID+"/"+string(role))
}

// Close closes the Redis client.
func (s *Store) Close() error {
	return s.wrap(persist.OpClose, s.rdb.Close())
}

func parseNanos(v string) time.Time {
	n, _ := strconv.ParseInt(v, 10, 64)
	return persist.FromNanos(n)
}
