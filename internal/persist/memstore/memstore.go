// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package memstore is an in-process persist.Backend. Nothing survives the
// process; failures can be injected per operation for tests.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/streamchat/internal/model"
	"github.com/jeranaias/streamchat/internal/persist"
)

// Name is the registry name.
const Name = "memory"

func init() {
	persist.Register(Name, func(context.Context, persist.Config) (persist.Backend, error) {
		return New(), nil
	})
}

// Store is a map-backed Backend.
type Store struct {
	mu       sync.Mutex
	users    map[string]time.Time
	sessions map[string]*model.Session

	failures map[string]error
	once     map[string]error
	calls    map[string]int
}

// New creates an empty store.
func New() *Store {
	return &Store{
		users:    make(map[string]time.Time),
		sessions: make(map[string]*model.Session),
		failures: make(map[string]error),
		once:     make(map[string]error),
		calls:    make(map[string]int),
	}
}

// =============================================================================
// FAILURE INJECTION
// =============================================================================

// FailOn makes every call of op fail with err until Recover is called.
func (s *Store) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = err
}

// FailNext makes only the next call of op fail with err.
func (s *Store) FailNext(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.once[op] = err
}

// Recover clears injected failures for op.
func (s *Store) Recover(op string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failures, op)
	delete(s.once, op)
}

// Calls returns how many times op was invoked, failed calls included.
func (s *Store) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// Messages returns a copy of the stored rows for a session, oldest first.
func (s *Store) Messages(sessionID string) []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}
	return sess.Clone().Messages
}

// enter records a call and returns any injected failure. Caller holds mu.
func (s *Store) enter(op string) error {
	s.calls[op]++
	if err, ok := s.once[op]; ok {
		delete(s.once, op)
		return persist.Wrap(Name, op, err)
	}
	if err, ok := s.failures[op]; ok {
		return persist.Wrap(Name, op, err)
	}
	return nil
}

// =============================================================================
// BACKEND
// =============================================================================

func (s *Store) RegisterUser(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(persist.OpRegisterUser); err != nil {
		return err
	}
	if _, ok := s.users[userID]; !ok {
		s.users[userID] = persist.Now()
	}
	return nil
}

func (s *Store) CreateSession(ctx context.Context, userID, title string) (model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(persist.OpCreateSession); err != nil {
		return model.Session{}, err
	}
	now := persist.Now()
	sess := &model.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.sessions[sess.ID] = sess
	return sess.Clone(), nil
}

func (s *Store) ListSessions(ctx context.Context, userID string) ([]model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(persist.OpListSessions); err != nil {
		return nil, err
	}
	out := make([]model.Session, 0)
	for _, sess := range s.sessions {
		if sess.UserID == userID {
			out = append(out, sess.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(persist.OpDeleteSession); err != nil {
		return err
	}
	if _, ok := s.sessions[sessionID]; !ok {
		return persist.NotFound(Name, persist.OpDeleteSession, sessionID)
	}
	delete(s.sessions, sessionID)
	return nil
}

func (s *Store) UpdateSessionTitle(ctx context.Context, sessionID, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(persist.OpUpdateSessionTitle); err != nil {
		return err
	}
	sess, ok := s.sessions[sessionID]
	if !ok {
		return persist.NotFound(Name, persist.OpUpdateSessionTitle, sessionID)
	}
	sess.Title = title
	sess.UpdatedAt = persist.Now()
	return nil
}

func (s *Store) InsertMessage(ctx context.Context, sessionID string, role model.Role, content string) (model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(persist.OpInsertMessage); err != nil {
		return model.Message{}, err
	}
	sess, ok := s.sessions[sessionID]
	if !ok {
		return model.Message{}, persist.NotFound(Name, persist.OpInsertMessage, sessionID)
	}
	now := persist.Now()
	msg := model.Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: now,
	}
	sess.Messages = append(sess.Messages, msg)
	sess.UpdatedAt = now
	return msg, nil
}

func (s *Store) UpdateLatestMessage(ctx context.Context, sessionID string, role model.Role, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(persist.OpUpdateLatestMessage); err != nil {
		return err
	}
	sess, ok := s.sessions[sessionID]
	if !ok {
		return persist.NotFound(Name, persist.OpUpdateLatestMessage, sessionID)
	}
	for i := len(sess.Messages) - 1; i >= 0; i-- {
		if sess.Messages[i].Role == role {
			sess.Messages[i].Content = content
			return nil
		}
	}
	return persist.NotFound(Name, persist.OpUpdateLatestMessage, sessionID+"/"+string(role))
}

func (s *Store) Close() error {
	return nil
}
