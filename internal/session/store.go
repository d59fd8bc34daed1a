// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jeranaias/streamchat/internal/identity"
	"github.com/jeranaias/streamchat/internal/model"
	"github.com/jeranaias/streamchat/internal/persist"
	"github.com/jeranaias/streamchat/internal/util"
)

// TitleMaxRunes is the length of a derived title before the ellipsis.
const TitleMaxRunes = 20

var (
	// ErrUnknownSession is returned when an id names no loaded session.
	ErrUnknownSession = errors.New("unknown session")

	// ErrNotTrailingAssistant is returned when the last message of a session
	// is not an assistant message and so may not be changed in place.
	ErrNotTrailingAssistant = errors.New("trailing message is not an assistant message")

	// ErrInvalidRole is returned when appending a message whose role cannot be stored.
	ErrInvalidRole = errors.New("invalid message role")
)

// TitleFromSeed derives a session title from the first user turn: up to
// TitleMaxRunes runes verbatim, otherwise the first TitleMaxRunes runes
// followed by "...".
func TitleFromSeed(seed string) string {
	return TitleFromSeedN(seed, TitleMaxRunes)
}

// TitleFromSeedN is TitleFromSeed with a custom length.
func TitleFromSeedN(seed string, n int) string {
	return util.PrefixRunes(seed, n, util.Ellipsis)
}

// =============================================================================
// STORE
// =============================================================================

// Snapshot is a consistent deep copy of the store state.
type Snapshot struct {
	Sessions []model.Session
	ActiveID string
}

// Store owns the in-memory session list of one user and mirrors every
// change to a persist.Backend.
//
// A single mutex guards sessions and activeID. Backend calls run outside it;
// their results are applied under it afterwards. Reads return deep copies.
type Store struct {
	backend  persist.Backend
	ident    identity.Provider
	log      zerolog.Logger
	title    string
	titleMax int
	now      func() time.Time

	mu       sync.Mutex
	userID   string
	sessions []model.Session // most recently updated first
	activeID string

	subMu   sync.Mutex
	subs    map[int]chan Event
	nextSub int
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// WithDefaultTitle sets the title of newly created sessions.
func WithDefaultTitle(title string) Option {
	return func(s *Store) {
		if title != "" {
			s.title = title
		}
	}
}

// WithTitleMaxRunes sets the derived title length.
func WithTitleMaxRunes(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.titleMax = n
		}
	}
}

// NewStore creates an empty store. Call Load to populate it.
func NewStore(backend persist.Backend, ident identity.Provider, opts ...Option) *Store {
	s := &Store{
		backend:  backend,
		ident:    ident,
		log:      zerolog.Nop(),
		title:    model.DefaultTitle,
		titleMax: TitleMaxRunes,
		now:      func() time.Time { return time.Now().UTC() },
		subs:     make(map[int]chan Event),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// Load resolves the user identity, fetches that user's sessions and replaces
// the in-memory state. The first session becomes active.
func (s *Store) Load(ctx context.Context) error {
	uid, err := s.identity(ctx)
	if err != nil {
		return err
	}

	list, err := s.backend.ListSessions(ctx, uid)
	if err != nil {
		s.log.Error().Err(err).Str("user_id", uid).Msg("STORE_LOAD_FAILED")
		return err
	}

	s.mu.Lock()
	s.userID = uid
	s.sessions = list
	s.activeID = ""
	if len(list) > 0 {
		s.activeID = list[0].ID
	}
	s.mu.Unlock()

	s.log.Debug().Str("user_id", uid).Int("sessions", len(list)).Msg("STORE_LOADED")
	s.notify(Event{Kind: EventLoaded})
	return nil
}

// identity returns the cached user id, resolving it on first use.
func (s *Store) identity(ctx context.Context) (string, error) {
	s.mu.Lock()
	uid := s.userID
	s.mu.Unlock()
	if uid != "" {
		return uid, nil
	}

	uid, err := s.ident.Identity(ctx)
	if err != nil {
		var ie *identity.IdentityError
		if !errors.As(err, &ie) {
			err = &identity.IdentityError{Op: "read", Err: err}
		}
		s.log.Error().Err(err).Msg("STORE_IDENTITY_FAILED")
		return "", err
	}

	s.mu.Lock()
	if s.userID == "" {
		s.userID = uid
	}
	uid = s.userID
	s.mu.Unlock()
	return uid, nil
}

// UserID returns the resolved user id, or "" before the first Load or Create.
func (s *Store) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// =============================================================================
// SESSIONS
// =============================================================================

// Create persists a new session with the default title, then prepends it
// and makes it active. On failure the in-memory state is untouched.
func (s *Store) Create(ctx context.Context) (model.Session, error) {
	uid, err := s.identity(ctx)
	if err != nil {
		return model.Session{}, err
	}

	sess, err := s.backend.CreateSession(ctx, uid, s.title)
	if err == nil && sess.ID == "" {
		err = persist.Wrap("", persist.OpCreateSession, errors.New("backend returned no session id"))
	}
	if err != nil {
		s.log.Error().Err(err).Msg("STORE_CREATE_FAILED")
		return model.Session{}, err
	}

	s.mu.Lock()
	s.sessions = append([]model.Session{sess.Clone()}, s.sessions...)
	s.activeID = sess.ID
	s.mu.Unlock()

	s.log.Debug().Str("session_id", sess.ID).Msg("STORE_SESSION_CREATED")
	s.notify(Event{Kind: EventCreated, SessionID: sess.ID})
	return sess.Clone(), nil
}

// Delete persists the deletion, then removes the session. If it was active,
// the new first session becomes active, or none.
func (s *Store) Delete(ctx context.Context, id string) error {
	if !s.has(id) {
		return ErrUnknownSession
	}

	if err := s.backend.DeleteSession(ctx, id); err != nil {
		if !persist.IsNotFound(err) {
			s.log.Error().Err(err).Str("session_id", id).Msg("STORE_DELETE_FAILED")
			return err
		}
		s.log.Warn().Str("session_id", id).Msg("STORE_DELETE_ALREADY_GONE")
	}

	s.mu.Lock()
	if i := s.index(id); i >= 0 {
		s.sessions = append(s.sessions[:i], s.sessions[i+1:]...)
	}
	if s.activeID == id {
		s.activeID = ""
		if len(s.sessions) > 0 {
			s.activeID = s.sessions[0].ID
		}
	}
	s.mu.Unlock()

	s.notify(Event{Kind: EventDeleted, SessionID: id})
	return nil
}

// SetActive makes id the active session. An unknown id returns
// ErrUnknownSession and leaves the active session unchanged.
func (s *Store) SetActive(id string) error {
	s.mu.Lock()
	if s.index(id) < 0 {
		s.mu.Unlock()
		return ErrUnknownSession
	}
	s.activeID = id
	s.mu.Unlock()

	s.notify(Event{Kind: EventActivated, SessionID: id})
	return nil
}

// ClearActive unsets the active session so the next turn starts a new one.
func (s *Store) ClearActive() {
	s.mu.Lock()
	s.activeID = ""
	s.mu.Unlock()
	s.notify(Event{Kind: EventActivated})
}

// Rename persists a new title and mirrors it.
func (s *Store) Rename(ctx context.Context, id, title string) error {
	if !s.has(id) {
		return ErrUnknownSession
	}
	if err := s.backend.UpdateSessionTitle(ctx, id, title); err != nil {
		s.log.Error().Err(err).Str("session_id", id).Msg("STORE_RENAME_FAILED")
		return err
	}

	s.mu.Lock()
	if i := s.index(id); i >= 0 {
		s.sessions[i].Title = title
		s.sessions[i].UpdatedAt = s.now()
		s.touch(i)
	}
	s.mu.Unlock()

	s.notify(Event{Kind: EventRenamed, SessionID: id})
	return nil
}

// DeriveTitle renames id after the seed text of its first turn.
func (s *Store) DeriveTitle(ctx context.Context, id, seed string) error {
	return s.Rename(ctx, id, TitleFromSeedN(seed, s.titleMax))
}

// =============================================================================
// MESSAGES
// =============================================================================

// Append adds a message to the session in memory, then persists it.
//
// The in-memory row is kept even when persistence fails: it is marked
// Unsynced and the error is returned so the caller can report it.
func (s *Store) Append(ctx context.Context, sessionID string, role model.Role, content string) (model.Message, error) {
	if !role.Valid() {
		return model.Message{}, ErrInvalidRole
	}

	msg := model.NewMessage(sessionID, role, content)
	msg.ID = "local-" + uuid.NewString()
	localID := msg.ID

	s.mu.Lock()
	i := s.index(sessionID)
	if i < 0 {
		s.mu.Unlock()
		return model.Message{}, ErrUnknownSession
	}
	s.sessions[i].Messages = append(s.sessions[i].Messages, msg)
	s.sessions[i].UpdatedAt = msg.CreatedAt
	s.touch(i)
	s.mu.Unlock()
	s.notify(Event{Kind: EventAppended, SessionID: sessionID})

	stored, err := s.backend.InsertMessage(ctx, sessionID, role, content)

	s.mu.Lock()
	m := s.message(sessionID, localID)
	if m != nil {
		if err != nil {
			m.Unsynced = true
		} else {
			m.ID = stored.ID
			m.CreatedAt = stored.CreatedAt
		}
		msg = *m
	}
	s.mu.Unlock()

	if err != nil {
		s.log.Warn().Err(err).
			Str("session_id", sessionID).
			Str("role", string(role)).
			Msg("STORE_APPEND_FAILED")
		msg.Unsynced = true
		return msg, err
	}
	if m == nil {
		msg = stored
	}
	return msg, nil
}

// UpdateTrailing replaces the content of the session's last message in
// memory only. The last message must be an assistant message.
func (s *Store) UpdateTrailing(sessionID, content string) error {
	s.mu.Lock()
	i := s.index(sessionID)
	if i < 0 {
		s.mu.Unlock()
		return ErrUnknownSession
	}
	last := s.sessions[i].Trailing()
	if last == nil || last.Role != model.RoleAssistant {
		s.mu.Unlock()
		return ErrNotTrailingAssistant
	}
	last.Content = content
	s.touch(i)
	s.mu.Unlock()

	s.notify(Event{Kind: EventUpdated, SessionID: sessionID})
	return nil
}

// FinalizeTrailing persists content as the newest assistant row of the
// session and mirrors it on the trailing message. Calling it again with the
// same content changes nothing.
//
// A trailing message that never reached the backend is inserted instead.
func (s *Store) FinalizeTrailing(ctx context.Context, sessionID, content string) error {
	s.mu.Lock()
	i := s.index(sessionID)
	if i < 0 {
		s.mu.Unlock()
		return ErrUnknownSession
	}
	last := s.sessions[i].Trailing()
	if last == nil || last.Role != model.RoleAssistant {
		s.mu.Unlock()
		return ErrNotTrailingAssistant
	}
	last.Content = content
	unsynced, localID := last.Unsynced, last.ID
	s.touch(i)
	s.mu.Unlock()
	s.notify(Event{Kind: EventUpdated, SessionID: sessionID})

	if unsynced {
		return s.resync(ctx, sessionID, localID, content)
	}

	if err := s.backend.UpdateLatestMessage(ctx, sessionID, model.RoleAssistant, content); err != nil {
		s.log.Error().Err(err).Str("session_id", sessionID).Msg("STORE_FINALIZE_FAILED")
		return err
	}
	return nil
}

// resync inserts an assistant message whose earlier insert failed.
func (s *Store) resync(ctx context.Context, sessionID, localID, content string) error {
	stored, err := s.backend.InsertMessage(ctx, sessionID, model.RoleAssistant, content)
	if err != nil {
		s.log.Error().Err(err).Str("session_id", sessionID).Msg("STORE_RESYNC_FAILED")
		return err
	}

	s.mu.Lock()
	if m := s.message(sessionID, localID); m != nil {
		m.ID = stored.ID
		m.CreatedAt = stored.CreatedAt
		m.Unsynced = false
	}
	s.mu.Unlock()

	s.log.Info().Str("session_id", sessionID).Msg("STORE_RESYNCED")
	return nil
}

// =============================================================================
// READS
// =============================================================================

// Sessions returns a deep copy of all sessions, most recently updated first.
func (s *Store) Sessions() []model.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneAll(s.sessions)
}

// Session returns a deep copy of one session.
func (s *Store) Session(id string) (model.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.index(id); i >= 0 {
		return s.sessions[i].Clone(), true
	}
	return model.Session{}, false
}

// ActiveID returns the active session id, or "".
func (s *Store) ActiveID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

// Active returns a deep copy of the active session.
func (s *Store) Active() (model.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.index(s.activeID); i >= 0 {
		return s.sessions[i].Clone(), true
	}
	return model.Session{}, false
}

// Snapshot returns the session list and active id read under one lock.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{Sessions: cloneAll(s.sessions), ActiveID: s.activeID}
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func (s *Store) has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index(id) >= 0
}

// index returns the position of id, or -1. Caller holds mu.
func (s *Store) index(id string) int {
	if id == "" {
		return -1
	}
	for i := range s.sessions {
		if s.sessions[i].ID == id {
			return i
		}
	}
	return -1
}

// message finds a message by id inside a session. Caller holds mu.
func (s *Store) message(sessionID, msgID string) *model.Message {
	i := s.index(sessionID)
	if i < 0 {
		return nil
	}
	msgs := s.sessions[i].Messages
	for j := len(msgs) - 1; j >= 0; j-- {
		if msgs[j].ID == msgID {
			return &msgs[j]
		}
	}
	return nil
}

// touch moves the session at i to the front. Caller holds mu.
func (s *Store) touch(i int) {
	if i <= 0 {
		return
	}
	sess := s.sessions[i]
	copy(s.sessions[1:i+1], s.sessions[:i])
	s.sessions[0] = sess
}

func cloneAll(list []model.Session) []model.Session {
	out := make([]model.Session, len(list))
	for i := range list {
		out[i] = list[i].Clone()
	}
	return out
}
