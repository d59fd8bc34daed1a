// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/jeranaias/streamchat/internal/model"
	"github.com/jeranaias/streamchat/internal/transport"
)

// DefaultFallbackText is appended as the assistant reply of a failed turn.
const DefaultFallbackText = "Sorry, an error occurred."

// cleanupTimeout bounds the persistence calls made after a turn has failed
// or been canceled, and the title derivation.
const cleanupTimeout = 10 * time.Second

// Store is the part of the Session Store the orchestrator drives.
// *session.Store implements it.
type Store interface {
	ActiveID() string
	Create(ctx context.Context) (model.Session, error)
	Session(id string) (model.Session, bool)
	Append(ctx context.Context, sessionID string, role model.Role, content string) (model.Message, error)
	UpdateTrailing(sessionID, content string) error
	FinalizeTrailing(ctx context.Context, sessionID, content string) error
	DeriveTitle(ctx context.Context, id, seed string) error
}

// Sender opens a reply stream for a history. *transport.Client implements it.
type Sender interface {
	SendTurn(ctx context.Context, history []model.Message) (*transport.Stream, error)
}

// TurnResult describes a finished turn.
type TurnResult struct {
	SessionID string
	// Reply is the assistant text received, possibly partial on failure.
	Reply string
	// Err is the failure that ended the turn, already reported.
	Err error
}

// Failed reports whether the turn ended with the fallback reply.
func (r TurnResult) Failed() bool {
	return r.Err != nil
}

// =============================================================================
// ORCHESTRATOR
// =============================================================================

// Orchestrator drives one user turn at a time through the store and the
// transport.
type Orchestrator struct {
	store    Store
	sender   Sender
	reporter *Reporter
	log      zerolog.Logger

	fallback    string
	turnTimeout time.Duration
	onIdle      func()
	onDelta     func(sessionID, delta string)

	busy atomic.Bool

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the orchestrator logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *Orchestrator) { o.log = l }
}

// WithFallbackText sets the reply recorded for failed turns.
func WithFallbackText(s string) Option {
	return func(o *Orchestrator) {
		if s != "" {
			o.fallback = s
		}
	}
}

// WithTurnTimeout bounds every turn. Zero disables the bound.
func WithTurnTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.turnTimeout = d }
}

// WithOnIdle sets a hook fired after every submitted turn, whatever its
// outcome. Presentation layers use it to return focus to the input.
func WithOnIdle(fn func()) Option {
	return func(o *Orchestrator) { o.onIdle = fn }
}

// WithOnDelta sets a hook called with each reply delta once it has been
// applied to the store. It runs on the turn's goroutine and must not block.
func WithOnDelta(fn func(sessionID, delta string)) Option {
	return func(o *Orchestrator) { o.onDelta = fn }
}

// NewOrchestrator creates an idle orchestrator.
func NewOrchestrator(store Store, sender Sender, reporter *Reporter, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:    store,
		sender:   sender,
		reporter: reporter,
		log:      zerolog.Nop(),
		fallback: DefaultFallbackText,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.reporter == nil {
		o.reporter = NewReporter(o.log)
	}
	return o
}

// State returns the current turn state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Busy reports whether a turn is running.
func (o *Orchestrator) Busy() bool {
	return o.busy.Load()
}

// Reporter returns the error reporter.
func (o *Orchestrator) Reporter() *Reporter {
	return o.reporter
}

// Cancel aborts the running turn. It returns false when none is running.
func (o *Orchestrator) Cancel() bool {
	o.mu.Lock()
	cancel := o.cancel
	o.mu.Unlock()
	if cancel == nil {
		return false
	}
	cancel()
	return true
}

// =============================================================================
// TURN
// =============================================================================

// turn carries the progress of one SubmitTurn call.
type turn struct {
	text        string
	sessionID   string
	placeholder bool // assistant placeholder appended
	finalizing  bool // FinalizeTrailing attempted
	reply       strings.Builder
}

// SubmitTurn runs one user turn: it ensures a session, appends the user
// message and an assistant placeholder, streams the reply into the
// placeholder and persists the final text.
//
// Blank text returns ErrEmptyInput and a call made while another turn runs
// returns ErrTurnInFlight; neither changes any state. Any other failure is
// reported, recorded as the fallback reply, and returned in TurnResult.Err
// as well as the error.
func (o *Orchestrator) SubmitTurn(ctx context.Context, text string) (TurnResult, error) {
	if strings.TrimSpace(text) == "" {
		return TurnResult{}, ErrEmptyInput
	}
	if !o.busy.CompareAndSwap(false, true) {
		o.log.Debug().Msg("TURN_REJECTED_BUSY")
		return TurnResult{}, ErrTurnInFlight
	}

	if o.turnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.turnTimeout)
		defer cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	o.mu.Lock()
	o.cancel = cancel
	o.mu.Unlock()

	defer o.finish()

	o.reporter.Clear()

	t := &turn{text: text}
	var titles errgroup.Group

	err := o.run(ctx, t, &titles)
	if err != nil {
		o.fail(ctx, t, err)
	}

	titleErr := titles.Wait()
	if titleErr != nil {
		o.log.Warn().Err(titleErr).Str("session_id", t.sessionID).Msg("TURN_TITLE_FAILED")
		if err == nil {
			o.reporter.Report(titleErr)
		}
	}

	res := TurnResult{SessionID: t.sessionID, Reply: t.reply.String(), Err: err}
	if err != nil {
		return res, err
	}
	o.log.Info().
		Str("session_id", t.sessionID).
		Int("reply_len", t.reply.Len()).
		Msg("TURN_COMPLETED")
	return res, nil
}

// run executes the happy path, stopping at the first failure.
func (o *Orchestrator) run(ctx context.Context, t *turn, titles *errgroup.Group) error {
	sid := o.store.ActiveID()
	if sid == "" {
		sess, err := o.store.Create(ctx)
		if err != nil || sess.ID == "" {
			return &SessionCreationError{Err: err}
		}
		sid = sess.ID
	}
	t.sessionID = sid
	o.transition(StateSessionEnsured)

	sess, ok := o.store.Session(sid)
	first := ok && sess.IsEmpty()

	if _, err := o.store.Append(ctx, sid, model.RoleUser, t.text); err != nil {
		return err
	}
	o.transition(StateUserAppended)

	if first {
		seed := t.text
		titleCtx := context.WithoutCancel(ctx)
		titles.Go(func() error {
			ctx, cancel := context.WithTimeout(titleCtx, cleanupTimeout)
			defer cancel()
			return o.store.DeriveTitle(ctx, sid, seed)
		})
	}

	sess, _ = o.store.Session(sid)
	history := sess.History()

	placeholder, err := o.store.Append(ctx, sid, model.RoleAssistant, "")
	if err != nil && !placeholder.Unsynced {
		return err
	}
	t.placeholder = true
	if err != nil {
		// The row is kept in memory and inserted again on finalize.
		o.reporter.Report(err)
	}

	o.transition(StateStreaming)
	stream, err := o.sender.SendTurn(ctx, history)
	if err != nil {
		return err
	}
	defer stream.Close()

	for {
		delta, err := stream.Next()
		if delta != "" {
			t.reply.WriteString(delta)
			if uerr := o.store.UpdateTrailing(sid, t.reply.String()); uerr != nil {
				return uerr
			}
			if o.onDelta != nil {
				o.onDelta(sid, delta)
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
	}

	t.finalizing = true
	if err := o.store.FinalizeTrailing(ctx, sid, t.reply.String()); err != nil {
		return err
	}
	o.transition(StateFinalized)
	return nil
}

// fail records the outcome of a failed turn: partial text already streamed
// is kept and persisted, then the fallback reply is recorded.
func (o *Orchestrator) fail(ctx context.Context, t *turn, err error) {
	o.transition(StateFailed)
	o.reporter.Report(err)
	o.log.Error().Err(err).Str("session_id", t.sessionID).Msg("TURN_FAILED")

	if t.sessionID == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	partial := t.reply.String()
	switch {
	case t.placeholder && partial == "":
		// Nothing arrived: the placeholder becomes the fallback reply.
		ferr := o.store.FinalizeTrailing(ctx, t.sessionID, o.fallback)
		if ferr == nil {
			return
		}
		o.log.Warn().Err(ferr).Str("session_id", t.sessionID).Msg("TURN_FALLBACK_FINALIZE_FAILED")
	case t.placeholder && !t.finalizing:
		if ferr := o.store.FinalizeTrailing(ctx, t.sessionID, partial); ferr != nil {
			o.log.Warn().Err(ferr).Str("session_id", t.sessionID).Msg("TURN_PARTIAL_FINALIZE_FAILED")
		}
	}

	if _, aerr := o.store.Append(ctx, t.sessionID, model.RoleAssistant, o.fallback); aerr != nil {
		o.log.Warn().Err(aerr).Str("session_id", t.sessionID).Msg("TURN_FALLBACK_APPEND_FAILED")
	}
}

// finish returns to idle and releases the busy flag, then fires OnIdle.
func (o *Orchestrator) finish() {
	o.mu.Lock()
	if o.state != StateIdle {
		if !canTransition(o.state, StateIdle) {
			// A turn that stopped mid-way without failing is forced back.
			o.log.Error().Str("from", o.state.String()).Msg("TURN_INVALID_TRANSITION")
		}
		o.state = StateIdle
	}
	o.cancel = nil
	o.mu.Unlock()

	o.busy.Store(false)
	if o.onIdle != nil {
		o.onIdle()
	}
}

// transition moves to the next state. A move the table does not allow is a
// programming error: it is logged and ignored.
func (o *Orchestrator) transition(to State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !canTransition(o.state, to) {
		o.log.Error().
			Str("from", o.state.String()).
			Str("to", to.String()).
			Msg("TURN_INVALID_TRANSITION")
		return
	}
	o.log.Debug().Str("from", o.state.String()).Str("to", to.String()).Msg("TURN_STATE")
	o.state = to
}
