// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/streamchat/internal/identity"
	"github.com/jeranaias/streamchat/internal/model"
	"github.com/jeranaias/streamchat/internal/persist"
	"github.com/jeranaias/streamchat/internal/persist/memstore"
	"github.com/jeranaias/streamchat/internal/session"
	"github.com/jeranaias/streamchat/internal/transport"
)

var errBoom = errors.New("boom")

// =============================================================================
// TEST HARNESS
// =============================================================================

type opener func(ctx context.Context) (*transport.Stream, error)

type fakeSender struct {
	mu        sync.Mutex
	open      opener
	histories [][]model.Message
}

func (f *fakeSender) SendTurn(ctx context.Context, history []model.Message) (*transport.Stream, error) {
	f.mu.Lock()
	f.histories = append(f.histories, history)
	open := f.open
	f.mu.Unlock()
	return open(ctx)
}

func (f *fakeSender) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.histories)
}

func (f *fakeSender) history(i int) []model.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.histories[i]
}

// reply streams the chunks as plain text.
func reply(chunks ...string) opener {
	return func(ctx context.Context) (*transport.Stream, error) {
		body := io.NopCloser(strings.NewReader(strings.Join(chunks, "")))
		return transport.NewStream(ctx, body, transport.ModeText), nil
	}
}

// failWith fails before the stream opens.
func failWith(err error) opener {
	return func(context.Context) (*transport.Stream, error) {
		return nil, err
	}
}

// pipe is a reply body the test writes to chunk by chunk. Cancelling the
// turn context breaks the pipe, like an HTTP body would.
type pipe struct {
	pr *io.PipeReader
	pw *io.PipeWriter
}

func newPipe() *pipe {
	pr, pw := io.Pipe()
	return &pipe{pr: pr, pw: pw}
}

func (p *pipe) opener() opener {
	return func(ctx context.Context) (*transport.Stream, error) {
		go func() {
			<-ctx.Done()
			p.pw.CloseWithError(ctx.Err())
		}()
		return transport.NewStream(ctx, p.pr, transport.ModeText), nil
	}
}

type harness struct {
	backend *memstore.Store
	store   *session.Store
	sender  *fakeSender
	orch    *Orchestrator
	idle    atomic.Int32
}

func newHarness(t *testing.T, open opener, opts ...Option) *harness {
	t.Helper()
	h := &harness{backend: memstore.New(), sender: &fakeSender{open: open}}
	h.store = session.NewStore(h.backend, identity.Static("user-1"))
	require.NoError(t, h.store.Load(context.Background()))

	opts = append([]Option{WithOnIdle(func() { h.idle.Add(1) })}, opts...)
	h.orch = NewOrchestrator(h.store, h.sender, NewReporter(zerolog.Nop()), opts...)
	return h
}

func (h *harness) active(t *testing.T) model.Session {
	t.Helper()
	sess, ok := h.store.Active()
	require.True(t, ok, "no active session")
	return sess
}

func contents(msgs []model.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = string(m.Role) + ":" + m.Content
	}
	return out
}

// =============================================================================
// HAPPY PATH
// =============================================================================

func TestSubmitTurn_OrderingOnEmptySession(t *testing.T) {
	h := newHarness(t, reply("Hello", " there", "!"))

	res, err := h.orch.SubmitTurn(context.Background(), "hi")
	require.NoError(t, err)
	assert.False(t, res.Failed())
	assert.Equal(t, "Hello there!", res.Reply)

	sess := h.active(t)
	assert.Equal(t, res.SessionID, sess.ID)
	assert.Equal(t, []string{"user:hi", "assistant:Hello there!"}, contents(sess.Messages))
	assert.Equal(t, "hi", sess.Title)

	stored := h.backend.Messages(sess.ID)
	assert.Equal(t, []string{"user:hi", "assistant:Hello there!"}, contents(stored))
	assert.True(t, stored[0].CreatedAt.Before(stored[1].CreatedAt))

	// The request carries the history up to the user message, no placeholder.
	require.Equal(t, 1, h.sender.calls())
	assert.Equal(t, []string{"user:hi"}, contents(h.sender.history(0)))

	assert.Equal(t, StateIdle, h.orch.State())
	assert.False(t, h.orch.Busy())
	assert.Equal(t, int32(1), h.idle.Load())
	assert.Equal(t, "", h.orch.Reporter().Latest())
}

func TestSubmitTurn_OnDeltaSeesEachChunk(t *testing.T) {
	var mu sync.Mutex
	var deltas []string
	var sids []string
	p := newPipe()
	h := newHarness(t, p.opener(), WithOnDelta(func(sid, delta string) {
		mu.Lock()
		defer mu.Unlock()
		deltas = append(deltas, delta)
		sids = append(sids, sid)
	}))

	done := make(chan TurnResult, 1)
	go func() {
		res, _ := h.orch.SubmitTurn(context.Background(), "hi")
		done <- res
	}()
	require.Eventually(t, func() bool { return h.orch.State() == StateStreaming }, 2*time.Second, 5*time.Millisecond)
	for _, chunk := range []string{"one ", "two ", "three"} {
		_, err := p.pw.Write([]byte(chunk))
		require.NoError(t, err)
	}
	require.NoError(t, p.pw.Close())
	res := <-done
	require.NoError(t, res.Err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "one two three", strings.Join(deltas, ""))
	for _, sid := range sids {
		assert.Equal(t, res.SessionID, sid)
	}
}

func TestSubmitTurn_ContinuesActiveSession(t *testing.T) {
	h := newHarness(t, reply("first answer"))
	ctx := context.Background()
	_, err := h.orch.SubmitTurn(ctx, "first question that is quite long")
	require.NoError(t, err)

	h.sender.open = reply("second answer")
	_, err = h.orch.SubmitTurn(ctx, "second")
	require.NoError(t, err)

	sess := h.active(t)
	assert.Len(t, h.store.Sessions(), 1)
	assert.Equal(t, []string{
		"user:first question that is quite long",
		"assistant:first answer",
		"user:second",
		"assistant:second answer",
	}, contents(sess.Messages))
	assert.Equal(t, "first question that ...", sess.Title)
	assert.Equal(t, 1, h.backend.Calls(persist.OpUpdateSessionTitle), "title is derived on the first turn only")

	assert.Equal(t, []string{
		"user:first question that is quite long",
		"assistant:first answer",
		"user:second",
	}, contents(h.sender.history(1)))
}

func TestSubmitTurn_WithHTTPTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		f := w.(http.Flusher)
		for _, chunk := range []string{"你", "好", "!"} {
			_, _ = io.WriteString(w, chunk)
			f.Flush()
		}
	}))
	defer srv.Close()

	backend := memstore.New()
	store := session.NewStore(backend, identity.Static("u"))
	client := transport.New(transport.Config{Endpoint: srv.URL, Mode: transport.ModeText})
	orch := NewOrchestrator(store, client, nil)

	res, err := orch.SubmitTurn(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "你好!", res.Reply)
	assert.Equal(t, "你好!", backend.Messages(res.SessionID)[1].Content)
}

// =============================================================================
// REJECTIONS
// =============================================================================

func TestSubmitTurn_RejectsBlankInput(t *testing.T) {
	h := newHarness(t, reply("x"))
	for _, in := range []string{"", "   ", "\n\t"} {
		_, err := h.orch.SubmitTurn(context.Background(), in)
		assert.ErrorIs(t, err, ErrEmptyInput)
	}
	assert.Equal(t, 0, h.backend.Calls(persist.OpCreateSession))
	assert.Equal(t, 0, h.sender.calls())
	assert.Equal(t, int32(0), h.idle.Load())
}

func TestSubmitTurn_ReentrancyGuard(t *testing.T) {
	p := newPipe()
	h := newHarness(t, p.opener())
	ctx := context.Background()

	done := make(chan TurnResult, 1)
	go func() {
		res, _ := h.orch.SubmitTurn(ctx, "hi")
		done <- res
	}()

	require.Eventually(t, func() bool { return h.orch.State() == StateStreaming }, 2*time.Second, 5*time.Millisecond)
	_, err := p.pw.Write([]byte("par"))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		sess, ok := h.store.Active()
		return ok && len(sess.Messages) == 2 && sess.Messages[1].Content == "par"
	}, 2*time.Second, 5*time.Millisecond)

	before := h.active(t)
	_, err = h.orch.SubmitTurn(ctx, "again")
	assert.ErrorIs(t, err, ErrTurnInFlight)
	after := h.active(t)
	assert.Equal(t, len(before.Messages), len(after.Messages), "no second placeholder")
	assert.Equal(t, 1, h.sender.calls())

	_, err = p.pw.Write([]byte("tial"))
	require.NoError(t, err)
	require.NoError(t, p.pw.Close())

	select {
	case res := <-done:
		assert.NoError(t, res.Err)
		assert.Equal(t, "partial", res.Reply)
	case <-time.After(5 * time.Second):
		t.Fatal("turn did not finish")
	}
	assert.Equal(t, []string{"user:hi", "assistant:partial"}, contents(h.active(t).Messages))
	assert.Equal(t, int32(1), h.idle.Load())
}

// =============================================================================
// FAILURES
// =============================================================================

func TestSubmitTurn_TransportFailureFallback(t *testing.T) {
	h := newHarness(t, failWith(&transport.TransportError{
		Kind:       transport.KindStatus,
		StatusCode: http.StatusInternalServerError,
		Status:     "Internal Server Error",
		Message:    "Internal Server Error",
	}))

	res, err := h.orch.SubmitTurn(context.Background(), "test")
	require.Error(t, err)
	assert.True(t, res.Failed())

	var te *transport.TransportError
	assert.True(t, errors.As(err, &te))

	sess := h.active(t)
	assert.Equal(t, []string{"user:test", "assistant:" + DefaultFallbackText}, contents(sess.Messages))
	assert.Equal(t, []string{"user:test", "assistant:" + DefaultFallbackText}, contents(h.backend.Messages(sess.ID)))
	assert.Equal(t, "Internal Server Error", h.orch.Reporter().Latest())

	assert.Equal(t, StateIdle, h.orch.State())
	assert.False(t, h.orch.Busy())
	assert.Equal(t, int32(1), h.idle.Load())
}

func TestSubmitTurn_HTTPStatusFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"error":"Error processing chat request"}`)
	}))
	defer srv.Close()

	store := session.NewStore(memstore.New(), identity.Static("u"))
	client := transport.New(transport.Config{Endpoint: srv.URL})
	orch := NewOrchestrator(store, client, nil, WithFallbackText("Something went wrong."))

	res, err := orch.SubmitTurn(context.Background(), "test")
	require.Error(t, err)
	sess, _ := store.Session(res.SessionID)
	assert.Equal(t, []string{"user:test", "assistant:Something went wrong."}, contents(sess.Messages))
	assert.Equal(t, "Error processing chat request", orch.Reporter().Latest())
}

type failingReader struct {
	data string
	done bool
}

func (r *failingReader) Read(p []byte) (int, error) {
	if !r.done {
		r.done = true
		return copy(p, r.data), nil
	}
	return 0, errBoom
}

func TestSubmitTurn_StreamFailureKeepsPartial(t *testing.T) {
	h := newHarness(t, func(ctx context.Context) (*transport.Stream, error) {
		return transport.NewStream(ctx, io.NopCloser(&failingReader{data: "partial"}), transport.ModeText), nil
	})

	res, err := h.orch.SubmitTurn(context.Background(), "hi")
	var se *transport.StreamError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "partial", res.Reply)

	sess := h.active(t)
	want := []string{"user:hi", "assistant:partial", "assistant:" + DefaultFallbackText}
	assert.Equal(t, want, contents(sess.Messages))
	assert.Equal(t, want, contents(h.backend.Messages(sess.ID)))
	assert.NotEmpty(t, h.orch.Reporter().Latest())
}

func TestSubmitTurn_SessionCreationFailure(t *testing.T) {
	h := newHarness(t, reply("x"))
	h.backend.FailOn(persist.OpCreateSession, errBoom)

	res, err := h.orch.SubmitTurn(context.Background(), "hi")
	var sce *SessionCreationError
	require.True(t, errors.As(err, &sce))
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, "", res.SessionID)

	assert.Empty(t, h.store.Sessions())
	assert.Equal(t, 0, h.backend.Calls(persist.OpInsertMessage))
	assert.Equal(t, 0, h.sender.calls())
	assert.NotEmpty(t, h.orch.Reporter().Latest())
	assert.Equal(t, StateIdle, h.orch.State())
	assert.Equal(t, int32(1), h.idle.Load())
}

func TestSubmitTurn_UserAppendFailureStopsTurn(t *testing.T) {
	h := newHarness(t, reply("x"))
	h.backend.FailNext(persist.OpInsertMessage, errBoom)

	_, err := h.orch.SubmitTurn(context.Background(), "hi")
	var pe *persist.PersistenceError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, 0, h.sender.calls(), "no request without a stored user message")

	sess := h.active(t)
	require.Len(t, sess.Messages, 2)
	assert.True(t, sess.Messages[0].Unsynced)
	assert.Equal(t, "assistant:"+DefaultFallbackText, contents(sess.Messages)[1])
}

// flakyBackend fails one specific InsertMessage call.
type flakyBackend struct {
	persist.Backend
	mu     sync.Mutex
	n      int
	failAt int
}

func (f *flakyBackend) InsertMessage(ctx context.Context, sid string, role model.Role, content string) (model.Message, error) {
	f.mu.Lock()
	f.n++
	n := f.n
	f.mu.Unlock()
	if n == f.failAt {
		return model.Message{}, persist.Wrap("flaky", persist.OpInsertMessage, errBoom)
	}
	return f.Backend.InsertMessage(ctx, sid, role, content)
}

func TestSubmitTurn_PlaceholderPersistFailureIsSurfacedAndRetried(t *testing.T) {
	mem := memstore.New()
	backend := &flakyBackend{Backend: mem, failAt: 2}
	store := session.NewStore(backend, identity.Static("u"))
	orch := NewOrchestrator(store, &fakeSender{open: reply("done")}, nil)

	res, err := orch.SubmitTurn(context.Background(), "hi")
	require.NoError(t, err)
	assert.NotEmpty(t, orch.Reporter().Latest(), "the failed write is surfaced")

	assert.Equal(t, []string{"user:hi", "assistant:done"}, contents(mem.Messages(res.SessionID)))
	sess, _ := store.Session(res.SessionID)
	assert.False(t, sess.Messages[1].Unsynced)
}

func TestSubmitTurn_TitleFailureReportedAfterSuccess(t *testing.T) {
	h := newHarness(t, reply("ok"))
	h.backend.FailOn(persist.OpUpdateSessionTitle, errBoom)

	res, err := h.orch.SubmitTurn(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Reply)
	assert.Contains(t, h.orch.Reporter().Latest(), "boom")
	assert.Equal(t, model.DefaultTitle, h.active(t).Title)
}

func TestSubmitTurn_ReporterClearedOnNextTurn(t *testing.T) {
	h := newHarness(t, failWith(errBoom))
	ctx := context.Background()
	_, err := h.orch.SubmitTurn(ctx, "one")
	require.Error(t, err)
	require.NotEmpty(t, h.orch.Reporter().Latest())

	h.sender.open = reply("fine")
	_, err = h.orch.SubmitTurn(ctx, "two")
	require.NoError(t, err)
	assert.Equal(t, "", h.orch.Reporter().Latest())
}

// =============================================================================
// CANCELLATION
// =============================================================================

func TestCancel_KeepsPartialAndFallsBack(t *testing.T) {
	p := newPipe()
	h := newHarness(t, p.opener())
	assert.False(t, h.orch.Cancel(), "nothing to cancel while idle")

	done := make(chan error, 1)
	go func() {
		_, err := h.orch.SubmitTurn(context.Background(), "hi")
		done <- err
	}()

	require.Eventually(t, func() bool { return h.orch.State() == StateStreaming }, 2*time.Second, 5*time.Millisecond)
	_, err := p.pw.Write([]byte("abc"))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		sess, ok := h.store.Active()
		return ok && len(sess.Messages) == 2 && sess.Messages[1].Content == "abc"
	}, 2*time.Second, 5*time.Millisecond)

	assert.True(t, h.orch.Cancel())

	select {
	case err := <-done:
		assert.True(t, transport.IsCanceled(err), "got %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("canceled turn did not return")
	}

	sess := h.active(t)
	want := []string{"user:hi", "assistant:abc", "assistant:" + DefaultFallbackText}
	assert.Equal(t, want, contents(sess.Messages))
	assert.Equal(t, want, contents(h.backend.Messages(sess.ID)))
	assert.False(t, h.orch.Busy())
}

func TestTurnTimeout(t *testing.T) {
	p := newPipe()
	h := newHarness(t, p.opener(), WithTurnTimeout(50*time.Millisecond))

	_, err := h.orch.SubmitTurn(context.Background(), "hi")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	sess := h.active(t)
	assert.Equal(t, []string{"user:hi", "assistant:" + DefaultFallbackText}, contents(sess.Messages))
	assert.Equal(t, []string{"user:hi", "assistant:" + DefaultFallbackText}, contents(h.backend.Messages(sess.ID)))
	assert.Equal(t, StateIdle, h.orch.State())
}

// =============================================================================
// SESSION SWITCHING
// =============================================================================

func TestSwitchingSessionsMidStream(t *testing.T) {
	p := newPipe()
	h := newHarness(t, p.opener())
	ctx := context.Background()

	other, err := h.store.Create(ctx)
	require.NoError(t, err)
	target, err := h.store.Create(ctx)
	require.NoError(t, err)

	done := make(chan TurnResult, 1)
	go func() {
		res, _ := h.orch.SubmitTurn(ctx, "hi")
		done <- res
	}()
	require.Eventually(t, func() bool { return h.orch.State() == StateStreaming }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, h.store.SetActive(other.ID))
	_, err = p.pw.Write([]byte("reply"))
	require.NoError(t, err)
	require.NoError(t, p.pw.Close())

	res := <-done
	require.NoError(t, res.Err)
	assert.Equal(t, target.ID, res.SessionID)

	got, _ := h.store.Session(target.ID)
	assert.Equal(t, []string{"user:hi", "assistant:reply"}, contents(got.Messages))
	untouched, _ := h.store.Session(other.ID)
	assert.Empty(t, untouched.Messages)
}

// =============================================================================
// STATE TABLE
// =============================================================================

func TestTransitions(t *testing.T) {
	path := []State{StateIdle, StateSessionEnsured, StateUserAppended, StateStreaming, StateFinalized, StateIdle}
	for i := 0; i < len(path)-1; i++ {
		assert.True(t, canTransition(path[i], path[i+1]), "%s -> %s", path[i], path[i+1])
	}
	for _, s := range []State{StateIdle, StateSessionEnsured, StateUserAppended, StateStreaming} {
		assert.True(t, canTransition(s, StateFailed), "%s -> failed", s)
	}
	assert.True(t, canTransition(StateFailed, StateIdle))

	assert.False(t, canTransition(StateIdle, StateStreaming))
	assert.False(t, canTransition(StateFinalized, StateFailed))
	assert.False(t, canTransition(StateFailed, StateStreaming))
	assert.Equal(t, "streaming", StateStreaming.String())
}

func TestInvalidTransitionIsIgnored(t *testing.T) {
	o := NewOrchestrator(nil, nil, nil)
	o.transition(StateFinalized)
	assert.Equal(t, StateIdle, o.State())
}
