// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"unicode/utf8"
)

// =============================================================================
// STREAM
// =============================================================================

// Stream is a finite, forward-only sequence of reply deltas.
// It is not safe for concurrent use, except Close.
type Stream struct {
	ctx  context.Context
	body io.ReadCloser
	dec  decoder

	content strings.Builder
	err     error // terminal: io.EOF or *StreamError

	closeOnce sync.Once
}

// decoder extracts the next delta from a response body. It returns io.EOF
// when the reply is complete. Empty deltas are allowed and skipped.
type decoder interface {
	next() (string, error)
}

func newStream(ctx context.Context, body io.ReadCloser, mode Mode) *Stream {
	s := &Stream{ctx: ctx, body: body}
	switch mode {
	case ModeNDJSON:
		s.dec = &ndjsonDecoder{r: bufio.NewReader(body)}
	case ModeSSE:
		s.dec = &sseDecoder{r: NewSSEReader(body)}
	case ModeJSON:
		s.dec = &jsonDecoder{r: body}
	default:
		s.dec = &textDecoder{r: body, buf: make([]byte, 4096)}
	}
	return s
}

// NewStream wraps an arbitrary reader, decoding it as mode. It is used by
// tests and by callers that obtain the body themselves.
func NewStream(ctx context.Context, body io.ReadCloser, mode Mode) *Stream {
	return newStream(ctx, body, mode)
}

// Next returns the next delta. It returns io.EOF once the reply is complete,
// or a *StreamError if the stream fails; both are sticky.
func (s *Stream) Next() (string, error) {
	if s.err != nil {
		return "", s.err
	}
	for {
		if err := s.ctx.Err(); err != nil {
			return "", s.fail(err)
		}

		delta, err := s.dec.next()
		if delta != "" {
			s.content.WriteString(delta)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.err = io.EOF
				s.Close()
				if delta != "" {
					return delta, nil
				}
				return "", io.EOF
			}
			// Body reads fail with a transport error once the context is done;
			// report the context's reason instead.
			if ctxErr := s.ctx.Err(); ctxErr != nil {
				err = ctxErr
			}
			failErr := s.fail(err)
			if delta != "" {
				return delta, nil
			}
			return "", failErr
		}
		if delta != "" {
			return delta, nil
		}
	}
}

func (s *Stream) fail(err error) error {
	s.err = &StreamError{Partial: s.content.String(), Err: err}
	s.Close()
	return s.err
}

// Content returns the cumulative text received so far.
func (s *Stream) Content() string {
	return s.content.String()
}

// Close releases the connection. It is safe to call more than once.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.body.Close()
	})
	return err
}

// =============================================================================
// TEXT DECODER
// =============================================================================

// textDecoder yields the raw body as UTF-8 text. A multi-byte character
// split across reads is held back until its remaining bytes arrive.
type textDecoder struct {
	r       io.Reader
	buf     []byte
	pending []byte
}

func (d *textDecoder) next() (string, error) {
	n, err := d.r.Read(d.buf)
	data := append(d.pending, d.buf[:n]...)
	d.pending = nil

	if err != nil {
		// Flush whatever is left, including a truncated final rune.
		return validText(data), err
	}

	cut := completePrefix(data)
	if cut < len(data) {
		d.pending = append([]byte(nil), data[cut:]...)
	}
	return validText(data[:cut]), nil
}

// validText replaces each run of invalid bytes with U+FFFD.
func validText(p []byte) string {
	return strings.ToValidUTF8(string(p), string(utf8.RuneError))
}

// completePrefix returns the length of the longest prefix of p that does not
// end inside an incomplete UTF-8 sequence.
func completePrefix(p []byte) int {
	for i := len(p) - 1; i >= 0 && i >= len(p)-utf8.UTFMax; i-- {
		if utf8.RuneStart(p[i]) {
			if !utf8.FullRune(p[i:]) {
				return i
			}
			break
		}
	}
	return len(p)
}

// =============================================================================
// NDJSON DECODER
// =============================================================================

// ndjsonChunk is one line of an Ollama /api/chat stream.
type ndjsonChunk struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error"`
}

type ndjsonDecoder struct {
	r    *bufio.Reader
	done bool
}

func (d *ndjsonDecoder) next() (string, error) {
	if d.done {
		return "", io.EOF
	}
	for {
		line, err := d.r.ReadBytes('\n')
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			if err != nil {
				return "", err
			}
			continue
		}

		var chunk ndjsonChunk
		if jerr := json.Unmarshal(line, &chunk); jerr != nil {
			return "", fmt.Errorf("decode ndjson line: %w", jerr)
		}
		if chunk.Error != "" {
			return "", errors.New(chunk.Error)
		}

		content := chunk.Message.Content
		if content == "" {
			content = chunk.Response
		}
		if chunk.Done {
			d.done = true
			return content, io.EOF
		}
		if err != nil {
			// Final line without a newline and without done=true.
			return content, err
		}
		return content, nil
	}
}

// =============================================================================
// SSE DECODER
// =============================================================================

// sseDone is the OpenAI end-of-stream sentinel.
const sseDone = "[DONE]"

// sseChunk is one OpenAI-compatible streaming chunk.
type sseChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error json.RawMessage `json:"error"`
}

type sseDecoder struct {
	r    *SSEReader
	done bool
}

func (d *sseDecoder) next() (string, error) {
	if d.done {
		return "", io.EOF
	}
	for {
		_, data, err := d.r.ReadEvent()
		if err != nil {
			return "", err
		}
		if string(data) == sseDone {
			d.done = true
			return "", io.EOF
		}

		var chunk sseChunk
		if jerr := json.Unmarshal(data, &chunk); jerr != nil {
			return "", fmt.Errorf("decode sse event: %w", jerr)
		}
		if msg := (errorBody{Error: chunk.Error}).message(); msg != "" {
			return "", errors.New(msg)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		return chunk.Choices[0].Delta.Content, nil
	}
}

// SSEReader parses Server-Sent Events from a stream.
type SSEReader struct {
	reader *bufio.Reader
}

// NewSSEReader creates a new SSE reader from an io.Reader.
func NewSSEReader(r io.Reader) *SSEReader {
	return &SSEReader{reader: bufio.NewReader(r)}
}

// ReadEvent reads the next event and returns its type and joined data lines.
// Comments and id/retry fields are ignored. Returns io.EOF when the stream
// ends with no pending data.
func (s *SSEReader) ReadEvent() (string, []byte, error) {
	var eventType string
	var dataLines [][]byte

	for {
		line, err := s.reader.ReadBytes('\n')
		if err != nil && !(errors.Is(err, io.EOF) && len(line) > 0) {
			if errors.Is(err, io.EOF) && len(dataLines) > 0 {
				return eventType, bytes.Join(dataLines, []byte("\n")), nil
			}
			return "", nil, err
		}

		line = bytes.TrimRight(line, "\r\n")
		if len(line) == 0 {
			if len(dataLines) > 0 {
				return eventType, bytes.Join(dataLines, []byte("\n")), nil
			}
			continue
		}

		switch {
		case bytes.HasPrefix(line, []byte("event:")):
			eventType = string(bytes.TrimSpace(line[len("event:"):]))
		case bytes.HasPrefix(line, []byte("data:")):
			dataLines = append(dataLines, bytes.TrimPrefix(line[len("data:"):], []byte(" ")))
		}
	}
}

// =============================================================================
// JSON DECODER
// =============================================================================

// jsonCompletion is a non-streaming completion object.
type jsonCompletion struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// maxJSONBody caps a single non-streaming completion.
const maxJSONBody = 8 << 20

type jsonDecoder struct {
	r    io.Reader
	done bool
}

func (d *jsonDecoder) next() (string, error) {
	if d.done {
		return "", io.EOF
	}
	d.done = true

	raw, err := io.ReadAll(io.LimitReader(d.r, maxJSONBody))
	if err != nil {
		return "", err
	}
	var c jsonCompletion
	if err := json.Unmarshal(raw, &c); err != nil {
		return "", fmt.Errorf("decode completion: %w", err)
	}
	if len(c.Choices) == 0 {
		return "", errors.New("completion has no choices")
	}
	return c.Choices[0].Message.Content, io.EOF
}
