// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package transport opens completion requests and exposes the reply as a
// finite, forward-only sequence of text deltas.
//
// Whatever the wire representation (raw text, NDJSON, SSE or one JSON
// object) Stream.Next always yields the newly received text only. Callers
// that need the cumulative reply keep their own accumulator or use
// Stream.Content.
//
// # Usage
//
//	client := transport.New(transport.Config{Endpoint: url, Mode: transport.ModeText})
//	stream, err := client.SendTurn(ctx, history)
//	if err != nil {
//	    return err // *TransportError
//	}
//	defer stream.Close()
//	for {
//	    delta, err := stream.Next()
//	    if err == io.EOF {
//	        break
//	    }
//	    if err != nil {
//	        return err // *StreamError, Partial holds what arrived
//	    }
//	    render(delta)
//	}
package transport
