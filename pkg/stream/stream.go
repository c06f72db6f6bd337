// Package stream coordinates a provider's chunk stream with the client
// connection: every non-terminal chunk is forwarded immediately, but the
// terminal sentinel is held back until the full accumulated response has
// been scanned, so a late PII finding can still replace it with a blocked-
// response event instead of the normal end-of-stream marker (spec.md
// §4.7). The read/accumulate/tee shape is grounded in the teacher's
// pkg/proxy/proxy.go handleStreamingResponse; the bounded-buffer and
// cancellation-context handling borrow from other_examples' enchanted-proxy
// StreamSession.
package stream

import (
	"context"
	"fmt"

	"github.com/llmsecgw/gateway/pkg/apitypes"
)

// Outcome classifies how a stream ended, for the audit record.
type Outcome string

const (
	OutcomeCompleted       Outcome = "completed"
	OutcomeResponseBlocked Outcome = "response_blocked"
	OutcomeClientCancelled Outcome = "client_cancelled"
	OutcomeUpstreamError   Outcome = "upstream_error"
)

// Sink receives chunks to forward to the client. Implementations must not
// block indefinitely; the HTTP SSE writer implementation flushes after
// every Send.
type Sink interface {
	Send(apitypes.Chunk) error
}

// PostScan evaluates the fully accumulated assistant text once the
// provider's terminal chunk arrives. A true return blocks the response.
type PostScan func(text string) (blocked bool, reason string)

// Result summarizes how Coordinate ended.
type Result struct {
	Outcome Outcome
	Text    string
	Err     error
}

// Coordinate drains chunks, forwarding each non-terminal one to sink as it
// arrives and accumulating assistant-visible text. When the terminal chunk
// arrives, postScan runs against the full accumulated text before the
// terminal (or a replacement blocked-response chunk) is forwarded.
//
// If ctx is cancelled before a terminal chunk is seen, Coordinate stops
// forwarding and returns OutcomeClientCancelled without draining the rest
// of chunks; callers own closing the underlying provider stream.
func Coordinate(ctx context.Context, chunks <-chan apitypes.Chunk, sink Sink, postScan PostScan) Result {
	var text string

	for {
		select {
		case <-ctx.Done():
			return Result{Outcome: OutcomeClientCancelled, Text: text, Err: ctx.Err()}

		case chunk, ok := <-chunks:
			if !ok {
				// Provider closed the channel without a terminal chunk: treat
				// as a hard upstream failure rather than a clean finish.
				return Result{Outcome: OutcomeUpstreamError, Text: text,
					Err: fmt.Errorf("stream: upstream closed without terminal chunk")}
			}

			if chunk.Kind == apitypes.ChunkDelta {
				text += chunk.Delta
			}

			if !chunk.IsTerminal() {
				if err := sink.Send(chunk); err != nil {
					return Result{Outcome: OutcomeUpstreamError, Text: text, Err: err}
				}
				continue
			}

			return finish(sink, chunk, text, postScan)
		}
	}
}

func finish(sink Sink, terminal apitypes.Chunk, text string, postScan PostScan) Result {
	if postScan != nil {
		if blocked, reason := postScan(text); blocked {
			blockedChunk := apitypes.Chunk{
				Kind:         apitypes.ChunkError,
				ErrorType:    "response_blocked",
				ErrorMessage: reason,
			}
			if err := sink.Send(blockedChunk); err != nil {
				return Result{Outcome: OutcomeUpstreamError, Text: text, Err: err}
			}
			return Result{Outcome: OutcomeResponseBlocked, Text: text}
		}
	}

	if err := sink.Send(terminal); err != nil {
		return Result{Outcome: OutcomeUpstreamError, Text: text, Err: err}
	}
	return Result{Outcome: OutcomeCompleted, Text: text}
}
