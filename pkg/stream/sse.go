package stream

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/llmsecgw/gateway/pkg/apitypes"
)

// SSEWriter implements Sink over an http.ResponseWriter, flushing after
// every chunk the way the teacher's handleStreamingResponse flushes after
// every upstream read.
type SSEWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewSSEWriter wraps w. It sets the standard SSE response headers; callers
// must not have written a status code yet.
func NewSSEWriter(w http.ResponseWriter) *SSEWriter {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	return &SSEWriter{w: w, flusher: flusher}
}

// Send writes chunk as one SSE "data:" line and flushes immediately.
func (s *SSEWriter) Send(chunk apitypes.Chunk) error {
	var payload string
	if chunk.Kind == apitypes.ChunkTerminal {
		payload = "[DONE]"
	} else if len(chunk.Raw) > 0 {
		payload = string(chunk.Raw)
	} else {
		encoded, err := json.Marshal(sseEnvelope(chunk))
		if err != nil {
			return fmt.Errorf("stream: encode chunk: %w", err)
		}
		payload = string(encoded)
	}

	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		return fmt.Errorf("stream: write chunk: %w", err)
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}

func sseEnvelope(chunk apitypes.Chunk) map[string]any {
	switch chunk.Kind {
	case apitypes.ChunkError:
		return map[string]any{
			"error": map[string]any{
				"type":    chunk.ErrorType,
				"message": chunk.ErrorMessage,
			},
		}
	case apitypes.ChunkFinish:
		return map[string]any{
			"choices": []map[string]any{{"delta": map[string]any{}, "finish_reason": chunk.FinishReason}},
		}
	case apitypes.ChunkRole:
		return map[string]any{
			"choices": []map[string]any{{"delta": map[string]any{"role": chunk.Role}}},
		}
	default:
		return map[string]any{
			"choices": []map[string]any{{"delta": map[string]any{"content": chunk.Delta}}},
		}
	}
}
