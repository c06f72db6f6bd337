// Package replay reconstructs a prior request from its audit-record vault
// references, replays it through a provider adapter, and reports drift
// between the original and replayed response. It is an offline
// verification tool, not part of the hot request path: it reuses the same
// provider.Adapter abstraction the gateway forwards through instead of
// rolling its own HTTP client, so a replay exercises exactly the adapter
// that served the original request.
package replay

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/llmsecgw/gateway/pkg/apitypes"
	"github.com/llmsecgw/gateway/pkg/audit"
	"github.com/llmsecgw/gateway/pkg/provider"
)

// Result holds the outcome of a replay.
type Result struct {
	RequestID      string  `json:"request_id"`
	OriginalModel  string  `json:"original_model"`
	ReplayModel    string  `json:"replay_model"`
	Drift          bool    `json:"drift"`
	DriftSummary   string  `json:"drift_summary,omitempty"`
	OriginalTokens int     `json:"original_tokens"`
	ReplayTokens   int     `json:"replay_tokens"`
	Similarity     float64 `json:"similarity"` // 0.0-1.0 basic token overlap
}

// driftThreshold below which a replay is flagged as having drifted from
// the original response.
const driftThreshold = 0.80

// Options configures a replay.
type Options struct {
	Vault   Vault            // fetches the vaulted request/response bytes
	Adapter provider.Adapter // the provider the original request was routed to
}

// Run fetches the original request and response from Vault using rec's
// vault references, replays the request through Adapter, and compares the
// two responses.
func Run(ctx context.Context, rec audit.Record, opts Options) (Result, error) {
	result := Result{
		RequestID:     rec.RequestID,
		OriginalModel: rec.Model,
	}

	if rec.RequestVaultRef == "" {
		return result, fmt.Errorf("replay: audit record has no request vault ref (was it ever forwarded?)")
	}

	reqData, err := opts.Vault.Fetch(ctx, rec.RequestVaultRef)
	if err != nil {
		return result, fmt.Errorf("replay: fetch request: %w", err)
	}

	var originalResp []byte
	if rec.ResponseVaultRef != "" {
		originalResp, err = opts.Vault.Fetch(ctx, rec.ResponseVaultRef)
		if err != nil {
			return result, fmt.Errorf("replay: fetch response: %w", err)
		}
	}

	var req apitypes.Request
	if err := json.Unmarshal(reqData, &req); err != nil {
		return result, fmt.Errorf("replay: decode vaulted request: %w", err)
	}
	req.Stream = false // replay always runs non-streaming, regardless of the original

	resp, err := opts.Adapter.Complete(ctx, req)
	if err != nil {
		return result, fmt.Errorf("replay: upstream: %w", err)
	}

	result.ReplayModel = resp.Model
	result.ReplayTokens = resp.Usage.TotalTokens
	result.OriginalTokens = originalTokenCount(originalResp)

	originalContent := extractContent(originalResp)
	replayContent := resp.AssistantText()

	result.Similarity = tokenSimilarity(originalContent, replayContent)
	result.Drift = result.Similarity < driftThreshold

	if result.Drift {
		result.DriftSummary = fmt.Sprintf(
			"similarity=%.2f (threshold=%.2f); original=%d chars, replay=%d chars",
			result.Similarity, driftThreshold, len(originalContent), len(replayContent))
	}

	return result, nil
}

// originalTokenCount extracts usage.total_tokens from a vaulted response's
// raw bytes. It is best-effort: it returns 0 when the bytes do not decode
// or carry no usage block.
func originalTokenCount(data []byte) int {
	var parsed struct {
		Usage struct {
			TotalTokens int `json:"total_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return 0
	}
	return parsed.Usage.TotalTokens
}

// extractContent pulls the assistant message content from a vaulted
// OpenAI-shaped response. Falls back to the raw bytes if the shape doesn't
// parse, so similarity scoring still has something to compare.
func extractContent(data []byte) string {
	var resp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(data, &resp); err == nil && len(resp.Choices) > 0 {
		return resp.Choices[0].Message.Content
	}
	return string(data)
}

// tokenSimilarity computes a basic word-overlap Jaccard similarity.
func tokenSimilarity(a, b string) float64 {
	if a == "" && b == "" {
		return 1.0
	}
	if a == "" || b == "" {
		return 0.0
	}

	setA := tokenSet(a)
	setB := tokenSet(b)

	intersection := 0
	for w := range setA {
		if setB[w] {
			intersection++
		}
	}

	union := len(setA)
	for w := range setB {
		if !setA[w] {
			union++
		}
	}

	if union == 0 {
		return 1.0
	}
	return float64(intersection) / float64(union)
}

func tokenSet(s string) map[string]bool {
	words := strings.Fields(strings.ToLower(s))
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}
