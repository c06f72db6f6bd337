// Command replayctl replays a vaulted gateway request against its provider
// and reports behavioral drift from the original response.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/llmsecgw/gateway/pkg/audit"
	"github.com/llmsecgw/gateway/pkg/provider"
	"github.com/llmsecgw/gateway/pkg/provider/bedrock"
	"github.com/llmsecgw/gateway/pkg/provider/openaicompat"
	"github.com/llmsecgw/gateway/pkg/replay"
)

func main() {
	if len(os.Args) < 4 || os.Args[1] != "replay" {
		fmt.Fprintf(os.Stderr, "Usage: replayctl replay <audit-log-file> <request-id>\n")
		os.Exit(1)
	}

	auditPath := os.Args[2]
	requestID := os.Args[3]

	rec, err := findRecord(auditPath, requestID)
	if err != nil {
		log.Fatalf("find audit record: %v", err)
	}

	fmt.Printf("Request ID: %s\n", rec.RequestID)
	fmt.Printf("Model:      %s\n", rec.Model)
	fmt.Printf("Provider:   %s\n", rec.Provider)
	fmt.Printf("Outcome:    %s\n", rec.Outcome)
	fmt.Println()

	ctx := context.Background()
	vault, err := replay.NewVault(ctx, replay.VaultConfig{
		Endpoint:  envOr("REPLAY_VAULT_ENDPOINT", "localhost:9000"),
		AccessKey: envOr("REPLAY_VAULT_ACCESS_KEY", "minioadmin"),
		SecretKey: envOr("REPLAY_VAULT_SECRET_KEY", "minioadmin"),
		Bucket:    envOr("REPLAY_VAULT_BUCKET", "gateway-replay"),
		UseSSL:    envOr("REPLAY_VAULT_USE_SSL", "false") == "true",
	})
	if err != nil {
		log.Fatalf("vault connect: %v", err)
	}

	adapter, err := buildAdapter(ctx, rec.Provider)
	if err != nil {
		log.Fatalf("build provider adapter: %v", err)
	}

	fmt.Println("Replaying...")
	result, err := replay.Run(ctx, rec, replay.Options{Vault: vault, Adapter: adapter})
	if err != nil {
		log.Fatalf("replay failed: %v", err)
	}

	fmt.Println()
	fmt.Printf("Similarity: %.2f\n", result.Similarity)

	if result.Drift {
		fmt.Printf("DRIFT DETECTED: %s\n", result.DriftSummary)
		data, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(data))
		os.Exit(1)
	}

	fmt.Println("NO DRIFT - replay matches original within threshold.")
}

// findRecord scans a JSON-lines audit log for the record with the given
// request ID, since audit.WriterSink appends one record per line rather
// than one file per request.
func findRecord(path, requestID string) (audit.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return audit.Record{}, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var rec audit.Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue
		}
		if rec.RequestID == requestID {
			return rec, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return audit.Record{}, fmt.Errorf("scan audit log: %w", err)
	}
	return audit.Record{}, fmt.Errorf("request id %q not found in %s", requestID, path)
}

// buildAdapter constructs the same provider adapter the gateway would have
// used for the original request, so a replay exercises real upstream
// translation logic (Bedrock's Converse shape, OpenAI's wire shape) instead
// of a generic HTTP client.
func buildAdapter(ctx context.Context, providerTag string) (provider.Adapter, error) {
	switch providerTag {
	case "bedrock":
		return bedrock.New(ctx, bedrock.Config{
			Region:  envOr("AWS_REGION", "us-east-1"),
			ModelID: envOr("BEDROCK_MODEL_ID", "anthropic.claude-3-sonnet-20240229-v1:0"),
		})
	case "openai", "":
		apiKey := envOr("UPSTREAM_API_KEY", "")
		if apiKey == "" {
			return nil, fmt.Errorf("UPSTREAM_API_KEY required for replay")
		}
		return openaicompat.New(openaicompat.Config{
			BaseURL: envOr("UPSTREAM_BASE_URL", "https://api.openai.com"),
			APIKey:  apiKey,
		}), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", providerTag)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
