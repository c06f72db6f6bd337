// Command gateway starts the security-enforcing reverse proxy that sits
// between client applications and LLM provider APIs, screening every
// /v1/chat/completions call for authentication, rate limits, model
// allowlisting, prompt injection, and PII before forwarding it upstream.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/llmsecgw/gateway/pkg/alerting"
	"github.com/llmsecgw/gateway/pkg/analytics"
	"github.com/llmsecgw/gateway/pkg/audit"
	"github.com/llmsecgw/gateway/pkg/clientstore"
	"github.com/llmsecgw/gateway/pkg/pii"
	"github.com/llmsecgw/gateway/pkg/pipeline"
	"github.com/llmsecgw/gateway/pkg/provider"
	"github.com/llmsecgw/gateway/pkg/provider/bedrock"
	"github.com/llmsecgw/gateway/pkg/provider/openaicompat"
	"github.com/llmsecgw/gateway/pkg/ratelimit"
	"github.com/llmsecgw/gateway/pkg/replay"
	"github.com/llmsecgw/gateway/pkg/trust"
)

func main() {
	addr := flag.String("addr", envOr("LISTEN_ADDR", ":8080"), "listen address")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	tp, err := initTracer(ctx)
	if err != nil {
		log.Printf("WARN: OTel tracing disabled: %v", err)
	} else if tp != nil {
		defer tp.Shutdown(ctx)
	}

	clientStore, err := buildClientStore(ctx)
	if err != nil {
		log.Fatalf("client store: %v", err)
	}

	auditSink, auditFile := buildAuditSink()
	if auditFile != nil {
		defer auditFile.Close()
	}
	auditSink = wrapWithTrustChain(auditSink)

	admissionRPS, err := strconv.ParseFloat(envOr("UPSTREAM_ADMISSION_RPS", "20"), 64)
	if err != nil {
		log.Fatalf("UPSTREAM_ADMISSION_RPS: %v", err)
	}
	admissionBurst, err := strconv.Atoi(envOr("UPSTREAM_ADMISSION_BURST", "10"))
	if err != nil {
		log.Fatalf("UPSTREAM_ADMISSION_BURST: %v", err)
	}

	registry := provider.NewRegistry()
	registry.Register("openai", func() (provider.Adapter, error) {
		adapter := openaicompat.New(openaicompat.Config{
			BaseURL: envOr("UPSTREAM_BASE_URL", "https://api.openai.com"),
			APIKey:  envOr("UPSTREAM_API_KEY", ""),
		})
		return provider.WithAdmissionLimit(adapter, admissionRPS, admissionBurst), nil
	})
	registry.Register("bedrock", func() (provider.Adapter, error) {
		adapter, err := bedrock.New(ctx, bedrock.Config{
			Region:  envOr("AWS_REGION", "us-east-1"),
			ModelID: envOr("BEDROCK_MODEL_ID", "anthropic.claude-3-sonnet-20240229-v1:0"),
		})
		if err != nil {
			return nil, err
		}
		return provider.WithAdmissionLimit(adapter, admissionRPS, admissionBurst), nil
	})

	injectionThreshold, err := strconv.ParseFloat(envOr("INJECTION_THRESHOLD", "0.7"), 64)
	if err != nil {
		log.Fatalf("INJECTION_THRESHOLD: %v", err)
	}
	defaultRPM, err := strconv.Atoi(envOr("RATE_LIMIT_RPM", "60"))
	if err != nil {
		log.Fatalf("RATE_LIMIT_RPM: %v", err)
	}

	orchestrator := pipeline.New(pipeline.Config{
		ClientStore:         clientStore,
		RateLimiter:         ratelimit.New(60 * time.Second),
		DefaultRateLimitRPM: defaultRPM,
		InjectionThreshold:  injectionThreshold,
		RequestPIIMode:      pii.Mode(envOr("PII_ACTION", string(pii.ModeRedact))),
		ResponsePIIMode:     pii.Mode(envOr("RESPONSE_PII_ACTION", string(pii.ModeLogOnly))),
		AllowStreaming:      envOr("ALLOW_STREAMING", "true") == "true",
		Providers:           registry,
		Audit:               auditSink,
		Vault:               buildReplayVault(ctx),
		Analytics:           analytics.NewTracker(),
		Alerter:             alerting.New(envOr("ALERT_WEBHOOK_URL", "")),
	})

	srv := &http.Server{
		Addr:         *addr,
		Handler:      orchestrator.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 180 * time.Second, // streaming responses can run long
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("gateway listening on %s", *addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down...")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutCancel()
	srv.Shutdown(shutCtx)
}

// buildClientStore selects and constructs the configured client-store
// backend (spec.md §6's CLIENT_STORE_BACKEND / CLIENT_CONFIG_PATH).
func buildClientStore(ctx context.Context) (clientstore.Store, error) {
	var base clientstore.Store

	switch backend := envOr("CLIENT_STORE_BACKEND", "json"); backend {
	case "remote":
		remote, err := clientstore.NewRemote(ctx, clientstore.RemoteConfig{
			Endpoint:  envOr("CLIENT_STORE_ENDPOINT", "localhost:9000"),
			AccessKey: envOr("CLIENT_STORE_ACCESS_KEY", "minioadmin"),
			SecretKey: envOr("CLIENT_STORE_SECRET_KEY", "minioadmin"),
			Bucket:    envOr("CLIENT_STORE_BUCKET", "gateway-clients"),
			UseSSL:    envOr("CLIENT_STORE_USE_SSL", "false") == "true",
		})
		if err != nil {
			return nil, err
		}
		base = remote
	case "json", "yaml":
		path := envOr("CLIENT_CONFIG_PATH", "clients.json")
		if _, err := os.Stat(path); err != nil {
			log.Printf("WARN: client config %s not found, falling back to GATEWAY_API_KEYS", path)
			base = legacyFromEnv()
			break
		}
		static, err := clientstore.LoadStatic(path)
		if err != nil {
			return nil, err
		}
		base = static
	default:
		base = legacyFromEnv()
	}

	return clientstore.WithDefaultRPM(base, mustAtoi(envOr("RATE_LIMIT_RPM", "60"))), nil
}

func legacyFromEnv() *clientstore.LegacyStore {
	keys := strings.Split(envOr("GATEWAY_API_KEYS", "dev-key-1"), ",")
	for i := range keys {
		keys[i] = strings.TrimSpace(keys[i])
	}
	return clientstore.NewLegacy(keys, clientstore.ClientConfig{
		Provider: clientstore.ProviderOpenAI,
	})
}

// buildReplayVault wires up the optional replay vault (spec.md supplement:
// pkg/replay) when REPLAY_VAULT_ENDPOINT is set. Returns nil when disabled,
// which pipeline.Config treats as "don't capture".
func buildReplayVault(ctx context.Context) pipeline.Vault {
	endpoint := envOr("REPLAY_VAULT_ENDPOINT", "")
	if endpoint == "" {
		return nil
	}
	v, err := replay.NewVault(ctx, replay.VaultConfig{
		Endpoint:  endpoint,
		AccessKey: envOr("REPLAY_VAULT_ACCESS_KEY", "minioadmin"),
		SecretKey: envOr("REPLAY_VAULT_SECRET_KEY", "minioadmin"),
		Bucket:    envOr("REPLAY_VAULT_BUCKET", "gateway-replay"),
		UseSSL:    envOr("REPLAY_VAULT_USE_SSL", "false") == "true",
	})
	if err != nil {
		log.Printf("WARN: replay vault disabled: %v", err)
		return nil
	}
	return v
}

func buildAuditSink() (audit.Sink, *os.File) {
	path := envOr("AUDIT_LOG_FILE", "")
	if path == "" {
		return audit.NewWriterSink(os.Stdout), nil
	}
	sink, closer, err := audit.NewFileSink(path)
	if err != nil {
		log.Printf("WARN: audit log file disabled: %v", err)
		return audit.NewWriterSink(os.Stdout), nil
	}
	f, _ := closer.(*os.File)
	return sink, f
}

// wrapWithTrustChain layers an HMAC-chained audit ledger (pkg/trust) on
// top of sink when TRUST_CHAIN_SECRET is set, making post-hoc tampering
// with the audit log detectable. Returns sink unchanged when disabled.
func wrapWithTrustChain(sink audit.Sink) audit.Sink {
	secret := envOr("TRUST_CHAIN_SECRET", "")
	if secret == "" {
		return sink
	}
	return trust.NewChainedSink(sink, trust.NewAuditChain(secret))
}

func initTracer(ctx context.Context) (*sdktrace.TracerProvider, error) {
	endpoint := envOr("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	if endpoint == "" {
		return nil, nil
	}

	conn, err := grpc.NewClient(endpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}

	exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName("llmsecgw-gateway"),
		semconv.ServiceVersion("0.1.0"),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func mustAtoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		log.Fatalf("expected integer, got %q: %v", s, err)
	}
	return n
}
