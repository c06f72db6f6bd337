// Package pipeline sequences the security stages described in spec.md §4.8
// into a single HTTP handler: authenticate, rate-limit, model allowlist,
// request injection scan, request PII scan, streaming gate, forward,
// response scan, audit. Any stage may short-circuit the rest.
//
// The handler shape (read body, dispatch through sequential named steps,
// branch on streaming vs. buffered response, fire-and-forget the audit
// write) is grounded in the teacher's pkg/proxy/proxy.go handleProxy, with
// the agent-loop guardrail stages replaced by this gateway's security
// stages and the AIR-record vocabulary replaced by AuditRecord.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/llmsecgw/gateway/pkg/alerting"
	"github.com/llmsecgw/gateway/pkg/analytics"
	"github.com/llmsecgw/gateway/pkg/apitypes"
	"github.com/llmsecgw/gateway/pkg/audit"
	"github.com/llmsecgw/gateway/pkg/clientstore"
	"github.com/llmsecgw/gateway/pkg/injection"
	"github.com/llmsecgw/gateway/pkg/pii"
	"github.com/llmsecgw/gateway/pkg/provider"
	"github.com/llmsecgw/gateway/pkg/ratelimit"
	"github.com/llmsecgw/gateway/pkg/stream"
)

var tracer = otel.Tracer("llmsecgw/gateway")

// Vault optionally captures the exact bytes forwarded to and received from
// the provider, for later replay-based drift checking (pkg/replay). A nil
// Vault in Config disables capture entirely; it is not on the critical
// path for any stage's admission decision.
type Vault interface {
	Put(ctx context.Context, key string, data []byte) error
}

// Config wires every stage's dependencies. Nil Audit is replaced by a
// NoopSink; Vault, Analytics and Alerter may be nil, which skips vaulting,
// metrics and alert delivery.
type Config struct {
	ClientStore        clientstore.Store
	RateLimiter        *ratelimit.Limiter
	DefaultRateLimitRPM int
	InjectionThreshold  float64
	RequestPIIMode      pii.Mode
	ResponsePIIMode     pii.Mode
	AllowStreaming      bool
	Providers           *provider.Registry
	Audit               audit.Sink
	Vault               Vault
	Analytics           *analytics.Tracker
	Alerter             *alerting.Notifier
}

// Orchestrator implements the full request pipeline as an http.Handler.
type Orchestrator struct {
	cfg Config
}

// New builds an Orchestrator from cfg.
func New(cfg Config) *Orchestrator {
	if cfg.Audit == nil {
		cfg.Audit = audit.NoopSink{}
	}
	return &Orchestrator{cfg: cfg}
}

// Handler returns the gateway's public HTTP surface: the chat-completions
// endpoint and an unauthenticated health check, matching spec.md §6.
func (o *Orchestrator) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", o.serveChatCompletions)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	return mux
}

// requestState threads per-request mutable state through the stage
// sequence without a class hierarchy, per spec.md §9's "tagged variant,
// not inheritance" design note: each stage reads/writes the fields it
// owns and appends its own StageRecord.
type requestState struct {
	requestID string
	client    clientstore.ClientConfig
	rec       audit.Record
	req       apitypes.Request
}

func (o *Orchestrator) serveChatCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, `{"error":{"type":"invalid_request","message":"POST required"}}`, http.StatusMethodNotAllowed)
		return
	}

	requestID := uuid.New().String()
	ctx, span := tracer.Start(r.Context(), "gateway.chat_completions",
		trace.WithAttributes(attribute.String("gen_ai.request.id", requestID)))
	defer span.End()

	w.Header().Set("X-Request-Id", requestID)

	st := &requestState{requestID: requestID, rec: audit.NewRecord(requestID)}

	client, ok := o.stageAuthenticate(w, r, st)
	if !ok {
		return
	}
	st.client = client
	st.rec.ClientID = client.ClientID
	span.SetAttributes(attribute.String("gen_ai.client.id", client.ClientID))

	if !o.stageRateLimit(w, st) {
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		o.deny(w, st, "parse", ReasonInvalidRequest, "failed to read request body", nil)
		return
	}
	r.Body.Close()

	var req apitypes.Request
	if err := json.Unmarshal(body, &req); err != nil {
		o.deny(w, st, "parse", ReasonInvalidRequest, "malformed request body", nil)
		return
	}
	st.req = req
	st.rec.Model = req.Model
	st.rec.Stream = req.Stream
	st.rec.Provider = string(client.Provider)
	span.SetAttributes(
		attribute.String("gen_ai.request.model", req.Model),
		attribute.Bool("gen_ai.request.stream", req.Stream),
	)

	if !o.stageModelAllowlist(w, st) {
		return
	}
	if !o.stageInjectionScan(w, st) {
		return
	}
	if !o.stagePIIScan(w, st) {
		return
	}
	if !o.stageStreamingGate(w, st) {
		return
	}

	adapter, err := o.cfg.Providers.Get(string(client.Provider))
	if err != nil {
		o.deny(w, st, "forward", ReasonInternalError, "no adapter for provider", nil)
		return
	}

	start := time.Now()
	if req.Stream {
		o.forwardStreaming(ctx, w, st, adapter, start)
	} else {
		o.forwardBuffered(ctx, w, st, adapter, start)
	}
}

func (o *Orchestrator) stageAuthenticate(w http.ResponseWriter, r *http.Request, st *requestState) (clientstore.ClientConfig, bool) {
	apiKey := r.Header.Get("X-API-Key")
	if apiKey == "" {
		o.deny(w, st, "authenticate", ReasonUnauthenticated, "missing X-API-Key", nil)
		return clientstore.ClientConfig{}, false
	}

	cfg, err := o.cfg.ClientStore.Lookup(r.Context(), apiKey)
	if err != nil {
		o.deny(w, st, "authenticate", ReasonUnauthenticated, "invalid API key", nil)
		return clientstore.ClientConfig{}, false
	}

	st.rec.Stages = append(st.rec.Stages, audit.StageRecord{Name: "authenticate", Allow: true})
	return cfg, true
}

func (o *Orchestrator) stageRateLimit(w http.ResponseWriter, st *requestState) bool {
	limit := st.client.RateLimitRPM
	if limit <= 0 {
		limit = o.cfg.DefaultRateLimitRPM
	}

	decision := o.cfg.RateLimiter.Check(st.client.ClientID, limit)
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetSec, 10))

	if !decision.Allowed {
		w.Header().Set("Retry-After", strconv.FormatInt(decision.ResetSec, 10))
		o.deny(w, st, "rate_limit", ReasonRateLimited, "rate limit exceeded", map[string]any{
			"limit": decision.Limit, "reset_sec": decision.ResetSec,
		})
		return false
	}

	st.rec.Stages = append(st.rec.Stages, audit.StageRecord{Name: "rate_limit", Allow: true})
	return true
}

func (o *Orchestrator) stageModelAllowlist(w http.ResponseWriter, st *requestState) bool {
	if !st.client.AllowsModel(st.req.Model) {
		o.deny(w, st, "model_allowlist", ReasonModelNotAllowed,
			fmt.Sprintf("model %q not in allowlist", st.req.Model), nil)
		return false
	}
	st.rec.Stages = append(st.rec.Stages, audit.StageRecord{Name: "model_allowlist", Allow: true})
	return true
}

func (o *Orchestrator) stageInjectionScan(w http.ResponseWriter, st *requestState) bool {
	result := injection.Score(st.req.UserText())
	if result.Blocked(o.cfg.InjectionThreshold) {
		o.deny(w, st, "injection_scan", ReasonInjectionBlocked, "prompt injection detected", map[string]any{
			"score": result.Score, "matches": matchIDs(result.Matches),
		})
		return false
	}
	st.rec.Stages = append(st.rec.Stages, audit.StageRecord{
		Name: "injection_scan", Allow: true, Detail: map[string]any{"score": result.Score},
	})
	return true
}

func (o *Orchestrator) stagePIIScan(w http.ResponseWriter, st *requestState) bool {
	var findings []pii.Finding
	for i, m := range st.req.Messages {
		res := pii.Scan(m.Content, o.cfg.RequestPIIMode)
		if len(res.Findings) == 0 {
			continue
		}
		findings = append(findings, res.Findings...)
		if o.cfg.RequestPIIMode == pii.ModeRedact {
			st.req.Messages[i].Content = res.Text
		}
	}

	if len(findings) > 0 && o.cfg.RequestPIIMode == pii.ModeBlock {
		o.deny(w, st, "pii_scan", ReasonPIIBlocked, "PII detected in request", map[string]any{
			"findings": pii.Describe(findings),
		})
		return false
	}

	st.rec.Stages = append(st.rec.Stages, audit.StageRecord{
		Name: "pii_scan", Allow: true, Detail: map[string]any{"findings": pii.Describe(findings)},
	})
	return true
}

func (o *Orchestrator) stageStreamingGate(w http.ResponseWriter, st *requestState) bool {
	if st.req.Stream && !o.cfg.AllowStreaming {
		o.deny(w, st, "streaming_gate", ReasonStreamingUnsupported, "streaming not supported on this deployment", nil)
		return false
	}
	st.rec.Stages = append(st.rec.Stages, audit.StageRecord{Name: "streaming_gate", Allow: true})
	return true
}

// responseScan runs the advisory response-side injection scorer and the
// mode-dependent PII scanner against text, returning the (possibly
// redacted) text and whether a block-mode PII finding requires the
// response to be blocked entirely.
func (o *Orchestrator) responseScan(text string) (out string, scan audit.ResponseScan, blocked bool) {
	injResult := injection.Score(text)
	piiResult := pii.Scan(text, o.cfg.ResponsePIIMode)

	scan = audit.ResponseScan{
		InjectionScore: injResult.Score,
		PIIFindings:    pii.Describe(piiResult.Findings),
	}

	if len(piiResult.Findings) > 0 && o.cfg.ResponsePIIMode == pii.ModeBlock {
		scan.Blocked = true
		return text, scan, true
	}
	return piiResult.Text, scan, false
}

func (o *Orchestrator) forwardBuffered(ctx context.Context, w http.ResponseWriter, st *requestState, adapter provider.Adapter, start time.Time) {
	o.vaultRequest(ctx, st)

	resp, err := adapter.Complete(ctx, st.req)
	latency := time.Since(start).Milliseconds()
	st.rec.UpstreamLatencyMS = latency

	if err != nil {
		o.recordFailure(st, latency, err.Error())
		o.deny(w, st, "forward", ReasonUpstreamError, err.Error(), nil)
		return
	}
	st.rec.Stages = append(st.rec.Stages, audit.StageRecord{Name: "forward", Allow: true})
	o.vaultResponse(ctx, st, resp)
	o.recordSuccess(st, latency, resp)

	text, scan, blocked := o.responseScan(resp.AssistantText())
	st.rec.ResponseScan = &scan
	if blocked {
		o.finish(st, audit.OutcomeAllowed)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		json.NewEncoder(w).Encode(newErrorBody(ReasonResponseBlocked, "response blocked by PII policy", st.requestID))
		return
	}
	if len(resp.Choices) > 0 {
		resp.Choices[0].Message.Content = text
	}

	o.finish(st, audit.OutcomeAllowed)
	w.Header().Set("Content-Type", "application/json")
	if resp.Raw != nil {
		var mutated map[string]any
		if json.Unmarshal(resp.Raw, &mutated) == nil {
			if choices, ok := mutated["choices"].([]any); ok && len(choices) > 0 {
				if choice0, ok := choices[0].(map[string]any); ok {
					if msg, ok := choice0["message"].(map[string]any); ok {
						msg["content"] = text
					}
				}
			}
			json.NewEncoder(w).Encode(mutated)
			return
		}
	}
	json.NewEncoder(w).Encode(resp)
}

func (o *Orchestrator) forwardStreaming(ctx context.Context, w http.ResponseWriter, st *requestState, adapter provider.Adapter, start time.Time) {
	chunks, err := adapter.Stream(ctx, st.req)
	if err != nil {
		o.deny(w, st, "forward", ReasonUpstreamError, err.Error(), nil)
		return
	}
	st.rec.Stages = append(st.rec.Stages, audit.StageRecord{Name: "forward", Allow: true})

	sink := stream.NewSSEWriter(w)
	result := stream.Coordinate(ctx, chunks, sink, func(text string) (bool, string) {
		_, scan, blocked := o.responseScan(text)
		st.rec.ResponseScan = &scan
		return blocked, "response blocked by PII policy"
	})

	st.rec.UpstreamLatencyMS = time.Since(start).Milliseconds()

	switch result.Outcome {
	case stream.OutcomeClientCancelled:
		o.finish(st, audit.OutcomeClientCancelled)
	case stream.OutcomeUpstreamError:
		o.finish(st, audit.OutcomeUpstreamError)
	default:
		o.finish(st, audit.OutcomeAllowed)
	}
}

// deny records the given stage as a denial, finishes the audit record with
// outcome "denied", alerts on reason codes worth paging on, and writes the
// mapped HTTP error response.
func (o *Orchestrator) deny(w http.ResponseWriter, st *requestState, stage string, code ReasonCode, message string, detail any) {
	st.rec.Stages = append(st.rec.Stages, audit.StageRecord{
		Name: stage, Allow: false, ReasonCode: string(code), Detail: detail,
	})
	o.finish(st, audit.OutcomeDenied)

	if o.cfg.Alerter != nil && alerting.ShouldAlert(string(code)) {
		o.cfg.Alerter.Notify(alerting.Incident{
			RequestID:  st.requestID,
			ClientID:   st.client.ClientID,
			Model:      st.req.Model,
			Stage:      stage,
			ReasonCode: string(code),
			Message:    message,
			Detail:     detail,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusFor(code))
	json.NewEncoder(w).Encode(newErrorBody(code, message, st.requestID))
}

// recordSuccess feeds a completed upstream call into the analytics tracker.
// No-op when no tracker is configured.
func (o *Orchestrator) recordSuccess(st *requestState, latencyMS int64, resp apitypes.Response) {
	if o.cfg.Analytics == nil {
		return
	}
	o.cfg.Analytics.RecordCall(st.req.Model, latencyMS,
		resp.Usage.PromptTokens, resp.Usage.CompletionTokens, resp.Usage.TotalTokens,
		string(audit.OutcomeAllowed), "")
}

// recordFailure feeds a failed upstream call into the analytics tracker,
// classifying the error via pkg/analytics' failure taxonomy.
func (o *Orchestrator) recordFailure(st *requestState, latencyMS int64, errMsg string) {
	if o.cfg.Analytics == nil {
		return
	}
	failureType := analytics.ClassifyFailure(statusFor(ReasonUpstreamError), errMsg)
	o.cfg.Analytics.RecordCall(st.req.Model, latencyMS, 0, 0, 0, string(audit.OutcomeUpstreamError), failureType)
}

func (o *Orchestrator) finish(st *requestState, outcome audit.Outcome) {
	st.rec.Outcome = outcome
	if err := o.cfg.Audit.Write(st.rec); err != nil {
		log.Printf("[pipeline] audit write failed request_id=%s: %v", st.requestID, err)
	}
}

// vaultRequest stores the (post-redaction) request this orchestrator is
// about to forward upstream, for later replay. Failures are logged and
// otherwise ignored: vaulting is ambient observability, never a reason to
// fail a request that already passed every security stage.
func (o *Orchestrator) vaultRequest(ctx context.Context, st *requestState) {
	if o.cfg.Vault == nil {
		return
	}
	data, err := json.Marshal(st.req)
	if err != nil {
		log.Printf("[pipeline] vault marshal request failed request_id=%s: %v", st.requestID, err)
		return
	}
	key := "requests/" + st.requestID
	if err := o.cfg.Vault.Put(ctx, key, data); err != nil {
		log.Printf("[pipeline] vault put request failed request_id=%s: %v", st.requestID, err)
		return
	}
	st.rec.RequestVaultRef = key
}

// vaultResponse stores the upstream response this orchestrator is about to
// return to the client, preferring the exact upstream bytes when the
// adapter provided them.
func (o *Orchestrator) vaultResponse(ctx context.Context, st *requestState, resp apitypes.Response) {
	if o.cfg.Vault == nil {
		return
	}
	data := []byte(resp.Raw)
	if len(data) == 0 {
		var err error
		data, err = json.Marshal(resp)
		if err != nil {
			log.Printf("[pipeline] vault marshal response failed request_id=%s: %v", st.requestID, err)
			return
		}
	}
	key := "responses/" + st.requestID
	if err := o.cfg.Vault.Put(ctx, key, data); err != nil {
		log.Printf("[pipeline] vault put response failed request_id=%s: %v", st.requestID, err)
		return
	}
	st.rec.ResponseVaultRef = key
}

func matchIDs(matches []injection.Match) []string {
	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.PatternID
	}
	return ids
}
