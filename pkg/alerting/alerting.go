// Package alerting posts fire-and-forget Slack-webhook narratives when the
// pipeline denies a request for one of the reason codes an operator would
// want paged on. It never influences an admission decision; a failed or
// slow webhook delivery has no effect on the request that triggered it.
package alerting

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"
)

// slackMessage is the payload format for Slack incoming webhooks.
type slackMessage struct {
	Text string `json:"text"`
}

// Incident is the alertable shape of a denied request, built from the
// pipeline's deny() call site.
type Incident struct {
	RequestID  string
	ClientID   string
	Model      string
	Stage      string
	ReasonCode string
	Message    string
	Detail     any
}

// Notifier posts incident narratives to a Slack-compatible webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
}

// New returns a Notifier. An empty webhookURL disables delivery: Notify
// becomes a no-op, so callers don't need to guard every call site on
// whether alerting is configured.
func New(webhookURL string) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// alertableReasons is the set of deny reason codes worth paging on. Rate
// limiting and model-allowlist misses are routine client behavior, not
// security incidents, so they're excluded.
var alertableReasons = map[string]bool{
	"injection_blocked": true,
	"pii_blocked":        true,
	"response_blocked":   true,
}

// ShouldAlert reports whether reasonCode is worth notifying on.
func ShouldAlert(reasonCode string) bool {
	return alertableReasons[reasonCode]
}

// Notify posts inc's narrative to the configured webhook in its own
// goroutine so it never blocks the request path. No-op if the Notifier has
// no webhook URL configured.
func (n *Notifier) Notify(inc Incident) {
	if n == nil || n.webhookURL == "" {
		return
	}

	go func() {
		payload, err := json.Marshal(slackMessage{Text: buildNarrative(inc)})
		if err != nil {
			log.Printf("[alerting] marshal error: %v", err)
			return
		}

		resp, err := n.client.Post(n.webhookURL, "application/json", bytes.NewReader(payload))
		if err != nil {
			log.Printf("[alerting] webhook send error: %v", err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			log.Printf("[alerting] webhook returned %d", resp.StatusCode)
		}
	}()
}

// buildNarrative renders a human-readable incident report.
func buildNarrative(inc Incident) string {
	var msg string

	msg += "*LLM gateway request blocked*\n\n"
	msg += fmt.Sprintf("*Reason:* %s\n", reasonDisplayName(inc.ReasonCode))
	msg += fmt.Sprintf("*Stage:* %s\n", inc.Stage)
	msg += fmt.Sprintf("*Client:* %s\n", inc.ClientID)
	if inc.Model != "" {
		msg += fmt.Sprintf("*Model:* %s\n", inc.Model)
	}
	msg += fmt.Sprintf("*Request ID:* %s\n", inc.RequestID)
	msg += fmt.Sprintf("*Time:* %s\n\n", time.Now().UTC().Format(time.RFC3339))

	msg += "*What happened:*\n"
	msg += inc.Message + "\n"

	if detail, ok := inc.Detail.(map[string]any); ok && len(detail) > 0 {
		msg += "\n*Details:*\n"
		for k, v := range detail {
			msg += fmt.Sprintf("- %s: %v\n", k, v)
		}
	}

	return msg
}

// reasonDisplayName returns a human-friendly name for a reason code.
func reasonDisplayName(code string) string {
	switch code {
	case "injection_blocked":
		return "Prompt Injection Blocked"
	case "pii_blocked":
		return "PII Policy Block"
	case "response_blocked":
		return "Response Blocked by PII Policy"
	default:
		return code
	}
}
