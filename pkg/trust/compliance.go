package trust

import "time"

// ControlStatus represents whether a compliance control is satisfied.
type ControlStatus string

const (
	ControlPass    ControlStatus = "pass"
	ControlFail    ControlStatus = "fail"
	ControlPartial ControlStatus = "partial"
)

// Control is a single compliance control mapped to a gateway capability.
type Control struct {
	ID             string        `json:"id"`              // e.g. "CC6.1" or "A.12.4.1"
	Framework      string        `json:"framework"`       // "SOC2" or "ISO27001"
	Name           string        `json:"name"`            // human-readable control name
	Description    string        `json:"description"`     // what the control requires
	Status         ControlStatus `json:"status"`          // pass, fail, or partial
	Evidence       string        `json:"evidence"`        // how the gateway satisfies this
	GatewayFeature string        `json:"gateway_feature"` // which layer provides it
}

// ComplianceReport is the result of evaluating the gateway against one or
// more compliance frameworks.
type ComplianceReport struct {
	GeneratedAt    time.Time `json:"generated_at"`
	GatewayVersion string    `json:"gateway_version"`
	Frameworks     []string  `json:"frameworks"`
	Controls       []Control `json:"controls"`
	Summary        Summary   `json:"summary"`
}

// Summary provides aggregate pass/fail counts for a compliance report.
type Summary struct {
	TotalControls int     `json:"total_controls"`
	Passing       int     `json:"passing"`
	Failing       int     `json:"failing"`
	Partial       int     `json:"partial"`
	PassRate      float64 `json:"pass_rate"`
}

// ComplianceConfig holds which frameworks to evaluate.
type ComplianceConfig struct {
	Frameworks []string `yaml:"frameworks" json:"frameworks"`
}

// EvaluateCompliance maps gateway capabilities to SOC 2 and ISO 27001 controls
// and evaluates which ones pass based on the current configuration.
// hasVault reports whether the replay vault is configured, hasPolicyEnforcement
// whether the injection/PII stages are active in a blocking mode, and
// hasAnalytics whether pkg/analytics is wired in.
func EvaluateCompliance(cfg ComplianceConfig, chainLen int64, hasVault bool, hasPolicyEnforcement bool, hasAnalytics bool) *ComplianceReport {
	var controls []Control

	for _, fw := range cfg.Frameworks {
		switch fw {
		case "SOC2":
			controls = append(controls, evaluateSOC2(chainLen, hasVault, hasPolicyEnforcement, hasAnalytics)...)
		case "ISO27001":
			controls = append(controls, evaluateISO27001(chainLen, hasVault, hasPolicyEnforcement, hasAnalytics)...)
		}
	}

	// Compute summary.
	summary := Summary{TotalControls: len(controls)}
	for _, c := range controls {
		switch c.Status {
		case ControlPass:
			summary.Passing++
		case ControlFail:
			summary.Failing++
		case ControlPartial:
			summary.Partial++
		}
	}
	if summary.TotalControls > 0 {
		summary.PassRate = float64(summary.Passing) / float64(summary.TotalControls) * 100
	}

	return &ComplianceReport{
		GeneratedAt:    time.Now().UTC(),
		GatewayVersion: "0.1.0",
		Frameworks:     cfg.Frameworks,
		Controls:       controls,
		Summary:        summary,
	}
}

// evaluateSOC2 returns SOC 2 Trust Service Criteria controls mapped to gateway features.
func evaluateSOC2(chainLen int64, hasVault, hasPolicyEnforcement, hasAnalytics bool) []Control {
	return []Control{
		{
			ID: "CC6.1", Framework: "SOC2",
			Name:           "Logical Access Security",
			Description:    "The entity implements logical access security over protected information assets",
			Status:         ControlPass,
			Evidence:       "Every request is authenticated against the client store before any stage runs; unauthenticated requests are denied with no provider forwarding",
			GatewayFeature: "Authenticate Stage",
		},
		{
			ID: "CC6.3", Framework: "SOC2",
			Name:           "Role-Based Access and Least Privilege",
			Description:    "The entity authorizes, modifies, or removes access to data based on roles",
			Status:         boolStatus(hasPolicyEnforcement),
			Evidence:       conditionalEvidence(hasPolicyEnforcement, "Per-client model allowlists and rate limits are enforced before any request reaches a provider", "Model allowlist/rate limit enforcement not configured"),
			GatewayFeature: "Model Allowlist Stage",
		},
		{
			ID: "CC7.2", Framework: "SOC2",
			Name:           "System Monitoring",
			Description:    "The entity monitors system components for anomalies indicative of malicious acts",
			Status:         boolStatus(hasPolicyEnforcement),
			Evidence:       conditionalEvidence(hasPolicyEnforcement, "The injection scorer flags weighted prompt-injection patterns on every request and records the score in the audit trail", "Injection scanning not configured — no automated anomaly detection"),
			GatewayFeature: "Injection Scan Stage",
		},
		{
			ID: "CC7.3", Framework: "SOC2",
			Name:           "Change Evaluation",
			Description:    "The entity evaluates changes for impact on the system of internal control",
			Status:         boolStatus(hasVault),
			Evidence:       conditionalEvidence(hasVault, "The replay vault retains the exact forwarded request/response for every call, enabling drift checks against prior behavior", "Replay vault not configured — no recorded baseline for change evaluation"),
			GatewayFeature: "Replay Vault",
		},
		{
			ID: "CC8.1", Framework: "SOC2",
			Name:           "Change Management",
			Description:    "The entity authorizes, designs, develops, configures, and implements changes to meet objectives",
			Status:         boolStatus(hasPolicyEnforcement),
			Evidence:       conditionalEvidence(hasPolicyEnforcement, "PII redaction and model allowlist policy are declared per client in the client store, versioned alongside deployment config", "Policy enforcement stages not configured"),
			GatewayFeature: "PII Scan Stage",
		},
		{
			ID: "CC4.1", Framework: "SOC2",
			Name:           "Monitoring of Controls",
			Description:    "The entity selects, develops, and performs evaluations to ascertain controls are present and functioning",
			Status:         chainStatus(chainLen),
			Evidence:       conditionalEvidence(chainLen > 0, "Cryptographic audit chain with HMAC-SHA256 signatures validates control integrity", "Audit chain empty — no records signed yet"),
			GatewayFeature: "Trust Layer",
		},
		{
			ID: "CC5.1", Framework: "SOC2",
			Name:           "Risk Assessment",
			Description:    "The entity identifies and assesses risks to the achievement of objectives",
			Status:         boolStatus(hasAnalytics),
			Evidence:       conditionalEvidence(hasAnalytics, "Analytics tracks per-model error rates, latency percentiles, and an 8-category upstream failure taxonomy for risk identification", "Analytics not configured — no automated risk assessment"),
			GatewayFeature: "Analytics",
		},
		{
			ID: "CC7.4", Framework: "SOC2",
			Name:           "Incident Response",
			Description:    "The entity responds to identified security incidents by executing defined procedures",
			Status:         boolStatus(hasPolicyEnforcement),
			Evidence:       conditionalEvidence(hasPolicyEnforcement, "Injection/PII denials optionally fire a webhook alert with a narrative summary of the triggering request", "Policy enforcement not configured — no automated incident response"),
			GatewayFeature: "Alerting",
		},
		{
			ID: "CC2.1", Framework: "SOC2",
			Name:           "Information and Communication",
			Description:    "The entity internally communicates information necessary to support controls",
			Status:         ControlPass,
			Evidence:       "Every request produces one audit record with request_id, client_id, model, stage outcomes, and latency; OTel tracing provides distributed context",
			GatewayFeature: "Audit Sink",
		},
		{
			ID: "A1.2", Framework: "SOC2",
			Name:           "Recovery Mechanisms",
			Description:    "The entity implements recovery mechanisms to support system availability",
			Status:         boolStatus(hasVault),
			Evidence:       conditionalEvidence(hasVault, "replayctl can reconstruct and re-run any vaulted request against its provider to verify recovery behavior", "Replay vault not configured — replay/recovery not available"),
			GatewayFeature: "Replay Vault",
		},
		{
			ID: "CC6.6", Framework: "SOC2",
			Name:           "System Boundary Protection",
			Description:    "The entity implements controls to restrict access at system boundaries",
			Status:         boolStatus(hasPolicyEnforcement),
			Evidence:       conditionalEvidence(hasPolicyEnforcement, "The pipeline denies unauthenticated, rate-limited, disallowed-model, injection-flagged, and PII-violating requests before they reach a provider", "Policy enforcement stages not configured — no boundary controls"),
			GatewayFeature: "Pipeline Orchestrator",
		},
		{
			ID: "CC3.1", Framework: "SOC2",
			Name:           "Risk Mitigation",
			Description:    "The entity specifies objectives with sufficient clarity to enable identification of risks",
			Status:         boolStatus(hasAnalytics),
			Evidence:       conditionalEvidence(hasAnalytics, "The failure taxonomy classifies upstream errors into distinct categories to target mitigation", "Analytics not configured — no automated risk mitigation"),
			GatewayFeature: "Analytics",
		},
	}
}

// evaluateISO27001 returns ISO 27001 Annex A controls mapped to gateway features.
func evaluateISO27001(chainLen int64, hasVault, hasPolicyEnforcement, hasAnalytics bool) []Control {
	return []Control{
		{
			ID: "A.12.4.1", Framework: "ISO27001",
			Name:           "Event Logging",
			Description:    "Event logs recording user activities, exceptions, faults shall be produced and kept",
			Status:         ControlPass,
			Evidence:       "Every request produces an audit record with request_id, client_id, model, stage-by-stage outcome, and latency",
			GatewayFeature: "Audit Sink",
		},
		{
			ID: "A.12.4.3", Framework: "ISO27001",
			Name:           "Administrator and Operator Logs",
			Description:    "System administrator and operator activities shall be logged and protected",
			Status:         ControlPass,
			Evidence:       "Gateway process logs startup/shutdown and every stage denial; OTel distributed tracing provides full request context",
			GatewayFeature: "Audit Sink",
		},
		{
			ID: "A.14.2.2", Framework: "ISO27001",
			Name:           "System Change Control Procedures",
			Description:    "Changes to systems shall be controlled by formal change control procedures",
			Status:         chainStatus(chainLen),
			Evidence:       conditionalEvidence(chainLen > 0, "Cryptographic audit chain ensures integrity — any modified record breaks the HMAC chain", "Audit chain empty — no cryptographic change control yet"),
			GatewayFeature: "Trust Layer",
		},
		{
			ID: "A.18.1.3", Framework: "ISO27001",
			Name:           "Protection of Records",
			Description:    "Records shall be protected from loss, destruction, falsification, and unauthorized access",
			Status:         boolStatus(hasVault),
			Evidence:       conditionalEvidence(hasVault, "The replay vault stores forwarded request/response bodies in S3-compatible storage, referenced from the audit record by object key", "Replay vault not configured — forwarded bodies are not retained"),
			GatewayFeature: "Replay Vault",
		},
		{
			ID: "A.9.1.1", Framework: "ISO27001",
			Name:           "Access Control Policy",
			Description:    "An access control policy shall be established and documented",
			Status:         ControlPass,
			Evidence:       "Gateway authentication resolves every API key through the client store; per-client policy (rate limit, allowed models) is declared in that same config",
			GatewayFeature: "Client Store",
		},
		{
			ID: "A.10.1.1", Framework: "ISO27001",
			Name:           "Policy on Use of Cryptographic Controls",
			Description:    "A policy on the use of cryptographic controls for protection of information shall be developed",
			Status:         chainStatus(chainLen),
			Evidence:       conditionalEvidence(chainLen > 0, "HMAC-SHA256 signed audit chain and HMAC-signed evidence packages protect audit integrity end to end", "Audit chain empty — cryptographic controls not yet exercised"),
			GatewayFeature: "Trust Layer",
		},
		{
			ID: "A.12.1.1", Framework: "ISO27001",
			Name:           "Documented Operating Procedures",
			Description:    "Operating procedures shall be documented and made available to all users",
			Status:         boolStatus(hasPolicyEnforcement),
			Evidence:       conditionalEvidence(hasPolicyEnforcement, "Client policy (allowed models, rate limits, PII mode) is declared in a versioned client-config document, not scattered across code", "Policy enforcement stages not configured — no documented per-client procedures"),
			GatewayFeature: "Client Store",
		},
		{
			ID: "A.16.1.2", Framework: "ISO27001",
			Name:           "Reporting Information Security Events",
			Description:    "Information security events shall be reported through appropriate management channels",
			Status:         boolStatus(hasPolicyEnforcement),
			Evidence:       conditionalEvidence(hasPolicyEnforcement, "Webhook alerts fire with a narrative summary whenever the injection or PII stage denies a request", "Policy enforcement not configured — no security event reporting"),
			GatewayFeature: "Alerting",
		},
		{
			ID: "A.12.6.1", Framework: "ISO27001",
			Name:           "Management of Technical Vulnerabilities",
			Description:    "Information about technical vulnerabilities shall be obtained and evaluated",
			Status:         boolStatus(hasAnalytics),
			Evidence:       conditionalEvidence(hasAnalytics, "The failure taxonomy and per-model latency/error tracking surface upstream vulnerability patterns", "Analytics not configured — no vulnerability assessment"),
			GatewayFeature: "Analytics",
		},
		{
			ID: "A.12.4.4", Framework: "ISO27001",
			Name:           "Clock Synchronisation",
			Description:    "Clocks of all relevant information processing systems shall be synchronised",
			Status:         ControlPass,
			Evidence:       "All timestamps use UTC; audit records, chain entries, and compliance reports all stamp via time.Now().UTC()",
			GatewayFeature: "Audit Sink",
		},
	}
}

// Helper functions for conditional control evaluation.

func boolStatus(enabled bool) ControlStatus {
	if enabled {
		return ControlPass
	}
	return ControlFail
}

func chainStatus(chainLen int64) ControlStatus {
	if chainLen > 0 {
		return ControlPass
	}
	return ControlPartial
}

func conditionalEvidence(condition bool, pass, fail string) string {
	if condition {
		return pass
	}
	return fail
}
