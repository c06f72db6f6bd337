// Package pii detects and optionally redacts personally identifiable
// information in request and response text.
//
// Detection follows the teacher's pkg/guardrails/pii.go pattern of
// package-level compiled regexes applied in a fixed order, extended with a
// Luhn check on credit-card candidates (the other_examples anonymizing
// proxy validates card numbers the same way) so digit runs that merely look
// like a card number don't generate false positives.
package pii

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Kind identifies the category of PII a pattern detects.
type Kind string

const (
	KindSSN        Kind = "ssn"
	KindCreditCard Kind = "credit_card"
	KindEmail      Kind = "email"
	KindPhone      Kind = "phone"
	KindIPv4       Kind = "ipv4"
)

// Mode controls what happens when PII is found.
type Mode string

const (
	ModeRedact  Mode = "redact"
	ModeBlock   Mode = "block"
	ModeLogOnly Mode = "log_only"
)

// Finding records one detected PII instance.
type Finding struct {
	Kind  Kind
	Value string // the matched substring, pre-redaction
}

// Result is the outcome of scanning text.
type Result struct {
	Findings []Finding
	// Text is the (possibly redacted) output text. In ModeBlock and
	// ModeLogOnly it equals the input unchanged.
	Text string
}

type detector struct {
	kind    Kind
	re      *regexp.Regexp
	valid   func(match string) bool // optional extra validation, e.g. Luhn
	replace string
}

// detectors run in this fixed order. Each detector only scans text left
// untouched by earlier detectors' redactions, so a redacted SSN's digits
// can't later be mistaken for part of a phone number.
var detectors = []detector{
	{
		kind:    KindSSN,
		re:      regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
		replace: "[REDACTED_SSN]",
	},
	{
		kind:    KindCreditCard,
		re:      regexp.MustCompile(`\b(?:\d[ -]?){13,19}\b`),
		valid:   isValidLuhn,
		replace: "[REDACTED_CC]",
	},
	{
		kind:    KindEmail,
		re:      regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
		replace: "[REDACTED_EMAIL]",
	},
	{
		kind:    KindPhone,
		re:      regexp.MustCompile(`\b(?:\+?1[-.\s]?)?\(?\d{3}\)?[-.\s]\d{3}[-.\s]\d{4}\b`),
		replace: "[REDACTED_PHONE]",
	},
	{
		kind:    KindIPv4,
		re:      regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4]\d|1?\d?\d)\.){3}(?:25[0-5]|2[0-4]\d|1?\d?\d)\b`),
		replace: "[REDACTED_IP]",
	},
}

// Scan applies every detector to text in order and returns all findings and
// the resulting text per mode: ModeRedact replaces matches inline,
// ModeBlock and ModeLogOnly leave the text untouched (the caller decides
// whether to reject the request based on len(Findings) > 0).
func Scan(text string, mode Mode) Result {
	out := text
	var findings []Finding

	for _, d := range detectors {
		out = d.re.ReplaceAllStringFunc(out, func(match string) string {
			if d.valid != nil && !d.valid(match) {
				return match
			}
			findings = append(findings, Finding{Kind: d.kind, Value: match})
			if mode == ModeRedact {
				return d.replace
			}
			return match
		})
	}

	if mode != ModeRedact {
		out = text
	}
	return Result{Findings: findings, Text: out}
}

// isValidLuhn reports whether the digits in s (ignoring separators) pass
// the Luhn checksum used by card networks, filtering out digit runs that
// merely happen to be the right length.
func isValidLuhn(s string) bool {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
	if len(digits) < 13 || len(digits) > 19 {
		return false
	}

	sum := 0
	alt := false
	for i := len(digits) - 1; i >= 0; i-- {
		n, err := strconv.Atoi(string(digits[i]))
		if err != nil {
			return false
		}
		if alt {
			n *= 2
			if n > 9 {
				n -= 9
			}
		}
		sum += n
		alt = !alt
	}
	return sum%10 == 0
}

// Describe renders findings as a short human-readable summary for audit
// records, without leaking the raw matched values.
func Describe(findings []Finding) string {
	if len(findings) == 0 {
		return ""
	}
	counts := map[Kind]int{}
	for _, f := range findings {
		counts[f.Kind]++
	}
	var parts []string
	for _, k := range []Kind{KindSSN, KindCreditCard, KindEmail, KindPhone, KindIPv4} {
		if n := counts[k]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s:%d", k, n))
		}
	}
	return strings.Join(parts, ",")
}
