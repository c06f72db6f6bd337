package trust

import (
	"encoding/json"
	"fmt"

	"github.com/llmsecgw/gateway/pkg/audit"
)

// ChainedSink wraps an audit.Sink so every written record is also appended
// to an HMAC-chained AuditChain, making after-the-fact tampering with the
// audit log detectable without changing what gets written or where.
type ChainedSink struct {
	inner audit.Sink
	chain *AuditChain
}

// NewChainedSink wraps inner with chain. Every Write both delegates to
// inner and appends the record's JSON encoding to chain.
func NewChainedSink(inner audit.Sink, chain *AuditChain) *ChainedSink {
	return &ChainedSink{inner: inner, chain: chain}
}

// Write implements audit.Sink. The record is chained before being handed
// to inner, so a chain append failure (marshal error) still surfaces
// before the record is considered written.
func (s *ChainedSink) Write(rec audit.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("trust: marshal record for chain: %w", err)
	}
	s.chain.Append(rec.RequestID, data)
	return s.inner.Write(rec)
}

// Chain returns the underlying AuditChain, for evidence export.
func (s *ChainedSink) Chain() *AuditChain {
	return s.chain
}
