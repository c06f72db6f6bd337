package provider

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/llmsecgw/gateway/pkg/apitypes"
)

// admissionLimited wraps an Adapter with a token-bucket admission gate
// shared across all clients calling the same upstream. This is distinct
// from pkg/ratelimit's per-client sliding window: it protects the gateway's
// own outbound connection pool and the provider's rate limits, not a
// client's quota, so a bucket (which smooths bursts) is the right model
// here even though it's the wrong one for per-client accounting. Mirrors
// goadesign-goa-ai's features/model/middleware.limitedClient wrapping
// pattern.
type admissionLimited struct {
	next    Adapter
	limiter *rate.Limiter
}

// WithAdmissionLimit wraps next with a token-bucket limiter admitting up to
// rps requests per second with the given burst, blocking until a slot opens
// or ctx is done.
func WithAdmissionLimit(next Adapter, rps float64, burst int) Adapter {
	return &admissionLimited{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

func (a *admissionLimited) Complete(ctx context.Context, req apitypes.Request) (apitypes.Response, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return apitypes.Response{}, err
	}
	return a.next.Complete(ctx, req)
}

func (a *admissionLimited) Stream(ctx context.Context, req apitypes.Request) (<-chan apitypes.Chunk, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return a.next.Stream(ctx, req)
}
