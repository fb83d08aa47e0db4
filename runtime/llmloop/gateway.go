package llmloop

import (
	"context"
	"errors"
)

// ErrProviderRequired is returned by NewGateway when no Provider was
// configured via WithProvider.
var ErrProviderRequired = errors.New("llmloop: gateway requires a provider")

type (
	// Gateway adapts a Provider into a composable Generate handler with
	// middleware support for cross-cutting concerns (this package provides
	// rate-limiting and logging middleware). Grounded on features/model/gateway.Server, narrowed to a
	// single Generate handler since llmloop.Provider has no separate
	// streaming method.
	//
	// Middleware is applied in registration order: the first middleware
	// registered wraps all subsequent ones, forming an onion structure
	// where the innermost layer invokes the provider.
	Gateway struct {
		generate Handler
	}

	// Handler processes one GenerateRequest and returns a GenerateResponse
	// or an error. This signature is used both by the base provider
	// handler and by every GatewayMiddleware that composes around it.
	Handler func(ctx context.Context, req GenerateRequest) (GenerateResponse, error)

	// GatewayMiddleware wraps a Handler to add behavior before, after, or
	// around the handler invocation.
	GatewayMiddleware func(next Handler) Handler

	// GatewayOption configures a Gateway during construction.
	GatewayOption func(*gatewayConfig)

	gatewayConfig struct {
		provider Provider
		mw       []GatewayMiddleware
	}
)

// WithGatewayProvider sets the underlying Provider used to fulfill
// Generate calls. Required; NewGateway returns ErrProviderRequired without
// it.
func WithGatewayProvider(p Provider) GatewayOption {
	return func(c *gatewayConfig) { c.provider = p }
}

// WithGatewayMiddleware appends one or more GatewayMiddleware to the
// Gateway's chain, applied in registration order with the first middleware
// forming the outermost layer.
func WithGatewayMiddleware(mw ...GatewayMiddleware) GatewayOption {
	return func(c *gatewayConfig) { c.mw = append(c.mw, mw...) }
}

// NewGateway constructs a Gateway from the given options.
func NewGateway(opts ...GatewayOption) (*Gateway, error) {
	var cfg gatewayConfig
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.provider == nil {
		return nil, ErrProviderRequired
	}
	handler := Handler(cfg.provider.Generate)
	for i := len(cfg.mw) - 1; i >= 0; i-- {
		handler = cfg.mw[i](handler)
	}
	return &Gateway{generate: handler}, nil
}

// Generate implements Provider, so a Gateway can be used anywhere a
// Provider is accepted (including as the inner provider of another
// Gateway).
func (g *Gateway) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, error) {
	return g.generate(ctx, req)
}

// RateLimitMiddleware builds a GatewayMiddleware enforcing limiter in front
// of the wrapped Handler.
func RateLimitMiddleware(limiter *AdaptiveRateLimiter) GatewayMiddleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req GenerateRequest) (GenerateResponse, error) {
			if err := limiter.wait(ctx, req); err != nil {
				return GenerateResponse{}, err
			}
			resp, err := next(ctx, req)
			limiter.observe(err)
			return resp, err
		}
	}
}

// LoggingMiddleware builds a GatewayMiddleware that logs every Generate
// call's iteration cost via logFn, which receives the model name, input and
// output token counts, and any error.
func LoggingMiddleware(logFn func(ctx context.Context, model string, inputTokens, outputTokens int, err error)) GatewayMiddleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req GenerateRequest) (GenerateResponse, error) {
			resp, err := next(ctx, req)
			logFn(ctx, resp.Model, resp.InputTokens, resp.OutputTokens, err)
			return resp, err
		}
	}
}
