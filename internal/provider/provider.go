// Package provider dispatches prompts to model backends.
//
// Two calling conventions are supported: "client" backends speak the
// OpenAI chat-completions contract through langchaingo, and "request"
// backends receive a raw JSON POST. An image-capable mode is layered on
// top and is taken whenever an image is attached, regardless of kind.
package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ashureev/copilot-relay/internal/domain"
)

// LegacyModelName identifies the backend whose fixed wire contract takes
// system/prompt fields instead of a messages array.
const LegacyModelName = "gpt4o"

// DefaultTimeout bounds a single outbound provider call.
const DefaultTimeout = 60 * time.Second

// Dispatcher sends one prompt to the backend described by d and returns the response text.
type Dispatcher interface {
	Dispatch(ctx context.Context, d *domain.ModelDescriptor, systemPrompt, userContent, image string) (string, error)
}

// Router implements Dispatcher by selecting a backend per descriptor kind.
type Router struct {
	httpClient   *http.Client
	timeout      time.Duration
	newChatModel ChatModelFactory
	legacyUser   string
	logger       *slog.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(r *Router) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithHTTPClient sets the client used for request-kind and image calls.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Router) {
		if c != nil {
			r.httpClient = c
		}
	}
}

// WithChatModelFactory replaces how client-kind backends are constructed.
func WithChatModelFactory(f ChatModelFactory) Option {
	return func(r *Router) {
		if f != nil {
			r.newChatModel = f
		}
	}
}

// WithLegacyUser sets the user field sent to the legacy backend.
func WithLegacyUser(user string) Option {
	return func(r *Router) {
		if user != "" {
			r.legacyUser = user
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRouter creates a Router.
func NewRouter(opts ...Option) *Router {
	r := &Router{
		httpClient:   &http.Client{},
		timeout:      DefaultTimeout,
		newChatModel: OpenAIChatModel,
		legacyUser:   "copilot",
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type backend interface {
	call(ctx context.Context, d *domain.ModelDescriptor, systemPrompt, userContent string) (string, error)
}

// backendFor resolves the calling convention once per dispatch.
func (r *Router) backendFor(kind domain.ProviderKind) (backend, error) {
	switch kind {
	case domain.ProviderKindClient:
		return clientBackend{newChatModel: r.newChatModel}, nil
	case domain.ProviderKindRequest:
		return requestBackend{httpClient: r.httpClient, legacyUser: r.legacyUser}, nil
	default:
		return nil, fmt.Errorf("unsupported dispatch kind %q", kind)
	}
}

// Dispatch implements Dispatcher. Every failure is a domain.KindProvider error.
func (r *Router) Dispatch(ctx context.Context, d *domain.ModelDescriptor, systemPrompt, userContent, image string) (string, error) {
	if d == nil {
		return "", domain.Errorf(domain.KindProvider, "missing model descriptor")
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	var (
		text string
		err  error
		mode string
	)
	if image != "" {
		mode = "image"
		text, err = r.dispatchImage(ctx, d, systemPrompt, userContent, image)
	} else {
		mode = string(d.Kind)
		var b backend
		b, err = r.backendFor(d.Kind)
		if err == nil {
			text, err = b.call(ctx, d, systemPrompt, userContent)
		}
	}

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("timed out after %s: %w", r.timeout, err)
		}
		r.logger.Warn("Provider call failed", "model", d.Name, "mode", mode, "error", err)
		return "", domain.Wrap(domain.KindProvider, fmt.Sprintf("model %s", d.Name), err)
	}

	r.logger.Debug("Provider call complete",
		"model", d.Name,
		"mode", mode,
		"duration_ms", time.Since(start).Milliseconds(),
		"response_length", len(text),
	)
	return text, nil
}

func requireFields(fields map[string]string) error {
	var missing []string
	for _, name := range []string{"endpoint", "model", "query", "image"} {
		if v, ok := fields[name]; ok && strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required parameters: %s", strings.Join(missing, ", "))
	}
	return nil
}
