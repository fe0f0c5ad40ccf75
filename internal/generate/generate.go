// Package generate is the client side of the remote text-to-speech service.
//
// A Client turns one paragraph of text plus the narrator and dialogue voices
// into an opaque audio payload. Ordinary failures (timeouts, non-2xx
// responses, malformed bodies) come back as *Error values and never panic.
// Clients do not retry; retrying is a caller decision.
package generate

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Voices selects the voices used for narration and quoted dialogue.
type Voices struct {
	Narrator string `yaml:"narrator"`
	Dialogue string `yaml:"dialogue"`
}

// String returns "narrator/dialogue".
func (v Voices) String() string {
	return v.Narrator + "/" + v.Dialogue
}

// Request is a single generation request.
type Request struct {
	Text   string
	Voices Voices
}

// Validate checks that the request can be sent.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Text) == "" {
		return NewError(CodeInvalidInput, "text is empty", nil)
	}
	if r.Voices.Narrator == "" {
		return NewError(CodeInvalidInput, "narrator voice is empty", nil)
	}
	return nil
}

// Client generates audio for a request.
type Client interface {
	Generate(ctx context.Context, req Request) ([]byte, error)
}

// ClientFunc adapts a function to the Client interface.
type ClientFunc func(ctx context.Context, req Request) ([]byte, error)

// Generate calls f(ctx, req).
func (f ClientFunc) Generate(ctx context.Context, req Request) ([]byte, error) {
	return f(ctx, req)
}

// EngineType identifies a client implementation.
type EngineType string

const (
	// EngineHTTP talks to a remote TTS service over HTTP.
	EngineHTTP EngineType = "http"
	// EngineMock synthesizes tones locally.
	EngineMock EngineType = "mock"
)

// Options configures New.
type Options struct {
	Endpoint          string
	APIKey            string
	Timeout           time.Duration
	RequestsPerMinute int
	SampleRate        int
	Channels          int
}

// New builds the client for engine.
func New(engine EngineType, opts Options) (Client, error) {
	switch engine {
	case EngineHTTP, "":
		if opts.Endpoint == "" {
			return nil, fmt.Errorf("%s engine: endpoint is required", EngineHTTP)
		}
		return NewHTTPClient(opts.Endpoint,
			WithAPIKey(opts.APIKey),
			WithTimeout(opts.Timeout),
			WithRateLimit(opts.RequestsPerMinute),
		)
	case EngineMock:
		return NewMockClient(MockConfig{
			SampleRate: opts.SampleRate,
			Channels:   opts.Channels,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported TTS engine type: %s", engine)
	}
}
