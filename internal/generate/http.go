package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout  = 30 * time.Second
	maxErrorBody    = 256
	maxPayloadBytes = 64 << 20
)

// Compile-time interface assertion.
var _ Client = (*HTTPClient)(nil)

// HTTPOption configures an HTTPClient.
type HTTPOption func(*HTTPClient)

// WithTimeout sets the per-request timeout. Zero keeps the default of 30s.
func WithTimeout(d time.Duration) HTTPOption {
	return func(c *HTTPClient) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithAPIKey sends key as a bearer token.
func WithAPIKey(key string) HTTPOption {
	return func(c *HTTPClient) {
		c.apiKey = key
	}
}

// WithRateLimit allows at most perMinute requests per minute. Zero disables
// limiting.
func WithRateLimit(perMinute int) HTTPOption {
	return func(c *HTTPClient) {
		if perMinute <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
	}
}

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) HTTPOption {
	return func(c *HTTPClient) {
		c.http = hc
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) HTTPOption {
	return func(c *HTTPClient) {
		c.logger = l
	}
}

// HTTPClient posts paragraphs to a remote TTS endpoint.
type HTTPClient struct {
	endpoint string
	apiKey   string
	timeout  time.Duration
	http     *http.Client
	limiter  *rate.Limiter
	logger   *log.Logger

	maxPayload int64
}

// NewHTTPClient creates a client for endpoint.
func NewHTTPClient(endpoint string, opts ...HTTPOption) (*HTTPClient, error) {
	if endpoint == "" {
		return nil, errors.New("generate: endpoint must not be empty")
	}
	c := &HTTPClient{
		endpoint: endpoint,
		timeout:  defaultTimeout,
		http:     &http.Client{},
		logger:   log.Default(),

		maxPayload: maxPayloadBytes,
	}
	for _, o := range opts {
		o(c)
	}
	c.logger = c.logger.WithPrefix("tts")
	return c, nil
}

type segment struct {
	Text     string `json:"text"`
	Voice    string `json:"voice"`
	Dialogue bool   `json:"dialogue"`
}

type generateRequest struct {
	Text          string    `json:"text"`
	NarratorVoice string    `json:"narrator_voice"`
	DialogueVoice string    `json:"dialogue_voice"`
	Segments      []segment `json:"segments"`
}

// Generate sends req and returns the audio payload.
func (c *HTTPClient) Generate(ctx context.Context, req Request) ([]byte, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, c.classify(ctx, err)
		}
	}

	spans := SplitDialogue(req.Text)
	body := generateRequest{
		Text:          req.Text,
		NarratorVoice: req.Voices.Narrator,
		DialogueVoice: req.Voices.Dialogue,
		Segments:      make([]segment, 0, len(spans)),
	}
	for _, s := range spans {
		body.Segments = append(body.Segments, segment{Text: s.Text, Voice: s.Voice(req.Voices), Dialogue: s.Dialogue})
	}
	buf, err := json.Marshal(body)
	if err != nil {
		return nil, NewError(CodeInvalidInput, "encode request", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.endpoint, bytes.NewReader(buf))
	if err != nil {
		return nil, NewError(CodeInvalidInput, "build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "audio/*, application/octet-stream")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, c.classify(ctx, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		e := NewError(CodeHTTPStatus, fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))), nil)
		e.Status = resp.StatusCode
		return nil, e
	}

	if !audioContentType(resp.Header.Get("Content-Type")) {
		return nil, NewError(CodeMalformed, fmt.Sprintf("unexpected content type %q", resp.Header.Get("Content-Type")), nil)
	}

	payload, err := io.ReadAll(io.LimitReader(resp.Body, c.maxPayload+1))
	if err != nil {
		return nil, c.classify(ctx, err)
	}
	if int64(len(payload)) > c.maxPayload {
		return nil, NewError(CodeMalformed, fmt.Sprintf("audio payload larger than %d bytes", c.maxPayload), nil)
	}
	if len(payload) == 0 {
		return nil, NewError(CodeMalformed, "empty audio payload", nil)
	}

	c.logger.Debug("generated",
		"chars", len(req.Text),
		"spans", len(spans),
		"bytes", len(payload),
		"took", time.Since(start))
	return payload, nil
}

// classify maps a transport-level error to a generation error. ctx is the
// caller's context, used to tell cancellation from our own timeout.
func (c *HTTPClient) classify(ctx context.Context, err error) *Error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return NewError(CodeCanceled, "request canceled", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(CodeTimeout, fmt.Sprintf("no response within %s", c.timeout), err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return NewError(CodeTimeout, fmt.Sprintf("no response within %s", c.timeout), err)
	}
	return NewError(CodeTransport, "request failed", err)
}

func audioContentType(v string) bool {
	mt, _, err := mime.ParseMediaType(v)
	if err != nil {
		return false
	}
	return strings.HasPrefix(mt, "audio/") || mt == "application/octet-stream"
}
