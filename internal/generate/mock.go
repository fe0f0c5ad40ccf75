package generate

import (
	"context"
	"encoding/binary"
	"hash/fnv"
	"math"
	"math/rand"
	"strings"
	"time"
)

// MockConfig configures the mock engine.
type MockConfig struct {
	SampleRate     int
	Channels       int
	WordsPerMinute int
	Delay          time.Duration
	FailureRate    float64
}

// MockClient synthesizes a short tone per span, pitched by voice, so the full
// pipeline can run without a TTS service.
type MockClient struct {
	cfg MockConfig
}

// NewMockClient creates a mock engine. Zero fields take defaults.
func NewMockClient(cfg MockConfig) *MockClient {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 24000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.WordsPerMinute <= 0 {
		cfg.WordsPerMinute = 180
	}
	return &MockClient{cfg: cfg}
}

// Generate returns signed 16-bit little-endian PCM.
func (m *MockClient) Generate(ctx context.Context, req Request) ([]byte, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if m.cfg.Delay > 0 {
		t := time.NewTimer(m.cfg.Delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil, NewError(CodeCanceled, "request canceled", ctx.Err())
		case <-t.C:
		}
	}
	if m.cfg.FailureRate > 0 && rand.Float64() < m.cfg.FailureRate {
		return nil, NewError(CodeHTTPStatus, "simulated failure", nil)
	}

	var pcm []byte
	for _, span := range SplitDialogue(req.Text) {
		words := len(strings.Fields(span.Text))
		d := time.Duration(words) * time.Minute / time.Duration(m.cfg.WordsPerMinute)
		pcm = append(pcm, m.tone(voicePitch(span.Voice(req.Voices)), d)...)
	}
	return pcm, nil
}

func (m *MockClient) tone(freq float64, d time.Duration) []byte {
	frames := int(d.Seconds() * float64(m.cfg.SampleRate))
	out := make([]byte, frames*m.cfg.Channels*2)
	for i := 0; i < frames; i++ {
		v := int16(math.Sin(2*math.Pi*freq*float64(i)/float64(m.cfg.SampleRate)) * 3000)
		for ch := 0; ch < m.cfg.Channels; ch++ {
			binary.LittleEndian.PutUint16(out[(i*m.cfg.Channels+ch)*2:], uint16(v))
		}
	}
	return out
}

func voicePitch(voice string) float64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(voice))
	return 180 + float64(h.Sum32()%240)
}
