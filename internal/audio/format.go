package audio

import (
	"errors"
	"fmt"
	"time"
)

const bytesPerSample = 2 // s16le

// Errors returned by media.
var (
	ErrClosed       = errors.New("media is closed")
	ErrInvalidSpeed = errors.New("speed must be positive")
)

// Format describes the PCM payloads a backend plays.
type Format struct {
	SampleRate int
	Channels   int
}

// DefaultFormat is 24kHz mono, the common TTS output format.
func DefaultFormat() Format {
	return Format{SampleRate: 24000, Channels: 1}
}

// Validate checks the format.
func (f Format) Validate() error {
	if f.SampleRate < 8000 || f.SampleRate > 192000 {
		return fmt.Errorf("sample rate must be between 8000 and 192000 Hz, got %d", f.SampleRate)
	}
	if f.Channels != 1 && f.Channels != 2 {
		return fmt.Errorf("channels must be 1 (mono) or 2 (stereo), got %d", f.Channels)
	}
	return nil
}

// FrameSize returns the bytes per frame (one sample for every channel).
func (f Format) FrameSize() int {
	return f.Channels * bytesPerSample
}

// Frames returns the number of whole frames in n bytes.
func (f Format) Frames(n int) int {
	return n / f.FrameSize()
}

// FrameDuration converts a frame count to playback time at normal speed.
func (f Format) FrameDuration(frames int) time.Duration {
	return time.Duration(frames) * time.Second / time.Duration(f.SampleRate)
}

// FrameAt converts a playback position to a frame offset.
func (f Format) FrameAt(d time.Duration) int {
	return int(d * time.Duration(f.SampleRate) / time.Second)
}

// Duration returns the playback time of an n-byte payload at normal speed.
func (f Format) Duration(n int) time.Duration {
	return f.FrameDuration(f.Frames(n))
}

// PlayerState is the state of a single media item.
type PlayerState int32

const (
	StateStopped PlayerState = iota
	StatePlaying
	StatePaused
	StateClosed
)

func (s PlayerState) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

func clampPosition(pos, duration time.Duration) time.Duration {
	if pos < 0 {
		return 0
	}
	if pos > duration {
		return duration
	}
	return pos
}
