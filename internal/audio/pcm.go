package audio

import (
	"io"
	"sync"
	"time"
)

// pcmReader streams a PCM payload frame by frame at a variable rate. At
// speed s every output frame advances the source cursor by s frames (nearest
// frame, no interpolation). The payload slice stays referenced for as long
// as the reader lives so the device never reads freed memory.
type pcmReader struct {
	mu     sync.Mutex
	data   []byte
	format Format
	frames int
	cursor float64 // source frame
	speed  float64
}

func newPCMReader(data []byte, format Format) *pcmReader {
	frames := format.Frames(len(data))
	return &pcmReader{
		data:   data[:frames*format.FrameSize()],
		format: format,
		frames: frames,
		speed:  1,
	}
}

// Read implements io.Reader.
func (r *pcmReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	size := r.format.FrameSize()
	n := 0
	for n+size <= len(p) {
		src := int(r.cursor)
		if src >= r.frames {
			break
		}
		copy(p[n:n+size], r.data[src*size:(src+1)*size])
		n += size
		r.cursor += r.speed
	}
	if n == 0 && len(p) >= size {
		return 0, io.EOF
	}
	return n, nil
}

func (r *pcmReader) setSpeed(speed float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.speed = speed
}

func (r *pcmReader) seek(pos time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cursor = float64(min(r.format.FrameAt(pos), r.frames))
}

// position returns the source position, less whatever output the device
// has buffered but not yet played.
func (r *pcmReader) position(bufferedBytes int) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	buffered := float64(r.format.Frames(bufferedBytes)) * r.speed
	frame := max(r.cursor-buffered, 0)
	frame = min(frame, float64(r.frames))
	return r.format.FrameDuration(int(frame))
}

func (r *pcmReader) exhausted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int(r.cursor) >= r.frames
}

func (r *pcmReader) duration() time.Duration {
	return r.format.FrameDuration(r.frames)
}

// release drops the payload reference once the device no longer reads.
func (r *pcmReader) release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data = nil
	r.frames = 0
	r.cursor = 0
}
