package capture

import (
	"errors"
	"fmt"
	"sync"

	"gocv.io/x/gocv"
)

// ErrNoFrame is returned when a snapshot is requested before any frame was
// recorded.
var ErrNoFrame = errors.New("no frame recorded")

// JPEGContentType is the MIME type of snapshots and stream parts.
const JPEGContentType = "image/jpeg"

// FrameBuffer keeps a copy of the most recent frame so the winning moment can
// be captured after detection has moved on.
type FrameBuffer struct {
	mu    sync.Mutex
	frame gocv.Mat
	set   bool
}

// NewFrameBuffer creates an empty buffer.
func NewFrameBuffer() *FrameBuffer {
	return &FrameBuffer{}
}

// Store replaces the buffered frame with a copy of mat.
func (b *FrameBuffer) Store(mat *gocv.Mat) {
	if mat == nil || mat.Empty() {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.set {
		mat.CopyTo(&b.frame)
		return
	}
	b.frame = mat.Clone()
	b.set = true
}

// Size returns the dimensions of the buffered frame.
func (b *FrameBuffer) Size() (int, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.set {
		return 0, 0
	}
	return b.frame.Cols(), b.frame.Rows()
}

// Snapshot encodes the buffered frame as JPEG.
func (b *FrameBuffer) Snapshot() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.set {
		return nil, ErrNoFrame
	}
	return EncodeJPEG(&b.frame)
}

// Clear drops the buffered frame.
func (b *FrameBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.set {
		b.frame.Close()
		b.frame = gocv.Mat{}
		b.set = false
	}
}

// Close releases the buffered frame.
func (b *FrameBuffer) Close() error {
	b.Clear()
	return nil
}

// EncodeJPEG returns mat encoded as a JPEG image.
func EncodeJPEG(mat *gocv.Mat) ([]byte, error) {
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, *mat)
	if err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	defer buf.Close()

	// GetBytes aliases native memory that Close frees.
	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}
