package detector

import (
	"sync"

	"gocv.io/x/gocv"
)

// MockLandmarker is a test implementation of both HandLandmarker and
// FaceLandmarker. It allows tests to control the detection results.
type MockLandmarker struct {
	mu      sync.Mutex
	faces   []FaceLandmarks
	hands   []HandLandmarks
	err     error
	ready   bool
	calls   int
	onFaces func()
}

// NewMockLandmarker creates a MockLandmarker that reports ready.
func NewMockLandmarker() *MockLandmarker {
	return &MockLandmarker{ready: true}
}

// SetObservation sets the faces and hands returned by the detect calls.
func (m *MockLandmarker) SetObservation(obs Observation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faces = obs.Faces
	m.hands = obs.Hands
}

// SetError sets the error that will be returned by both detect calls.
func (m *MockLandmarker) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// SetReady controls what Ready reports.
func (m *MockLandmarker) SetReady(ready bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ready = ready
}

// OnDetectFaces registers a hook run at the start of every DetectFaces call.
func (m *MockLandmarker) OnDetectFaces(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onFaces = fn
}

// Calls returns how many DetectFaces calls have been made.
func (m *MockLandmarker) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// DetectFaces returns the pre-configured faces or error.
func (m *MockLandmarker) DetectFaces(frame *gocv.Mat) ([]FaceLandmarks, error) {
	m.mu.Lock()
	m.calls++
	hook := m.onFaces
	faces, err := m.faces, m.err
	m.mu.Unlock()

	if hook != nil {
		hook()
	}
	if err != nil {
		return nil, err
	}
	return faces, nil
}

// DetectHands returns the pre-configured hands or error.
func (m *MockLandmarker) DetectHands(frame *gocv.Mat) ([]HandLandmarks, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return m.hands, nil
}

// Ready reports the configured readiness.
func (m *MockLandmarker) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ready
}

// Close is a no-op for the mock landmarker.
func (m *MockLandmarker) Close() error {
	return nil
}

// FaceWithNose returns a full face mesh with the nose tip at the given
// normalized position and the forehead anchor slightly above it.
func FaceWithNose(x, y float64) FaceLandmarks {
	face := FaceLandmarks{
		Points: make([]Point3D, NumFaceLandmarks),
		Score:  0.95,
	}
	for i := range face.Points {
		face.Points[i] = Point3D{X: x, Y: y + 0.02}
	}
	face.Points[NoseTip] = Point3D{X: x, Y: y}
	face.Points[Forehead] = Point3D{X: x, Y: y - 0.15}
	return face
}

// HandAt returns a full hand whose middle MCP anchor and index fingertip sit
// at the given normalized positions. Remaining joints are laid out between
// the wrist (below the anchor) and the fingertip.
func HandAt(anchor, indexTip Point3D) HandLandmarks {
	hand := HandLandmarks{
		Points:     make([]Point3D, NumHandLandmarks),
		Handedness: "Right",
		Score:      0.95,
	}

	wrist := Point3D{X: anchor.X, Y: anchor.Y + 0.1}
	for i := range hand.Points {
		hand.Points[i] = anchor
	}
	hand.Points[Wrist] = wrist

	// Index finger runs from its knuckle to the tip.
	hand.Points[IndexMCP] = Point3D{X: anchor.X, Y: anchor.Y}
	hand.Points[IndexPIP] = lerp(anchor, indexTip, 0.4)
	hand.Points[IndexDIP] = lerp(anchor, indexTip, 0.7)
	hand.Points[IndexTip] = indexTip
	hand.Points[MiddleMCP] = anchor

	return hand
}

func lerp(a, b Point3D, t float64) Point3D {
	return Point3D{
		X: a.X + (b.X-a.X)*t,
		Y: a.Y + (b.Y-a.Y)*t,
		Z: a.Z + (b.Z-a.Z)*t,
	}
}
