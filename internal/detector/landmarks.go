// Package detector provides face and hand landmark types and the landmarker
// interfaces that feed the game.
package detector

import "math"

// Hand landmark indices following MediaPipe convention.
// See: https://developers.google.com/mediapipe/solutions/vision/hand_landmarker
const (
	Wrist            = 0
	ThumbCMC         = 1
	ThumbMCP         = 2
	ThumbIP          = 3
	ThumbTip         = 4
	IndexMCP         = 5
	IndexPIP         = 6
	IndexDIP         = 7
	IndexTip         = 8
	MiddleMCP        = 9
	MiddlePIP        = 10
	MiddleDIP        = 11
	MiddleTip        = 12
	RingMCP          = 13
	RingPIP          = 14
	RingDIP          = 15
	RingTip          = 16
	PinkyMCP         = 17
	PinkyPIP         = 18
	PinkyDIP         = 19
	PinkyTip         = 20
	NumHandLandmarks = 21
)

// Face mesh landmark indices used by the game. FaceMesh with refined
// landmarks produces 478 points.
const (
	NoseTip          = 1
	Forehead         = 10
	NumFaceLandmarks = 478
)

// Point3D represents a point with x and y normalized to the frame size.
type Point3D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Valid reports whether every coordinate is a finite number.
func (p Point3D) Valid() bool {
	return !isBad(p.X) && !isBad(p.Y) && !isBad(p.Z)
}

func isBad(f float64) bool {
	return math.IsNaN(f) || math.IsInf(f, 0)
}

// HandLandmarks represents the 21 hand landmarks detected by MediaPipe.
type HandLandmarks struct {
	Points     []Point3D `json:"points"`
	Handedness string    `json:"handedness"` // "Left" or "Right"
	Score      float64   `json:"score"`
}

// Point returns the landmark at index i. It reports false when the set is
// too short or the point holds non-finite coordinates.
func (h *HandLandmarks) Point(i int) (Point3D, bool) {
	return pointAt(h.Points, i)
}

// FaceLandmarks represents one face mesh.
type FaceLandmarks struct {
	Points []Point3D `json:"points"`
	Score  float64   `json:"score"`
}

// Point returns the landmark at index i, see HandLandmarks.Point.
func (f *FaceLandmarks) Point(i int) (Point3D, bool) {
	return pointAt(f.Points, i)
}

func pointAt(points []Point3D, i int) (Point3D, bool) {
	if i < 0 || i >= len(points) {
		return Point3D{}, false
	}
	p := points[i]
	if !p.Valid() {
		return Point3D{}, false
	}
	return p, true
}

// Observation is everything the landmarkers found in one camera frame.
type Observation struct {
	Faces []FaceLandmarks `json:"faces"`
	Hands []HandLandmarks `json:"hands"`
}

// Empty reports whether the observation holds no faces and no hands.
func (o Observation) Empty() bool {
	return len(o.Faces) == 0 && len(o.Hands) == 0
}
