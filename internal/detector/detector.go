package detector

import "gocv.io/x/gocv"

// HandLandmarker finds hands in a video frame.
type HandLandmarker interface {
	// DetectHands analyzes a video frame and returns detected hand landmarks.
	// Returns an empty slice if no hands are detected.
	DetectHands(frame *gocv.Mat) ([]HandLandmarks, error)

	// Ready reports whether the underlying model is loaded.
	Ready() bool

	// Close releases any resources held by the landmarker.
	Close() error
}

// FaceLandmarker finds face meshes in a video frame.
type FaceLandmarker interface {
	// DetectFaces analyzes a video frame and returns detected face landmarks.
	// Returns an empty slice if no faces are detected.
	DetectFaces(frame *gocv.Mat) ([]FaceLandmarks, error)

	Ready() bool
	Close() error
}

// Model selects which MediaPipe solution a subprocess runs.
type Model string

const (
	ModelHand Model = "hand"
	ModelFace Model = "face"
)

// Config holds configuration options for landmark detection.
type Config struct {
	// MaxHands is the maximum number of hands to detect (default: 4).
	MaxHands int

	// MaxFaces is the maximum number of faces to detect (default: 4).
	MaxFaces int

	// MinConfidence is the minimum detection confidence threshold (0.0-1.0).
	MinConfidence float64

	// MinTrackingConf is the minimum tracking confidence threshold (0.0-1.0).
	MinTrackingConf float64

	// ScriptPath overrides the landmark service script lookup.
	ScriptPath string

	// Python overrides the interpreter that runs the script.
	Python string
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		MaxHands:        4,
		MaxFaces:        4,
		MinConfidence:   0.5,
		MinTrackingConf: 0.5,
	}
}
