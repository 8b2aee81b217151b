// Package game implements the nose-touch game: per-frame association of hands
// to faces, winner selection, and the session state machine.
package game

import (
	"encoding/json"
	"math"

	"github.com/ayusman/nosegoes/internal/detector"
)

// Reference capture resolution the pixel thresholds are tuned for.
const (
	ReferenceWidth  = 1280
	ReferenceHeight = 720
)

// Default thresholds in pixels at the reference resolution.
const (
	DefaultAssignRadius = 200.0
	DefaultTouchRadius  = 50.0
)

// FrameSize is the pixel size of the camera frame landmarks were computed on.
type FrameSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Valid reports whether both dimensions are positive.
func (s FrameSize) Valid() bool {
	return s.Width > 0 && s.Height > 0
}

func (s FrameSize) diagonal() float64 {
	return math.Hypot(float64(s.Width), float64(s.Height))
}

// vec2 is a point in pixel space.
type vec2 struct {
	x, y float64
}

func (s FrameSize) pixel(p detector.Point3D) vec2 {
	return vec2{x: p.X * float64(s.Width), y: p.Y * float64(s.Height)}
}

func dist(a, b vec2) float64 {
	return math.Hypot(a.x-b.x, a.y-b.y)
}

// Thresholds are the association radii, in pixels at Reference.
type Thresholds struct {
	AssignRadius float64   `json:"assign_radius"`
	TouchRadius  float64   `json:"touch_radius"`
	Reference    FrameSize `json:"reference"`
}

// DefaultThresholds returns 200px/50px at 1280x720.
func DefaultThresholds() Thresholds {
	return Thresholds{
		AssignRadius: DefaultAssignRadius,
		TouchRadius:  DefaultTouchRadius,
		Reference:    FrameSize{Width: ReferenceWidth, Height: ReferenceHeight},
	}
}

// At rescales the radii to the given frame size by the ratio of frame
// diagonals. Without a valid reference the radii are used as-is.
func (t Thresholds) At(size FrameSize) Thresholds {
	if !t.Reference.Valid() || !size.Valid() {
		return t
	}
	k := size.diagonal() / t.Reference.diagonal()
	return Thresholds{
		AssignRadius: t.AssignRadius * k,
		TouchRadius:  t.TouchRadius * k,
		Reference:    size,
	}
}

// Player is one face in the current frame plus the hands assigned to it.
// Face is the ordinal position in the frame, not a stable identity.
type Player struct {
	Face         int                      `json:"face"`
	Landmarks    detector.FaceLandmarks   `json:"-"`
	Hands        []detector.HandLandmarks `json:"-"`
	TouchingNose bool                     `json:"touching_nose"`
}

// Crown returns the forehead anchor used to place the crown overlay.
func (p Player) Crown() (detector.Point3D, bool) {
	return p.Landmarks.Point(detector.Forehead)
}

// MarshalJSON renders the fields the screen needs: the crown anchor and how
// many hands were assigned.
func (p Player) MarshalJSON() ([]byte, error) {
	out := struct {
		Face         int               `json:"face"`
		Hands        int               `json:"hands"`
		TouchingNose bool              `json:"touching_nose"`
		Crown        *detector.Point3D `json:"crown,omitempty"`
	}{
		Face:         p.Face,
		Hands:        len(p.Hands),
		TouchingNose: p.TouchingNose,
	}
	if crown, ok := p.Crown(); ok {
		out.Crown = &crown
	}
	return json.Marshal(out)
}

// Association is the result of one frame.
type Association struct {
	Players []Player
	// Touches lists face indices whose nose was touched, in face order,
	// each at most once.
	Touches []int
}

// Associate assigns hands to faces for one frame.
//
// Faces are visited in observation order and, for each face, every hand in
// observation order. A hand whose middle knuckle lies within the assign
// radius of the nose tip is attached to that face, so a hand can belong to
// several faces. An attached hand whose index fingertip lies within the touch
// radius marks the face as touching. Pairs with a missing point are skipped.
func Associate(obs detector.Observation, size FrameSize, th Thresholds) Association {
	var out Association
	if len(obs.Faces) == 0 {
		return out
	}

	th = th.At(size)
	out.Players = make([]Player, 0, len(obs.Faces))

	for fi := range obs.Faces {
		face := &obs.Faces[fi]
		player := Player{Face: fi, Landmarks: *face}

		nosePt, ok := face.Point(detector.NoseTip)
		if !ok || !size.Valid() {
			out.Players = append(out.Players, player)
			continue
		}
		nose := size.pixel(nosePt)

		for hi := range obs.Hands {
			hand := &obs.Hands[hi]

			anchorPt, ok := hand.Point(detector.MiddleMCP)
			if !ok {
				continue
			}
			if dist(size.pixel(anchorPt), nose) >= th.AssignRadius {
				continue
			}
			player.Hands = append(player.Hands, *hand)

			if player.TouchingNose {
				continue
			}
			tipPt, ok := hand.Point(detector.IndexTip)
			if !ok {
				continue
			}
			if dist(size.pixel(tipPt), nose) < th.TouchRadius {
				player.TouchingNose = true
				out.Touches = append(out.Touches, fi)
			}
		}

		out.Players = append(out.Players, player)
	}

	return out
}
