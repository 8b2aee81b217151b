package game

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayusman/nosegoes/internal/detector"
)

var hd = FrameSize{Width: ReferenceWidth, Height: ReferenceHeight}

// px converts a pixel position on the reference frame to a normalized point.
func px(x, y float64) detector.Point3D {
	return detector.Point3D{X: x / ReferenceWidth, Y: y / ReferenceHeight}
}

func faceAt(x, y float64) detector.FaceLandmarks {
	p := px(x, y)
	return detector.FaceWithNose(p.X, p.Y)
}

func handAt(ax, ay, tx, ty float64) detector.HandLandmarks {
	return detector.HandAt(px(ax, ay), px(tx, ty))
}

func TestAssociate_Example(t *testing.T) {
	obs := detector.Observation{
		Faces: []detector.FaceLandmarks{faceAt(640, 360)},
		Hands: []detector.HandLandmarks{handAt(700, 400, 645, 365)},
	}

	got := Associate(obs, hd, DefaultThresholds())

	require.Len(t, got.Players, 1)
	assert.Equal(t, 0, got.Players[0].Face)
	assert.Len(t, got.Players[0].Hands, 1)
	assert.True(t, got.Players[0].TouchingNose)
	assert.Equal(t, []int{0}, got.Touches)
}

func TestAssociate_Boundaries(t *testing.T) {
	tests := []struct {
		name         string
		anchorOffset float64
		tipOffset    float64
		wantAssigned bool
		wantTouch    bool
	}{
		{name: "anchor at 199px is assigned", anchorOffset: 199, tipOffset: 100, wantAssigned: true},
		{name: "anchor at 200px is not assigned", anchorOffset: 200, tipOffset: 0, wantAssigned: false},
		{name: "anchor beyond radius", anchorOffset: 250, tipOffset: 0, wantAssigned: false},
		{name: "fingertip at 49px touches", anchorOffset: 100, tipOffset: 49, wantAssigned: true, wantTouch: true},
		{name: "fingertip at 50px does not touch", anchorOffset: 100, tipOffset: 50, wantAssigned: true, wantTouch: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obs := detector.Observation{
				Faces: []detector.FaceLandmarks{faceAt(640, 360)},
				Hands: []detector.HandLandmarks{handAt(640+tt.anchorOffset, 360, 640+tt.tipOffset, 360)},
			}

			got := Associate(obs, hd, DefaultThresholds())

			require.Len(t, got.Players, 1)
			assert.Equal(t, tt.wantAssigned, len(got.Players[0].Hands) == 1)
			assert.Equal(t, tt.wantTouch, got.Players[0].TouchingNose)
			if tt.wantTouch {
				assert.Equal(t, []int{0}, got.Touches)
			} else {
				assert.Empty(t, got.Touches)
			}
		})
	}
}

func TestAssociate_TouchNeedsAssignment(t *testing.T) {
	// Fingertip on the nose but the palm is far away: the hand is not this
	// face's, so it cannot win for it.
	obs := detector.Observation{
		Faces: []detector.FaceLandmarks{faceAt(640, 360)},
		Hands: []detector.HandLandmarks{handAt(1000, 360, 641, 360)},
	}

	got := Associate(obs, hd, DefaultThresholds())

	require.Len(t, got.Players, 1)
	assert.Empty(t, got.Players[0].Hands)
	assert.False(t, got.Players[0].TouchingNose)
	assert.Empty(t, got.Touches)
}

func TestAssociate_TwoFacesTwoHands(t *testing.T) {
	obs := detector.Observation{
		Faces: []detector.FaceLandmarks{faceAt(300, 360), faceAt(900, 360)},
		Hands: []detector.HandLandmarks{
			handAt(950, 400, 905, 362), // touching face 1
			handAt(320, 450, 380, 500), // near face 0, not touching
		},
	}

	first := Associate(obs, hd, DefaultThresholds())
	second := Associate(obs, hd, DefaultThresholds())

	require.Len(t, first.Players, 2)
	assert.Equal(t, 0, first.Players[0].Face)
	assert.Equal(t, 1, first.Players[1].Face)
	assert.Len(t, first.Players[0].Hands, 1)
	assert.False(t, first.Players[0].TouchingNose)
	assert.Len(t, first.Players[1].Hands, 1)
	assert.True(t, first.Players[1].TouchingNose)
	assert.Equal(t, []int{1}, first.Touches)

	assert.Equal(t, first, second, "association is deterministic")
}

func TestAssociate_HandSharedByTwoFaces(t *testing.T) {
	obs := detector.Observation{
		Faces: []detector.FaceLandmarks{faceAt(600, 360), faceAt(700, 360)},
		Hands: []detector.HandLandmarks{handAt(650, 360, 602, 360)},
	}

	got := Associate(obs, hd, DefaultThresholds())

	require.Len(t, got.Players, 2)
	assert.Len(t, got.Players[0].Hands, 1)
	assert.Len(t, got.Players[1].Hands, 1)
	assert.True(t, got.Players[0].TouchingNose)
	assert.False(t, got.Players[1].TouchingNose)
}

func TestAssociate_SimultaneousTouches(t *testing.T) {
	obs := detector.Observation{
		Faces: []detector.FaceLandmarks{faceAt(300, 360), faceAt(900, 360)},
		Hands: []detector.HandLandmarks{
			handAt(950, 400, 900, 362),
			handAt(350, 400, 300, 362),
		},
	}

	got := Associate(obs, hd, DefaultThresholds())

	assert.Equal(t, []int{0, 1}, got.Touches, "touches follow face order")
	assert.True(t, got.Players[0].TouchingNose)
	assert.True(t, got.Players[1].TouchingNose)
}

func TestAssociate_OneSignalPerFace(t *testing.T) {
	obs := detector.Observation{
		Faces: []detector.FaceLandmarks{faceAt(640, 360)},
		Hands: []detector.HandLandmarks{
			handAt(700, 400, 645, 365),
			handAt(580, 400, 635, 365),
		},
	}

	got := Associate(obs, hd, DefaultThresholds())

	require.Len(t, got.Players, 1)
	assert.Len(t, got.Players[0].Hands, 2, "remaining hands are still assigned")
	assert.Equal(t, []int{0}, got.Touches)
}

func TestAssociate_Malformed(t *testing.T) {
	noNose := detector.FaceLandmarks{Points: []detector.Point3D{px(640, 360)}}

	shortHand := detector.HandLandmarks{Points: make([]detector.Point3D, detector.MiddleMCP)}

	noTip := handAt(700, 400, 645, 365)
	noTip.Points[detector.IndexTip] = detector.Point3D{X: math.NaN(), Y: 0.5}

	obs := detector.Observation{
		Faces: []detector.FaceLandmarks{noNose, faceAt(640, 360)},
		Hands: []detector.HandLandmarks{shortHand, noTip},
	}

	got := Associate(obs, hd, DefaultThresholds())

	require.Len(t, got.Players, 2, "every face yields a player")
	assert.Empty(t, got.Players[0].Hands)
	assert.Len(t, got.Players[1].Hands, 1, "hand without fingertip is still assigned")
	assert.False(t, got.Players[1].TouchingNose)
	assert.Empty(t, got.Touches)
}

func TestAssociate_Empty(t *testing.T) {
	got := Associate(detector.Observation{}, hd, DefaultThresholds())
	assert.Empty(t, got.Players)
	assert.Empty(t, got.Touches)

	handsOnly := detector.Observation{Hands: []detector.HandLandmarks{handAt(640, 360, 640, 360)}}
	got = Associate(handsOnly, hd, DefaultThresholds())
	assert.Empty(t, got.Players)
}

func TestAssociate_NoVideo(t *testing.T) {
	obs := detector.Observation{
		Faces: []detector.FaceLandmarks{faceAt(640, 360)},
		Hands: []detector.HandLandmarks{handAt(700, 400, 645, 365)},
	}

	got := Associate(obs, FrameSize{}, DefaultThresholds())

	require.Len(t, got.Players, 1)
	assert.Empty(t, got.Players[0].Hands)
	assert.Empty(t, got.Touches)
}

func TestThresholds_At(t *testing.T) {
	th := DefaultThresholds()

	same := th.At(hd)
	assert.Equal(t, DefaultAssignRadius, same.AssignRadius)
	assert.Equal(t, DefaultTouchRadius, same.TouchRadius)

	half := th.At(FrameSize{Width: 640, Height: 360})
	assert.InDelta(t, 100, half.AssignRadius, 1e-9)
	assert.InDelta(t, 25, half.TouchRadius, 1e-9)

	raw := Thresholds{AssignRadius: 10, TouchRadius: 5}
	assert.Equal(t, raw, raw.At(hd), "no reference means no scaling")
}

func TestAssociate_ScalesWithResolution(t *testing.T) {
	small := FrameSize{Width: 640, Height: 360}
	// 150px at 640x360 is 300px at the reference size: outside the radius.
	nose := detector.Point3D{X: 320.0 / 640, Y: 180.0 / 360}
	anchor := detector.Point3D{X: 470.0 / 640, Y: 180.0 / 360}

	obs := detector.Observation{
		Faces: []detector.FaceLandmarks{detector.FaceWithNose(nose.X, nose.Y)},
		Hands: []detector.HandLandmarks{detector.HandAt(anchor, nose)},
	}

	got := Associate(obs, small, DefaultThresholds())
	require.Len(t, got.Players, 1)
	assert.Empty(t, got.Players[0].Hands)
}

func TestPlayer_MarshalJSON(t *testing.T) {
	p := Player{
		Face:         2,
		Landmarks:    faceAt(640, 360),
		Hands:        []detector.HandLandmarks{handAt(700, 400, 645, 365)},
		TouchingNose: true,
	}

	data, err := json.Marshal(p)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.EqualValues(t, 2, got["face"])
	assert.EqualValues(t, 1, got["hands"])
	assert.Equal(t, true, got["touching_nose"])
	assert.Contains(t, got, "crown")
	assert.NotContains(t, got, "points")
}
