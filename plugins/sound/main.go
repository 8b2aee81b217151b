// Package main provides the sound feedback plugin. It renders the countdown
// beeps and the winner fanfare as short sine tones and plays them through the
// platform's command-line audio player.
package main

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"runtime"
)

// Request represents the input from the plugin executor.
type Request struct {
	Action    string          `json:"action"`
	Event     string          `json:"event"`
	Round     string          `json:"round"`
	Countdown int             `json:"countdown"`
	Cue       string          `json:"cue"`
	Hz        int             `json:"hz"`
	Face      *int            `json:"face"`
	Config    json.RawMessage `json:"config"`
}

// Response represents the output to the plugin executor.
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type config struct {
	Volume *float64 `json:"volume"`
	DryRun bool     `json:"dry_run"`
}

// note is one sine tone.
type note struct {
	Hz      int     `json:"hz"`
	Seconds float64 `json:"seconds"`
	Peak    float64 `json:"peak"`
}

const (
	sampleRate  = 44100
	beepHz      = 400
	goHz        = 800
	toneSeconds = 0.5
	peakGain    = 0.3
	floorGain   = 0.01
)

type actionHandler func(req Request, volume float64) ([]note, error)

var actionHandlers = map[string]actionHandler{
	"tick":   tick,
	"tone":   tone,
	"winner": fanfare,
}

func main() {
	var req Request
	if err := json.NewDecoder(os.Stdin).Decode(&req); err != nil {
		writeErrorResponse(fmt.Sprintf("failed to decode request: %v", err))
		return
	}

	cfg := config{}
	if len(req.Config) > 0 {
		if err := json.Unmarshal(req.Config, &cfg); err != nil {
			writeErrorResponse(fmt.Sprintf("invalid config: %v", err))
			return
		}
	}
	volume := 1.0
	if cfg.Volume != nil {
		volume = math.Max(0, math.Min(1, *cfg.Volume))
	}

	handler, ok := actionHandlers[req.Action]
	if !ok {
		writeErrorResponse(fmt.Sprintf("unknown action: %s", req.Action))
		return
	}

	notes, err := handler(req, volume)
	if err != nil {
		writeErrorResponse(fmt.Sprintf("action %s failed: %v", req.Action, err))
		return
	}

	if !cfg.DryRun {
		if err := play(render(notes)); err != nil {
			writeErrorResponse(fmt.Sprintf("playback failed: %v", err))
			return
		}
	}

	data, _ := json.Marshal(map[string]any{"notes": notes})
	writeSuccessResponse(data)
}

// tick plays the countdown cue: a low beep for numbers, a high one for Go.
func tick(req Request, volume float64) ([]note, error) {
	hz := req.Hz
	if hz == 0 {
		hz = beepHz
		if req.Cue == "go" || req.Countdown == 0 {
			hz = goHz
		}
	}
	return []note{{Hz: hz, Seconds: toneSeconds, Peak: peakGain * volume}}, nil
}

// tone plays the frequency given in the request.
func tone(req Request, volume float64) ([]note, error) {
	if req.Hz <= 0 || req.Hz > 20000 {
		return nil, fmt.Errorf("frequency %d Hz out of range", req.Hz)
	}
	return []note{{Hz: req.Hz, Seconds: toneSeconds, Peak: peakGain * volume}}, nil
}

// fanfare plays a rising arpeggio ending on a longer note.
func fanfare(_ Request, volume float64) ([]note, error) {
	peak := peakGain * volume
	return []note{
		{Hz: 523, Seconds: 0.15, Peak: peak},
		{Hz: 659, Seconds: 0.15, Peak: peak},
		{Hz: 784, Seconds: 0.15, Peak: peak},
		{Hz: 1047, Seconds: 0.6, Peak: peak},
	}, nil
}

// render encodes the notes as a mono 16-bit PCM WAV file. Each note decays
// exponentially from its peak to the floor gain.
func render(notes []note) []byte {
	var samples []int16
	for _, n := range notes {
		count := int(n.Seconds * sampleRate)
		decay := math.Log(floorGain/math.Max(n.Peak, floorGain)) / float64(count)
		for i := 0; i < count; i++ {
			gain := n.Peak * math.Exp(decay*float64(i))
			v := gain * math.Sin(2*math.Pi*float64(n.Hz)*float64(i)/sampleRate)
			samples = append(samples, int16(v*math.MaxInt16))
		}
	}

	var buf bytes.Buffer
	dataLen := uint32(len(samples) * 2)
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, 36+dataLen)
	buf.WriteString("WAVEfmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // mono
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*2))
	binary.Write(&buf, binary.LittleEndian, uint16(2))
	binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, dataLen)
	binary.Write(&buf, binary.LittleEndian, samples)
	return buf.Bytes()
}

// play writes wav to a temp file and hands it to the platform player.
func play(wav []byte) error {
	player, args, err := findPlayer()
	if err != nil {
		return err
	}

	f, err := os.CreateTemp("", "nosegoes-*.wav")
	if err != nil {
		return err
	}
	defer os.Remove(f.Name())
	if _, err := f.Write(wav); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	output, err := exec.Command(player, append(args, f.Name())...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, string(output))
	}
	return nil
}

func findPlayer() (string, []string, error) {
	candidates := map[string][][]string{
		"darwin":  {{"afplay"}},
		"linux":   {{"paplay"}, {"aplay", "-q"}},
		"windows": {},
	}
	for _, c := range candidates[runtime.GOOS] {
		if path, err := exec.LookPath(c[0]); err == nil {
			return path, c[1:], nil
		}
	}
	return "", nil, errors.New("no audio player found")
}

// writeErrorResponse writes an error response to stdout.
func writeErrorResponse(errMsg string) {
	resp := Response{
		Success: false,
		Error:   errMsg,
	}
	json.NewEncoder(os.Stdout).Encode(resp)
}

// writeSuccessResponse writes a success response to stdout.
func writeSuccessResponse(data json.RawMessage) {
	resp := Response{
		Success: true,
		Data:    data,
	}
	json.NewEncoder(os.Stdout).Encode(resp)
}
