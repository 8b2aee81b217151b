package detector

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"
)

// idleShutdown is how long a landmark service may sit unused before its
// process is stopped. It is restarted on the next frame.
const idleShutdown = 30 * time.Second

// mediaPipeProcess talks to a Python MediaPipe subprocess. Frames go in as a
// 4-byte big-endian length followed by JPEG bytes; each frame yields one JSON
// line on stdout.
type mediaPipeProcess struct {
	model     Model
	config    Config
	script    string
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	stdout    *bufio.Reader
	mu        sync.Mutex
	started   bool
	loaded    atomic.Bool
	lastUsed  time.Time
	idleTimer *time.Timer
}

func newMediaPipeProcess(model Model, config Config) (*mediaPipeProcess, error) {
	scriptPath := config.ScriptPath
	if scriptPath == "" {
		scriptPath = findLandmarkScript()
	}
	if scriptPath == "" {
		return nil, fmt.Errorf("landmark_service.py not found")
	}

	return &mediaPipeProcess{
		model:  model,
		config: config,
		script: scriptPath,
	}, nil
}

// Load starts the subprocess so the model is warm before the first round.
func (d *mediaPipeProcess) Load() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ensureStarted(); err != nil {
		return err
	}
	d.loaded.Store(true)
	d.resetIdleTimer()
	return nil
}

// Ready reports whether Load has succeeded at least once. It does not wait
// for a Load in progress.
func (d *mediaPipeProcess) Ready() bool {
	return d.loaded.Load()
}

// Close shuts down the Python process.
func (d *mediaPipeProcess) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.shutdown()
}

// roundTrip sends one frame and returns the raw JSON response line.
func (d *mediaPipeProcess) roundTrip(frame *gocv.Mat) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ensureStarted(); err != nil {
		return nil, err
	}

	buf, err := gocv.IMEncode(".jpg", *frame)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	data := buf.GetBytes()

	length := make([]byte, 4)
	binary.BigEndian.PutUint32(length, uint32(len(data)))

	if _, err := d.stdin.Write(length); err != nil {
		return nil, fmt.Errorf("write length: %w", err)
	}
	if _, err := d.stdin.Write(data); err != nil {
		return nil, fmt.Errorf("write data: %w", err)
	}

	line, err := d.stdout.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	d.lastUsed = time.Now()
	d.resetIdleTimer()

	return line, nil
}

func (d *mediaPipeProcess) ensureStarted() error {
	if d.started {
		return nil
	}

	// Use virtual environment Python if available
	pythonPath := d.config.Python
	if pythonPath == "" {
		pythonPath = findVenvPython()
	}
	if pythonPath == "" {
		pythonPath = "python3"
	}

	limit := d.config.MaxHands
	if d.model == ModelFace {
		limit = d.config.MaxFaces
	}

	d.cmd = exec.Command(pythonPath, d.script,
		"--model", string(d.model),
		"--max", strconv.Itoa(limit),
		"--min-detection-confidence", strconv.FormatFloat(d.config.MinConfidence, 'f', -1, 64),
		"--min-tracking-confidence", strconv.FormatFloat(d.config.MinTrackingConf, 'f', -1, 64),
	)

	stdin, err := d.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create stdin pipe: %w", err)
	}

	stdout, err := d.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("create stdout pipe: %w", err)
	}

	d.cmd.Stderr = os.Stderr

	if err := d.cmd.Start(); err != nil {
		return fmt.Errorf("start %s landmark service: %w", d.model, err)
	}

	d.stdin = stdin
	d.stdout = bufio.NewReader(stdout)
	d.started = true
	d.lastUsed = time.Now()

	// The service prints one ready line once its model is initialized.
	line, err := d.stdout.ReadBytes('\n')
	if err != nil {
		d.shutdown()
		return fmt.Errorf("%s landmark service did not start: %w", d.model, err)
	}
	var hello struct {
		Ready bool   `json:"ready"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(line, &hello); err != nil || !hello.Ready {
		d.shutdown()
		if hello.Error != "" {
			return fmt.Errorf("%s landmark service: %s", d.model, hello.Error)
		}
		return fmt.Errorf("%s landmark service sent no ready line", d.model)
	}

	return nil
}

func (d *mediaPipeProcess) shutdown() error {
	if !d.started {
		return nil
	}

	if d.idleTimer != nil {
		d.idleTimer.Stop()
		d.idleTimer = nil
	}

	if d.stdin != nil {
		d.stdin.Close()
	}

	err := d.cmd.Wait()
	d.started = false
	d.cmd = nil
	d.stdin = nil
	d.stdout = nil

	return err
}

func (d *mediaPipeProcess) resetIdleTimer() {
	if d.idleTimer != nil {
		d.idleTimer.Stop()
	}
	d.idleTimer = time.AfterFunc(idleShutdown, func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.shutdown()
	})
}

// MediaPipeHands implements HandLandmarker with a MediaPipe Hands subprocess.
type MediaPipeHands struct {
	*mediaPipeProcess
}

// NewMediaPipeHands creates a hand landmarker. The process starts on Load or
// on the first frame.
func NewMediaPipeHands(config Config) (*MediaPipeHands, error) {
	p, err := newMediaPipeProcess(ModelHand, config)
	if err != nil {
		return nil, err
	}
	return &MediaPipeHands{p}, nil
}

// DetectHands analyzes a frame and returns detected hand landmarks.
func (d *MediaPipeHands) DetectHands(frame *gocv.Mat) ([]HandLandmarks, error) {
	line, err := d.roundTrip(frame)
	if err != nil {
		return nil, err
	}

	var response struct {
		Hands []jsonHand `json:"hands"`
	}
	if err := json.Unmarshal(line, &response); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	result := make([]HandLandmarks, len(response.Hands))
	for i, h := range response.Hands {
		result[i] = h.toHandLandmarks()
	}
	return result, nil
}

// MediaPipeFaces implements FaceLandmarker with a MediaPipe FaceMesh subprocess.
type MediaPipeFaces struct {
	*mediaPipeProcess
}

// NewMediaPipeFaces creates a face landmarker.
func NewMediaPipeFaces(config Config) (*MediaPipeFaces, error) {
	p, err := newMediaPipeProcess(ModelFace, config)
	if err != nil {
		return nil, err
	}
	return &MediaPipeFaces{p}, nil
}

// DetectFaces analyzes a frame and returns detected face meshes.
func (d *MediaPipeFaces) DetectFaces(frame *gocv.Mat) ([]FaceLandmarks, error) {
	line, err := d.roundTrip(frame)
	if err != nil {
		return nil, err
	}

	var response struct {
		Faces []jsonFace `json:"faces"`
	}
	if err := json.Unmarshal(line, &response); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	result := make([]FaceLandmarks, len(response.Faces))
	for i, f := range response.Faces {
		result[i] = FaceLandmarks{
			Points: toPoints(f.Points, NumFaceLandmarks),
			Score:  f.Score,
		}
	}
	return result, nil
}

func findLandmarkScript() string {
	execPath, err := os.Executable()
	var execDir string
	if err == nil {
		execDir = filepath.Dir(execPath)
	}

	candidates := []string{
		"scripts/landmark_service.py",
		"../scripts/landmark_service.py",
		filepath.Join(execDir, "scripts/landmark_service.py"),
		filepath.Join(os.Getenv("HOME"), ".nosegoes/scripts/landmark_service.py"),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			absPath, err := filepath.Abs(path)
			if err == nil {
				return absPath
			}
			return path
		}
	}
	return ""
}

// findVenvPython looks for a Python interpreter in a virtual environment.
func findVenvPython() string {
	execPath, err := os.Executable()
	if err != nil {
		return ""
	}
	execDir := filepath.Dir(execPath)

	candidates := []string{
		"venv/bin/python",
		"../venv/bin/python",
		"../../venv/bin/python",
		filepath.Join(execDir, "venv/bin/python"),
		filepath.Join(os.Getenv("HOME"), ".nosegoes/venv/bin/python"),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			absPath, err := filepath.Abs(path)
			if err == nil {
				return absPath
			}
			return path
		}
	}
	return ""
}

// jsonHand represents the JSON structure from the Python service.
type jsonHand struct {
	Points     []jsonPoint `json:"points"`
	Handedness string      `json:"handedness"`
	Score      float64     `json:"score"`
}

type jsonFace struct {
	Points []jsonPoint `json:"points"`
	Score  float64     `json:"score"`
}

// jsonPoint uses pointers so a landmark the service could not place decodes
// as NaN instead of a fake origin.
type jsonPoint struct {
	X *float64 `json:"x"`
	Y *float64 `json:"y"`
	Z *float64 `json:"z"`
}

func (h jsonHand) toHandLandmarks() HandLandmarks {
	return HandLandmarks{
		Points:     toPoints(h.Points, NumHandLandmarks),
		Handedness: h.Handedness,
		Score:      h.Score,
	}
}

func toPoints(in []jsonPoint, limit int) []Point3D {
	n := len(in)
	if n > limit {
		n = limit
	}
	out := make([]Point3D, n)
	for i := 0; i < n; i++ {
		out[i] = Point3D{
			X: orNaN(in[i].X),
			Y: orNaN(in[i].Y),
			Z: orZero(in[i].Z),
		}
	}
	return out
}

func orNaN(f *float64) float64 {
	if f == nil {
		return math.NaN()
	}
	return *f
}

func orZero(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
