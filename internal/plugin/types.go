// Package plugin discovers feedback plugins and runs them when game events
// occur: countdown beeps, winner fanfare, lights.
package plugin

import "encoding/json"

// Manifest describes a plugin's metadata and capabilities.
type Manifest struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Description string   `json:"description"`
	Executable  string   `json:"executable"`
	Actions     []string `json:"actions"`
	// Events the plugin receives when no binding routes that event
	// explicitly. The action sent is the event name.
	Events       []string        `json:"events,omitempty"`
	ConfigSchema json.RawMessage `json:"configSchema,omitempty"`
}

// Subscribes reports whether the manifest lists event.
func (m Manifest) Subscribes(event string) bool {
	for _, e := range m.Events {
		if e == event {
			return true
		}
	}
	return false
}

// Request represents a request sent to a plugin for execution.
type Request struct {
	Action    string          `json:"action"`
	Event     string          `json:"event"`
	Round     string          `json:"round,omitempty"`
	State     string          `json:"state,omitempty"`
	Countdown int             `json:"countdown"`
	Cue       string          `json:"cue,omitempty"`
	Hz        int             `json:"hz,omitempty"`
	Face      *int            `json:"face,omitempty"`
	Message   string          `json:"message,omitempty"`
	Config    json.RawMessage `json:"config,omitempty"`
}

// Response represents the response from a plugin execution.
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Plugin represents a discovered plugin with its manifest and location.
type Plugin struct {
	Manifest   Manifest
	Path       string
	Executable string
}
