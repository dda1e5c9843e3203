// Package sequence plays a show: a timed list of feed patterns with level
// automation and crossfades between neighbours.
package sequence

import "time"

// Keyframe is a level at T seconds into a clip. Ease shapes the segment
// that starts at this key.
type Keyframe struct {
	T    float64 `yaml:"t" json:"t"`
	V    float64 `yaml:"v" json:"v"`
	Ease string  `yaml:"ease,omitempty" json:"ease,omitempty"` // "linear","smooth","cubic"
}

// Envelope is a list of keyframes sorted by T.
type Envelope []Keyframe

// Clip is one segment of a show. Fade overlaps the end of the clip with the
// start of the next one.
type Clip struct {
	Name     string        `yaml:"name" json:"name"`
	Pattern  string        `yaml:"pattern" json:"pattern"`
	Level    int           `yaml:"level,omitempty" json:"level,omitempty"`
	Levels   Envelope      `yaml:"levels,omitempty" json:"levels,omitempty"`
	Duration time.Duration `yaml:"duration" json:"duration"`
	Fade     time.Duration `yaml:"fade,omitempty" json:"fade,omitempty"`
	Ease     string        `yaml:"ease,omitempty" json:"ease,omitempty"`
}

type Program struct {
	Version string `yaml:"version" json:"version"` // "show.v1"
	Loop    bool   `yaml:"loop,omitempty" json:"loop,omitempty"`
	Clips   []Clip `yaml:"clips" json:"clips"`
}

type PlayerState string

const (
	Idle    PlayerState = "idle"
	Running PlayerState = "running"
	Paused  PlayerState = "paused"
)
