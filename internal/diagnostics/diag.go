package diagnostics

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/coreman2200/bamtile/internal/bam"
	"github.com/coreman2200/bamtile/internal/layout"
	"github.com/coreman2200/bamtile/internal/tile"
)

type Severity string

const (
	Info Severity = "info"
	Warn Severity = "warning"
	Err  Severity = "error"
)

const (
	CodeOverrun   = "BAM.OVERRUN"
	CodeProfile   = "BAM.PROFILE"
	CodeOverwrite = "RX.OVERWRITE"
	CodeResync    = "RX.RESYNC"
	CodeStalled   = "RX.STALLED"
	CodeMasked    = "TILE.MASKED"
)

type Diagnostic struct {
	Severity       Severity       `json:"severity"`
	Code           string         `json:"code"`
	Summary        string         `json:"summary"`
	Detail         string         `json:"detail,omitempty"`
	LikelyCauses   []string       `json:"likely_causes,omitempty"`
	SuggestedFixes []string       `json:"suggested_fixes,omitempty"`
	Evidence       map[string]any `json:"evidence,omitempty"`
}

// Profile grades a measured worst-case plane transmission against the
// shortest step.
func Profile(t bam.Timing, worst time.Duration) Diagnostic {
	ev := map[string]any{
		"worst_ns": worst.Nanoseconds(),
		"step0_ns": t.Step0.Nanoseconds(),
		"budget":   t.TransmitBudget().String(),
	}
	if worst >= t.Step0 {
		return Diagnostic{
			Severity: Err,
			Code:     CodeOverrun,
			Summary:  "Plane transmission outlasts the shortest BAM step",
			LikelyCauses: []string{
				"soft-SPI phases too long for the step 0 period",
				"GPIO writes slower than the configured phases",
			},
			SuggestedFixes: []string{"raise timing.step0", "shorten timing.spi_low and timing.spi_high"},
			Evidence:       ev,
		}
	}
	return Diagnostic{Severity: Info, Code: CodeProfile, Summary: "Transmission fits step 0", Evidence: ev}
}

// Watch compares two stats snapshots taken some time apart and reports
// what changed.
func Watch(prev, cur tile.Stats) []Diagnostic {
	var out []Diagnostic
	if n := cur.Overwritten - prev.Overwritten; n > 0 {
		out = append(out, Diagnostic{
			Severity:       Warn,
			Code:           CodeOverwrite,
			Summary:        "Received bytes were overwritten before assembly",
			LikelyCauses:   []string{"latch pulses closer than the main loop can poll"},
			SuggestedFixes: []string{"increase feed.gap on the sender"},
			Evidence:       map[string]any{"lost": n},
		})
	}
	if n := cur.Resyncs - prev.Resyncs; n > 0 {
		out = append(out, Diagnostic{
			Severity: Info,
			Code:     CodeResync,
			Summary:  "BAM cycle resynchronized by the upstream controller",
			Evidence: map[string]any{"count": n},
		})
	}
	if cur.Bytes != prev.Bytes && cur.Frames == prev.Frames && cur.Bytes-prev.Bytes > 2*layout.Channels {
		out = append(out, Diagnostic{
			Severity:     Warn,
			Code:         CodeStalled,
			Summary:      "Bytes arrive but no frame is committed",
			LikelyCauses: []string{"sender never sends the commit pulse", "receive buffer reset every frame"},
			Evidence:     map[string]any{"bytes": cur.Bytes - prev.Bytes},
		})
	}
	if n := cur.Masked - prev.Masked; n > 0 {
		out = append(out, Diagnostic{
			Severity: Warn,
			Code:     CodeMasked,
			Summary:  "Interrupts raised while the tile was not running",
			Evidence: map[string]any{"dropped": n},
		})
	}
	return out
}

// Log writes d to the global logger at its severity.
func Log(d Diagnostic) {
	var e *zerolog.Event
	switch d.Severity {
	case Err:
		e = log.Error()
	case Warn:
		e = log.Warn()
	default:
		e = log.Info()
	}
	e.Str("code", d.Code).Fields(d.Evidence).Msg(d.Summary)
}
