// Package diagnostics carries structured operator-facing events: mode
// changes, sensor dropouts and load failures, with likely causes attached.
package diagnostics

import (
	"time"

	"github.com/rs/zerolog"
)

type Severity string

const (
	Info Severity = "info"
	Warn Severity = "warning"
	Err  Severity = "error"
)

const (
	CodeModeChange    = "mode_change"
	CodeAngleLost     = "angle_lost"
	CodeLoadFailed    = "load_failed"
	CodeEventsDropped = "events_dropped"
	CodeRenderFailed  = "render_failed"
)

type Diagnostic struct {
	Time           time.Time      `json:"time"`
	Severity       Severity       `json:"severity"`
	Code           string         `json:"code"`
	Summary        string         `json:"summary"`
	Detail         string         `json:"detail,omitempty"`
	LikelyCauses   []string       `json:"likely_causes,omitempty"`
	SuggestedFixes []string       `json:"suggested_fixes,omitempty"`
	Evidence       map[string]any `json:"evidence,omitempty"`
}

// Sink receives diagnostics. Push must not block the caller.
type Sink interface {
	Push(d Diagnostic)
}

type SinkFunc func(Diagnostic)

func (f SinkFunc) Push(d Diagnostic) { f(d) }

// Fanout pushes to every non-nil sink.
type Fanout []Sink

func (f Fanout) Push(d Diagnostic) {
	for _, s := range f {
		if s != nil {
			s.Push(d)
		}
	}
}

// LogSink writes diagnostics to a zerolog logger at the matching level.
type LogSink struct {
	Log zerolog.Logger
}

func (l LogSink) Push(d Diagnostic) {
	var ev *zerolog.Event
	switch d.Severity {
	case Err:
		ev = l.Log.Error()
	case Warn:
		ev = l.Log.Warn()
	default:
		ev = l.Log.Info()
	}
	ev = ev.Str("code", d.Code)
	if d.Detail != "" {
		ev = ev.Str("detail", d.Detail)
	}
	if len(d.Evidence) > 0 {
		ev = ev.Fields(d.Evidence)
	}
	ev.Msg(d.Summary)
}

// ModeChange reports a switch between display modes.
func ModeChange(at time.Time, from, to string, angle int, reason string) Diagnostic {
	return Diagnostic{
		Time:     at,
		Severity: Info,
		Code:     CodeModeChange,
		Summary:  from + " -> " + to,
		Detail:   reason,
		Evidence: map[string]any{"from": from, "to": to, "angle": angle},
	}
}

// AngleLost reports that playback stopped because the rotation fix went stale.
func AngleLost(at time.Time, frequencyMHz int) Diagnostic {
	return Diagnostic{
		Time:     at,
		Severity: Warn,
		Code:     CodeAngleLost,
		Summary:  "rotation angle unknown, falling back to patterns",
		LikelyCauses: []string{
			"wheel slowed below 1 rev/s or stopped",
			"hall sensor not triggering (gap, magnet, wiring)",
		},
		SuggestedFixes: []string{
			"check sensor pin names in the arm config",
			"verify the magnet passes within sensing range of every sensor",
		},
		Evidence: map[string]any{"frequency_mhz": frequencyMHz},
	}
}

// EventsDropped reports sensor events lost to a full queue.
func EventsDropped(at time.Time, total uint64) Diagnostic {
	return Diagnostic{
		Time:     at,
		Severity: Warn,
		Code:     CodeEventsDropped,
		Summary:  "rotation events dropped",
		LikelyCauses: []string{
			"tracker worker starved",
			"sensor bouncing",
		},
		SuggestedFixes: []string{"raise event_queue in the config"},
		Evidence:       map[string]any{"dropped": total},
	}
}

// RenderFailed reports a strip refresh error.
func RenderFailed(at time.Time, arm int, err error) Diagnostic {
	return Diagnostic{
		Time:     at,
		Severity: Err,
		Code:     CodeRenderFailed,
		Summary:  "strip refresh failed",
		Detail:   err.Error(),
		Evidence: map[string]any{"arm": arm},
	}
}

// LoadFailed reports an animation that could not be opened.
func LoadFailed(at time.Time, source string, err error) Diagnostic {
	return Diagnostic{
		Time:           at,
		Severity:       Err,
		Code:           CodeLoadFailed,
		Summary:        "animation load failed",
		Detail:         err.Error(),
		LikelyCauses:   []string{"file is not a GIF", "file truncated on copy"},
		SuggestedFixes: []string{"re-run povconvert on the source image"},
		Evidence:       map[string]any{"source": source},
	}
}
