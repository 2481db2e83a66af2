package bridge

import (
	"encoding/json"
	"fmt"
)

// urlArtifact is the worker config for URL mode.
type urlArtifact struct {
	Calendars    []string `json:"calendars"`
	UpcomingDays int      `json:"upcoming_days"`
	EventsLimit  int      `json:"events_limit"`
	DateTemplate string   `json:"date_template"`
}

// textArtifact is the worker config for text mode. It has no calendars key:
// that absence is what makes the worker read calendar text from stdin.
type textArtifact struct {
	UpcomingDays  int               `json:"upcoming_days"`
	EventsLimit   int               `json:"events_limit"`
	DateTemplate  string            `json:"date_template"`
	OffsetMarkers map[string]string `json:"offset_markers"`
}

// Materialize serializes the worker config for in and opts. Raw calendar
// text is never part of the payload.
func Materialize(in Input, opts ResolvedOptions) ([]byte, error) {
	var v any
	switch in.Mode() {
	case ModeURLs:
		v = urlArtifact{
			Calendars:    in.URLs(),
			UpcomingDays: opts.UpcomingDays,
			EventsLimit:  opts.Limit,
			DateTemplate: opts.Template,
		}
	case ModeText:
		markers := opts.OffsetMarkers
		if markers == nil {
			markers = map[string]string{}
		}
		v = textArtifact{
			UpcomingDays:  opts.UpcomingDays,
			EventsLimit:   opts.Limit,
			DateTemplate:  opts.Template,
			OffsetMarkers: markers,
		}
	default:
		return nil, newError(KindInvalidInput, nil, "input has no mode; use TextInput or URLListInput")
	}

	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal worker config: %w", err)
	}
	return payload, nil
}
