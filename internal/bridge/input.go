package bridge

import (
	"net/url"
	"strings"
)

const (
	// MaxURLs is the largest calendar URL list accepted per invocation.
	MaxURLs = 5

	// DefaultUpcomingDays applies when the caller does not set upcomingDays.
	DefaultUpcomingDays = 7
)

// Mode tells which Input variant is active.
type Mode string

const (
	ModeText Mode = "text"
	ModeURLs Mode = "urls"
)

// Input is either raw calendar text or a list of calendar URLs.
// Construct it with TextInput or URLListInput.
type Input struct {
	mode Mode
	text string
	urls []string
}

// TextInput wraps raw calendar text. The text is delivered to the worker
// on stdin, untouched.
func TextInput(raw string) (Input, error) {
	if strings.TrimSpace(raw) == "" {
		return Input{}, newError(KindInvalidInput, nil, "calendar text is empty")
	}
	return Input{mode: ModeText, text: raw}, nil
}

// URLListInput trims each URL, drops blanks and keeps the order. The result
// must hold between 1 and MaxURLs absolute http(s) or webcal(s) URLs.
// webcal feeds are rewritten to https since the worker fetches over HTTP.
// Other schemes are refused so callers cannot point the worker at local files.
func URLListInput(urls []string) (Input, error) {
	cleaned := make([]string, 0, len(urls))
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		cleaned = append(cleaned, u)
	}

	if len(cleaned) == 0 {
		return Input{}, newError(KindInvalidInput, nil, "no calendar URLs provided")
	}
	if len(cleaned) > MaxURLs {
		return Input{}, newError(KindInvalidInput, nil, "too many calendar URLs: %d (max %d)", len(cleaned), MaxURLs)
	}

	for i, u := range cleaned {
		parsed, err := url.Parse(u)
		if err != nil {
			return Input{}, newError(KindInvalidInput, err, "invalid calendar URL %q", u)
		}
		if parsed.Host == "" {
			return Input{}, newError(KindInvalidInput, nil, "invalid calendar URL %q: must be an absolute URL", u)
		}
		switch strings.ToLower(parsed.Scheme) {
		case "http", "https":
		case "webcal", "webcals":
			parsed.Scheme = "https"
			cleaned[i] = parsed.String()
		default:
			return Input{}, newError(KindInvalidInput, nil, "invalid calendar URL %q: scheme must be http, https or webcal", u)
		}
	}

	return Input{mode: ModeURLs, urls: cleaned}, nil
}

// Mode returns the active variant.
func (in Input) Mode() Mode {
	return in.mode
}

// Text returns the raw calendar text (text mode only).
func (in Input) Text() string {
	return in.text
}

// URLs returns a copy of the URL list (URL mode only).
func (in Input) URLs() []string {
	if in.urls == nil {
		return nil
	}
	out := make([]string, len(in.urls))
	copy(out, in.urls)
	return out
}

// Options is the caller-facing, loosely specified option set. Pointer
// fields distinguish "not given" from an explicit zero.
type Options struct {
	UpcomingDays  *int              `json:"upcomingDays,omitempty"`
	Limit         *int              `json:"limit,omitempty"`
	Template      string            `json:"template,omitempty"`
	OffsetMarkers map[string]string `json:"offsetMarkers,omitempty"`
}

// ResolvedOptions holds the effective values passed to the worker.
type ResolvedOptions struct {
	UpcomingDays  int               `json:"upcomingDays"`
	Limit         int               `json:"limit"` // 0 = unlimited
	Template      string            `json:"template,omitempty"`
	OffsetMarkers map[string]string `json:"offsetMarkers,omitempty"`
}

// Resolve applies defaults and clamps out-of-range values:
//   - UpcomingDays: unset or 0 -> 7, negative -> 0
//   - Limit: unset -> 0, negative -> 0
//   - Template: trimmed
//   - OffsetMarkers: nil -> empty map
func (o Options) Resolve() ResolvedOptions {
	r := ResolvedOptions{
		UpcomingDays: DefaultUpcomingDays,
		Template:     strings.TrimSpace(o.Template),
	}
	if o.UpcomingDays != nil && *o.UpcomingDays != 0 {
		r.UpcomingDays = max(0, *o.UpcomingDays)
	}
	if o.Limit != nil {
		r.Limit = max(0, *o.Limit)
	}

	r.OffsetMarkers = make(map[string]string, len(o.OffsetMarkers))
	for k, v := range o.OffsetMarkers {
		r.OffsetMarkers[k] = v
	}
	return r
}
