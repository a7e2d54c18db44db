package attrindex

import "fmt"

// Mode selects which accelerators the index maintains. It replaces the
// loose bool-or-string configuration knob with a closed set checked
// exhaustively at the config boundary.
type Mode uint8

const (
	// ModeNone disables attribute indexing entirely.
	ModeNone Mode = iota
	// ModeRangeOnly maintains per-node min/max bounds.
	ModeRangeOnly
	// ModeHistogramOnly maintains per-node histograms and bin postings.
	ModeHistogramOnly
	// ModeAll maintains both accelerators.
	ModeAll
)

func (m Mode) String() string {
	switch m {
	case ModeNone:
		return "None"
	case ModeRangeOnly:
		return "RangeIndexOnly"
	case ModeHistogramOnly:
		return "HistogramIndexOnly"
	case ModeAll:
		return "All"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// ParseMode maps the stable configuration names (and the legacy bool
// spellings) to a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "None", "none", "false", "":
		return ModeNone, nil
	case "RangeIndexOnly", "RangeOnly":
		return ModeRangeOnly, nil
	case "HistogramIndexOnly", "HistogramOnly":
		return ModeHistogramOnly, nil
	case "All", "true":
		return ModeAll, nil
	default:
		return 0, fmt.Errorf("unknown attribute index mode %q", s)
	}
}

// RangeEnabled reports whether min/max bounds are maintained.
func (m Mode) RangeEnabled() bool { return m == ModeRangeOnly || m == ModeAll }

// HistogramEnabled reports whether histograms are maintained.
func (m Mode) HistogramEnabled() bool { return m == ModeHistogramOnly || m == ModeAll }

// Combine intersects the index's configured mode with a per-query
// acceleration override: a stage runs only if both sides enable it.
func (m Mode) Combine(q Mode) Mode {
	r := m.RangeEnabled() && q.RangeEnabled()
	h := m.HistogramEnabled() && q.HistogramEnabled()
	switch {
	case r && h:
		return ModeAll
	case r:
		return ModeRangeOnly
	case h:
		return ModeHistogramOnly
	default:
		return ModeNone
	}
}
