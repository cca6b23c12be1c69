package model

import (
	"fmt"
	"strings"
)

// Layout describes how the reference count and the payload of a shared
// counter were placed in memory.
type Layout uint8

const (
	// LayoutSplit allocates the control block and the payload separately.
	LayoutSplit Layout = iota
	// LayoutCombined allocates the control block and the payload in one block.
	LayoutCombined
)

// AllLayouts lists every layout in report order.
var AllLayouts = []Layout{LayoutSplit, LayoutCombined}

func (l Layout) String() string {
	switch l {
	case LayoutSplit:
		return "split"
	case LayoutCombined:
		return "combined"
	default:
		return fmt.Sprintf("layout(%d)", uint8(l))
	}
}

// Valid reports whether l is one of the known layouts.
func (l Layout) Valid() bool {
	return l == LayoutSplit || l == LayoutCombined
}

func (l Layout) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("unknown layout %d", uint8(l))
	}
	return []byte(l.String()), nil
}

func (l *Layout) UnmarshalText(text []byte) error {
	parsed, err := ParseLayout(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// ParseLayout parses a single layout name.
func ParseLayout(s string) (Layout, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "split":
		return LayoutSplit, nil
	case "combined":
		return LayoutCombined, nil
	default:
		return 0, fmt.Errorf("unknown layout %q (expected split or combined)", s)
	}
}

// ParseLayouts parses a layout selection as accepted on the command line:
// "split", "combined" or "both".
func ParseLayouts(s string) ([]Layout, error) {
	if strings.EqualFold(strings.TrimSpace(s), "both") {
		return append([]Layout(nil), AllLayouts...), nil
	}
	l, err := ParseLayout(s)
	if err != nil {
		return nil, fmt.Errorf("unknown layout %q (expected split, combined or both)", s)
	}
	return []Layout{l}, nil
}
