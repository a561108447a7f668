package camera

import "fmt"

// Variant selects one of the two streams a camera exposes.
type Variant string

const (
	// VariantMain is the high-resolution main stream.
	VariantMain Variant = "main"
	// VariantSub is the low-resolution sub stream.
	VariantSub Variant = "sub"
)

// ParseVariant converts a stream_type form value into a Variant.
func ParseVariant(s string) (Variant, error) {
	switch Variant(s) {
	case VariantMain, VariantSub:
		return Variant(s), nil
	default:
		return "", fmt.Errorf("unknown stream type %q", s)
	}
}

// Toggle returns the other variant.
func (v Variant) Toggle() Variant {
	if v == VariantSub {
		return VariantMain
	}
	return VariantSub
}

// Label is the display name of the variant.
func (v Variant) Label() string {
	if v == VariantSub {
		return "Sub Stream"
	}
	return "Main Stream"
}

// SwitchLabel is the caption of the control that switches away from v.
func (v Variant) SwitchLabel() string {
	return "Switch to " + v.Toggle().Label()
}

func (v Variant) String() string { return string(v) }
