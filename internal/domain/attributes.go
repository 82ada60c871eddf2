package domain

import (
	"fmt"
	"slices"
)

// Size is the big/small classification of a number or sum.
type Size string

const (
	SizeSmall Size = "small"
	SizeBig   Size = "big"
)

// Parity is the odd/even classification of a number or sum.
type Parity string

const (
	ParityOdd  Parity = "odd"
	ParityEven Parity = "even"
)

// Color is the small-space color grouping.
type Color string

const (
	ColorRed    Color = "red"
	ColorGreen  Color = "green"
	ColorViolet Color = "violet"
)

// PositionAttr describes one digit of a Combinatorial5 outcome.
type PositionAttr struct {
	Digit  int    `json:"digit"`
	Size   Size   `json:"size"`
	Parity Parity `json:"parity"`
}

// Attributes are the derived properties of an outcome. They are never stored
// independently of the digits they came from.
type Attributes struct {
	Sum       int            `json:"sum"`
	SumSize   Size           `json:"sum_size"`
	SumParity Parity         `json:"sum_parity"`
	Colors    []Color        `json:"colors,omitempty"`
	Positions []PositionAttr `json:"positions,omitempty"`
}

// bigSumFrom maps digit count to the lowest "big" sum.
var bigSumFrom = map[int]int{1: 5, 3: 11, 5: 23}

// SumSizeOf classifies a sum for an outcome with n digits.
func SumSizeOf(n, sum int) Size {
	if sum >= bigSumFrom[n] {
		return SizeBig
	}
	return SizeSmall
}

// DigitSize classifies a single 0-9 digit.
func DigitSize(d int) Size {
	if d >= 5 {
		return SizeBig
	}
	return SizeSmall
}

// ParityOf classifies any integer.
func ParityOf(v int) Parity {
	if v%2 == 0 {
		return ParityEven
	}
	return ParityOdd
}

// ColorsOf returns the colors a single small-space number carries.
func ColorsOf(n int) []Color {
	var out []Color
	if n%2 == 0 {
		out = append(out, ColorRed)
	} else {
		out = append(out, ColorGreen)
	}
	if n == 0 || n == 5 {
		out = append(out, ColorViolet)
	}
	return out
}

// SumOf adds the outcome's digits.
func SumOf(o Outcome) int {
	sum := 0
	for i := 0; i < o.Len(); i++ {
		sum += o.Digit(i)
	}
	return sum
}

// AttributesOf recomputes every derived property from the digits.
func AttributesOf(o Outcome) Attributes {
	sum := SumOf(o)
	a := Attributes{
		Sum:       sum,
		SumSize:   SumSizeOf(o.Len(), sum),
		SumParity: ParityOf(sum),
	}
	switch o.Len() {
	case 1:
		a.Colors = ColorsOf(o.Digit(0))
	case 5:
		a.Positions = make([]PositionAttr, 5)
		for i := range a.Positions {
			d := o.Digit(i)
			a.Positions[i] = PositionAttr{Digit: d, Size: DigitSize(d), Parity: ParityOf(d)}
		}
	}
	return a
}

// Equal reports whether two attribute sets are identical.
func (a Attributes) Equal(b Attributes) bool {
	return a.Sum == b.Sum &&
		a.SumSize == b.SumSize &&
		a.SumParity == b.SumParity &&
		slices.Equal(a.Colors, b.Colors) &&
		slices.Equal(a.Positions, b.Positions)
}

// CheckOutcome verifies that o is a member of kind's universe.
func CheckOutcome(kind GameKind, o Outcome) error {
	if o.Len() != kind.Digits() {
		return fmt.Errorf("%w: outcome %q has %d digits, %s needs %d", ErrValidation, o, o.Len(), kind, kind.Digits())
	}
	lo, hi := 0, 9
	if kind == GameTripleDice {
		lo, hi = 1, 6
	}
	for i := 0; i < o.Len(); i++ {
		if d := o.Digit(i); d < lo || d > hi {
			return fmt.Errorf("%w: outcome %q digit %d out of range", ErrValidation, o, d)
		}
	}
	return nil
}
