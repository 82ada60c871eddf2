package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Outcome is one elementary round result: a digit, a 3-dice tuple, or a
// 5-digit tuple. Only the digits are stored; every attribute is derived.
type Outcome struct {
	digits [5]uint8
	n      uint8
}

// NewOutcome builds an outcome from its digits in position order.
func NewOutcome(digits ...int) Outcome {
	var o Outcome
	for i, d := range digits {
		if i >= len(o.digits) {
			break
		}
		o.digits[i] = uint8(d)
		o.n++
	}
	return o
}

// ParseOutcome parses the String form ("7", "126", "03951").
func ParseOutcome(s string) (Outcome, error) {
	if s == "" || len(s) > 5 {
		return Outcome{}, fmt.Errorf("%w: bad outcome %q", ErrValidation, s)
	}
	digits := make([]int, 0, len(s))
	for _, c := range s {
		if c < '0' || c > '9' {
			return Outcome{}, fmt.Errorf("%w: bad outcome %q", ErrValidation, s)
		}
		digits = append(digits, int(c-'0'))
	}
	return NewOutcome(digits...), nil
}

func (o Outcome) Len() int        { return int(o.n) }
func (o Outcome) Digit(i int) int { return int(o.digits[i]) }
func (o Outcome) IsZero() bool    { return o.n == 0 }

// Digits returns a copy of the digits.
func (o Outcome) Digits() []int {
	out := make([]int, o.n)
	for i := range out {
		out[i] = int(o.digits[i])
	}
	return out
}

func (o Outcome) String() string {
	var b strings.Builder
	for i := 0; i < int(o.n); i++ {
		b.WriteByte('0' + o.digits[i])
	}
	return b.String()
}

func (o Outcome) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.String())
}

func (o *Outcome) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseOutcome(s)
	if err != nil {
		return err
	}
	*o = parsed
	return nil
}
