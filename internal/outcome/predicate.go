// Package outcome defines the outcome space of every game kind: the universe
// of elementary outcomes, the closed set of bet predicates and the mapping from
// a predicate to the outcomes it wins on.
package outcome

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/alanyoungcy/drawcore/internal/domain"
)

// Bet types as they appear on the wire and in ledger keys.
const (
	TypeNumber         = "number"
	TypeColor          = "color"
	TypeSize           = "size"
	TypeParity         = "parity"
	TypePosition       = "position"
	TypePositionSize   = "position_size"
	TypePositionParity = "position_parity"
	TypeSum            = "sum"
	TypeSumSize        = "sum_size"
	TypeSumParity      = "sum_parity"
	TypeTriple         = "triple"
	TypeAnyTriple      = "any_triple"
	TypePair           = "pair"
)

// Predicate is a bet's win condition. The set of implementations is closed.
type Predicate interface {
	// Key is the canonical ledger key, "type:value".
	Key() string
	// Wins reports whether the predicate pays out on o.
	Wins(o domain.Outcome) bool
	sealed()
}

// ExactNumber wins when any digit equals Value.
type ExactNumber struct{ Value int }

// Color wins when the small-space number carries the color.
type Color struct{ Color domain.Color }

// Size wins on the small-space number's size.
type Size struct{ Size domain.Size }

// Parity wins on the small-space number's parity.
type Parity struct{ Parity domain.Parity }

// Position wins when the digit at Pos equals Digit.
type Position struct{ Pos, Digit int }

// PositionSize wins on the size of the digit at Pos.
type PositionSize struct {
	Pos  int
	Size domain.Size
}

// PositionParity wins on the parity of the digit at Pos.
type PositionParity struct {
	Pos    int
	Parity domain.Parity
}

// Sum wins when the digit sum equals Value.
type Sum struct{ Value int }

// SumSize wins on the size of the digit sum.
type SumSize struct{ Size domain.Size }

// SumParity wins on the parity of the digit sum.
type SumParity struct{ Parity domain.Parity }

// Triple wins when all three dice show Value.
type Triple struct{ Value int }

// AnyTriple wins when all three dice match.
type AnyTriple struct{}

// Pair wins when at least two dice show Value.
type Pair struct{ Value int }

func (ExactNumber) sealed()    {}
func (Color) sealed()          {}
func (Size) sealed()           {}
func (Parity) sealed()         {}
func (Position) sealed()       {}
func (PositionSize) sealed()   {}
func (PositionParity) sealed() {}
func (Sum) sealed()            {}
func (SumSize) sealed()        {}
func (SumParity) sealed()      {}
func (Triple) sealed()         {}
func (AnyTriple) sealed()      {}
func (Pair) sealed()           {}

func (p ExactNumber) Key() string {
	return TypeNumber + ":" + strconv.Itoa(p.Value)
}

func (p Color) Key() string {
	return TypeColor + ":" + string(p.Color)
}

func (p Size) Key() string {
	return TypeSize + ":" + string(p.Size)
}

func (p Parity) Key() string {
	return TypeParity + ":" + string(p.Parity)
}

func (p Position) Key() string {
	return TypePosition + ":" + positionName(p.Pos) + strconv.Itoa(p.Digit)
}

func (p PositionSize) Key() string {
	return TypePositionSize + ":" + positionName(p.Pos) + string(p.Size)
}

func (p PositionParity) Key() string {
	return TypePositionParity + ":" + positionName(p.Pos) + string(p.Parity)
}

func (p Sum) Key() string {
	return TypeSum + ":" + strconv.Itoa(p.Value)
}

func (p SumSize) Key() string {
	return TypeSumSize + ":" + string(p.Size)
}

func (p SumParity) Key() string {
	return TypeSumParity + ":" + string(p.Parity)
}

func (p Triple) Key() string {
	return TypeTriple + ":" + strconv.Itoa(p.Value)
}

func (AnyTriple) Key() string {
	return TypeAnyTriple + ":"
}

func (p Pair) Key() string {
	return TypePair + ":" + strconv.Itoa(p.Value)
}

func (p ExactNumber) Wins(o domain.Outcome) bool { return countDigit(o, p.Value) > 0 }

func (p Color) Wins(o domain.Outcome) bool {
	if o.Len() != 1 {
		return false
	}
	for _, c := range domain.ColorsOf(o.Digit(0)) {
		if c == p.Color {
			return true
		}
	}
	return false
}

func (p Size) Wins(o domain.Outcome) bool {
	return o.Len() == 1 && domain.SumSizeOf(1, o.Digit(0)) == p.Size
}

func (p Parity) Wins(o domain.Outcome) bool {
	return o.Len() == 1 && domain.ParityOf(o.Digit(0)) == p.Parity
}

func (p Position) Wins(o domain.Outcome) bool {
	return p.Pos < o.Len() && o.Digit(p.Pos) == p.Digit
}

func (p PositionSize) Wins(o domain.Outcome) bool {
	return p.Pos < o.Len() && domain.DigitSize(o.Digit(p.Pos)) == p.Size
}

func (p PositionParity) Wins(o domain.Outcome) bool {
	return p.Pos < o.Len() && domain.ParityOf(o.Digit(p.Pos)) == p.Parity
}

func (p Sum) Wins(o domain.Outcome) bool { return domain.SumOf(o) == p.Value }

func (p SumSize) Wins(o domain.Outcome) bool {
	return domain.SumSizeOf(o.Len(), domain.SumOf(o)) == p.Size
}

func (p SumParity) Wins(o domain.Outcome) bool {
	return domain.ParityOf(domain.SumOf(o)) == p.Parity
}

func (p Triple) Wins(o domain.Outcome) bool { return o.Len() == 3 && countDigit(o, p.Value) == 3 }

func (AnyTriple) Wins(o domain.Outcome) bool {
	return o.Len() == 3 && o.Digit(0) == o.Digit(1) && o.Digit(1) == o.Digit(2)
}

func (p Pair) Wins(o domain.Outcome) bool { return o.Len() == 3 && countDigit(o, p.Value) >= 2 }

func countDigit(o domain.Outcome, d int) int {
	n := 0
	for i := 0; i < o.Len(); i++ {
		if o.Digit(i) == d {
			n++
		}
	}
	return n
}

const positionNames = "ABCDE"

func positionName(pos int) string {
	if pos < 0 || pos >= len(positionNames) {
		return "?"
	}
	return positionNames[pos : pos+1]
}

// ParseKey reverses Predicate.Key.
func ParseKey(key string) (Predicate, error) {
	betType, betValue, ok := strings.Cut(key, ":")
	if !ok {
		return nil, fmt.Errorf("%w: bad predicate key %q", domain.ErrValidation, key)
	}
	return parse(betType, betValue)
}

// ParsePredicate converts a wire (betType, betValue) pair into a predicate and
// checks that it applies to kind's outcome space.
func ParsePredicate(kind domain.GameKind, betType, betValue string) (Predicate, error) {
	p, err := parse(strings.ToLower(strings.TrimSpace(betType)), strings.TrimSpace(betValue))
	if err != nil {
		return nil, err
	}
	if err := validate(kind, p); err != nil {
		return nil, err
	}
	return p, nil
}

func parse(betType, betValue string) (Predicate, error) {
	bad := func() (Predicate, error) {
		return nil, fmt.Errorf("%w: bad %s value %q", domain.ErrValidation, betType, betValue)
	}
	v := strings.ToLower(betValue)

	switch betType {
	case TypeNumber, TypeSum, TypeTriple, TypePair:
		n, err := strconv.Atoi(v)
		if err != nil {
			return bad()
		}
		switch betType {
		case TypeNumber:
			return ExactNumber{Value: n}, nil
		case TypeSum:
			return Sum{Value: n}, nil
		case TypeTriple:
			return Triple{Value: n}, nil
		default:
			return Pair{Value: n}, nil
		}
	case TypeColor:
		switch c := domain.Color(v); c {
		case domain.ColorRed, domain.ColorGreen, domain.ColorViolet:
			return Color{Color: c}, nil
		}
		return bad()
	case TypeSize, TypeSumSize:
		s, ok := parseSize(v)
		if !ok {
			return bad()
		}
		if betType == TypeSize {
			return Size{Size: s}, nil
		}
		return SumSize{Size: s}, nil
	case TypeParity, TypeSumParity:
		p, ok := parseParity(v)
		if !ok {
			return bad()
		}
		if betType == TypeParity {
			return Parity{Parity: p}, nil
		}
		return SumParity{Parity: p}, nil
	case TypePosition, TypePositionSize, TypePositionParity:
		pos, rest, ok := parsePosition(betValue)
		if !ok {
			return bad()
		}
		switch betType {
		case TypePosition:
			d, err := strconv.Atoi(rest)
			if err != nil {
				return bad()
			}
			return Position{Pos: pos, Digit: d}, nil
		case TypePositionSize:
			s, ok := parseSize(rest)
			if !ok {
				return bad()
			}
			return PositionSize{Pos: pos, Size: s}, nil
		default:
			p, ok := parseParity(rest)
			if !ok {
				return bad()
			}
			return PositionParity{Pos: pos, Parity: p}, nil
		}
	case TypeAnyTriple:
		return AnyTriple{}, nil
	}
	return nil, fmt.Errorf("%w: unknown bet type %q", domain.ErrValidation, betType)
}

func parseSize(v string) (domain.Size, bool) {
	switch s := domain.Size(v); s {
	case domain.SizeBig, domain.SizeSmall:
		return s, true
	}
	return "", false
}

func parseParity(v string) (domain.Parity, bool) {
	switch p := domain.Parity(v); p {
	case domain.ParityOdd, domain.ParityEven:
		return p, true
	}
	return "", false
}

// parsePosition accepts "A5", "a:5" and "A:big" style values.
func parsePosition(v string) (int, string, bool) {
	if v == "" {
		return 0, "", false
	}
	pos := strings.IndexByte(positionNames, strings.ToUpper(v[:1])[0])
	if pos < 0 {
		return 0, "", false
	}
	rest := strings.ToLower(strings.TrimPrefix(v[1:], ":"))
	return pos, rest, rest != ""
}

func validate(kind domain.GameKind, p Predicate) error {
	bad := func(why string) error {
		return fmt.Errorf("%w: predicate %s %s for %s", domain.ErrValidation, p.Key(), why, kind)
	}
	inRange := func(v, lo, hi int) error {
		if v < lo || v > hi {
			return bad(fmt.Sprintf("out of range [%d,%d]", lo, hi))
		}
		return nil
	}

	switch kind {
	case domain.GameSmallDiscrete:
		switch q := p.(type) {
		case ExactNumber:
			return inRange(q.Value, 0, 9)
		case Color, Size, Parity:
			return nil
		}
	case domain.GameTripleDice:
		switch q := p.(type) {
		case ExactNumber:
			return inRange(q.Value, 1, 6)
		case Sum:
			return inRange(q.Value, 3, 18)
		case Triple:
			return inRange(q.Value, 1, 6)
		case Pair:
			return inRange(q.Value, 1, 6)
		case SumSize, SumParity, AnyTriple:
			return nil
		}
	case domain.GameCombinatorial5:
		switch q := p.(type) {
		case Position:
			if err := inRange(q.Pos, 0, 4); err != nil {
				return err
			}
			return inRange(q.Digit, 0, 9)
		case PositionSize:
			return inRange(q.Pos, 0, 4)
		case PositionParity:
			return inRange(q.Pos, 0, 4)
		case Sum:
			return inRange(q.Value, 0, 45)
		case SumSize, SumParity:
			return nil
		}
	default:
		return fmt.Errorf("%w: unknown game kind %q", domain.ErrValidation, kind)
	}
	return bad("not offered")
}
