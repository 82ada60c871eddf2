package outcome

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/bits-and-blooms/bitset"

	"github.com/alanyoungcy/drawcore/internal/domain"
)

// Combinatorial5Size is the number of 5-digit outcomes.
const Combinatorial5Size = 100_000

const tablePositions = 5

// Row is one precomputed entry of the combinations table.
type Row struct {
	Digits    [tablePositions]uint8
	Sum       int
	SumSize   domain.Size
	SumParity domain.Parity
}

// Outcome returns the row's outcome.
func (r Row) Outcome() domain.Outcome {
	return domain.NewOutcome(int(r.Digits[0]), int(r.Digits[1]), int(r.Digits[2]), int(r.Digits[3]), int(r.Digits[4]))
}

// check verifies the precomputed columns against the digits.
func (r Row) check() error {
	o := r.Outcome()
	a := domain.AttributesOf(o)
	if a.Sum != r.Sum || a.SumSize != r.SumSize || a.SumParity != r.SumParity {
		return fmt.Errorf("%w: table row %s has sum=%d size=%s parity=%s, digits give %d/%s/%s",
			domain.ErrInvariantViolation, o, r.Sum, r.SumSize, r.SumParity, a.Sum, a.SumSize, a.SumParity)
	}
	return nil
}

// Table is the read-only Combinatorial5 universe in canonical order (row i is
// the outcome whose digits spell i). Winning sets for every predicate are
// indexed at load time so lookups never scan the universe.
type Table struct {
	rows  []Row
	index map[string]*bitset.BitSet
}

// GenerateTable enumerates the universe in-process.
func GenerateTable() *Table {
	rows := make([]Row, Combinatorial5Size)
	for i := range rows {
		var r Row
		v := i
		for p := tablePositions - 1; p >= 0; p-- {
			r.Digits[p] = uint8(v % 10)
			v /= 10
		}
		a := domain.AttributesOf(r.Outcome())
		r.Sum, r.SumSize, r.SumParity = a.Sum, a.SumSize, a.SumParity
		rows[i] = r
	}
	return newTable(rows)
}

// ReadTable parses a CSV table with columns digits,sum,size,parity. Rows may
// appear in any order but every outcome must appear exactly once.
func ReadTable(r io.Reader) (*Table, error) {
	cr := csv.NewReader(bufio.NewReader(r))
	cr.FieldsPerRecord = 4
	cr.ReuseRecord = true

	rows := make([]Row, Combinatorial5Size)
	seen := bitset.New(Combinatorial5Size)
	line := 0
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("outcome: read table: %w", err)
		}
		line++
		if line == 1 && strings.EqualFold(rec[0], "digits") {
			continue
		}

		row, idx, err := parseRow(rec)
		if err != nil {
			return nil, fmt.Errorf("outcome: table line %d: %w", line, err)
		}
		if seen.Test(uint(idx)) {
			return nil, fmt.Errorf("outcome: table line %d: duplicate outcome %s", line, rec[0])
		}
		seen.Set(uint(idx))
		rows[idx] = row
	}

	if n := seen.Count(); n != Combinatorial5Size {
		return nil, fmt.Errorf("outcome: table has %d distinct outcomes, want %d", n, Combinatorial5Size)
	}
	return newTable(rows), nil
}

func parseRow(rec []string) (Row, int, error) {
	var r Row
	digits := strings.TrimSpace(rec[0])
	if len(digits) != tablePositions {
		return r, 0, fmt.Errorf("bad digits %q", digits)
	}
	idx := 0
	for i := 0; i < tablePositions; i++ {
		c := digits[i]
		if c < '0' || c > '9' {
			return r, 0, fmt.Errorf("bad digits %q", digits)
		}
		r.Digits[i] = c - '0'
		idx = idx*10 + int(c-'0')
	}
	sum, err := strconv.Atoi(strings.TrimSpace(rec[1]))
	if err != nil {
		return r, 0, fmt.Errorf("bad sum %q", rec[1])
	}
	r.Sum = sum
	r.SumSize = domain.Size(strings.TrimSpace(rec[2]))
	r.SumParity = domain.Parity(strings.TrimSpace(rec[3]))
	if err := r.check(); err != nil {
		return r, 0, err
	}
	return r, idx, nil
}

// newTable indexes rows that are already known to be complete and consistent.
func newTable(rows []Row) *Table {
	t := &Table{rows: rows, index: make(map[string]*bitset.BitSet, 128)}
	set := func(key string, i int) {
		bs, ok := t.index[key]
		if !ok {
			bs = bitset.New(Combinatorial5Size)
			t.index[key] = bs
		}
		bs.Set(uint(i))
	}
	for i, r := range rows {
		for p := 0; p < tablePositions; p++ {
			d := int(r.Digits[p])
			set(Position{Pos: p, Digit: d}.Key(), i)
			set(PositionSize{Pos: p, Size: domain.DigitSize(d)}.Key(), i)
			set(PositionParity{Pos: p, Parity: domain.ParityOf(d)}.Key(), i)
		}
		set(Sum{Value: r.Sum}.Key(), i)
		set(SumSize{Size: r.SumSize}.Key(), i)
		set(SumParity{Parity: r.SumParity}.Key(), i)
	}
	return t
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.rows) }

// Row returns row i.
func (t *Table) Row(i int) Row { return t.rows[i] }

// WinningSet returns the indexed set for p. The returned set is shared and
// must not be modified. A valid predicate with no winners yields an empty set.
func (t *Table) WinningSet(p Predicate) *bitset.BitSet {
	if bs, ok := t.index[p.Key()]; ok {
		return bs
	}
	return bitset.New(Combinatorial5Size)
}

// WriteCSV writes the table in the format ReadTable accepts.
func (t *Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"digits", "sum", "size", "parity"}); err != nil {
		return fmt.Errorf("outcome: write table header: %w", err)
	}
	rec := make([]string, 4)
	for _, r := range t.rows {
		rec[0] = r.Outcome().String()
		rec[1] = strconv.Itoa(r.Sum)
		rec[2] = string(r.SumSize)
		rec[3] = string(r.SumParity)
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("outcome: write table row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
