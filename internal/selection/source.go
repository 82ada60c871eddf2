package selection

import (
	"crypto/rand"
	"fmt"
	"math/big"
	mrand "math/rand"
	"sync"
)

// Source draws uniform integers in [0, n).
type Source interface {
	Intn(n int) (int, error)
}

// CryptoSource draws from crypto/rand. It is the production source for the
// unprotected paths.
type CryptoSource struct{}

func (CryptoSource) Intn(n int) (int, error) {
	if n <= 0 {
		return 0, fmt.Errorf("selection: draw from empty range %d", n)
	}
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("selection: crypto draw: %w", err)
	}
	return int(v.Int64()), nil
}

// SeededSource is a reproducible source for replays and tests.
type SeededSource struct {
	mu sync.Mutex
	r  *mrand.Rand
}

// NewSeededSource creates a SeededSource.
func NewSeededSource(seed int64) *SeededSource {
	return &SeededSource{r: mrand.New(mrand.NewSource(seed))}
}

func (s *SeededSource) Intn(n int) (int, error) {
	if n <= 0 {
		return 0, fmt.Errorf("selection: draw from empty range %d", n)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.r.Intn(n), nil
}
