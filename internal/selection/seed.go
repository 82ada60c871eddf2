package selection

import (
	"hash/fnv"
	"math"

	"github.com/alanyoungcy/drawcore/internal/domain"
)

// Seed derives the non-negative selection seed of a period from its canonical
// key with FNV-1a.
func Seed(ref domain.PeriodRef) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(ref.Key()))
	return int64(h.Sum64() & math.MaxInt64)
}
