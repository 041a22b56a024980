package routing

import (
	"fmt"
	"math/bits"
)

// SuffixBits decodes the implicit-leading-bit shard id encoding. The decimal
// id is read as an unsigned integer whose highest set bit marks the suffix
// length: id=1 has zero suffix bits (catch-all), id=2 and id=3 split the
// space on the lowest request-id bit, ids 4..7 on the lowest two bits, and
// so on. The returned suffix holds the low `length` bits of the id.
func SuffixBits(id uint64) (length int, suffix uint64, err error) {
	if id == 0 {
		return 0, 0, fmt.Errorf("shard id must be positive")
	}
	length = bits.Len64(id) - 1
	suffix = id &^ (1 << uint(length))
	return length, suffix, nil
}
