package domain

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// NewDrawOrder produces a uniformly-random permutation of 1..CallDomain
// using a Fisher-Yates shuffle with rejection-sampled indices, so every
// permutation is equally likely.
func NewDrawOrder() ([]int, error) {
	order := make([]int, CallDomain)
	for i := range order {
		order[i] = i + 1
	}
	for i := len(order) - 1; i > 0; i-- {
		j, err := uniformInt(i + 1)
		if err != nil {
			return nil, fmt.Errorf("shuffle draw order: %w", err)
		}
		order[i], order[j] = order[j], order[i]
	}
	return order, nil
}

// uniformInt returns an unbiased random integer in [0, n) from crypto/rand.
func uniformInt(n int) (int, error) {
	if n <= 0 {
		return 0, fmt.Errorf("bound must be positive")
	}
	max := ^uint64(0) - ^uint64(0)%uint64(n)
	var buf [8]byte
	for {
		if _, err := rand.Read(buf[:]); err != nil {
			return 0, err
		}
		value := binary.BigEndian.Uint64(buf[:])
		if value < max {
			return int(value % uint64(n)), nil
		}
	}
}

// EncodeDrawOrder renders a permutation as the comma-joined form persisted
// in the shared store.
func EncodeDrawOrder(order []int) string {
	parts := make([]string, len(order))
	for i, value := range order {
		parts[i] = strconv.Itoa(value)
	}
	return strings.Join(parts, ",")
}

// DecodeDrawOrder parses a persisted permutation and validates it covers the
// call domain exactly once.
func DecodeDrawOrder(encoded string) ([]int, error) {
	parts := strings.Split(strings.TrimSpace(encoded), ",")
	if len(parts) != CallDomain {
		return nil, fmt.Errorf("draw order has %d values, want %d", len(parts), CallDomain)
	}
	seen := make(map[int]bool, CallDomain)
	order := make([]int, CallDomain)
	for i, part := range parts {
		value, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("draw order value %q: %w", part, err)
		}
		if value < 1 || value > CallDomain {
			return nil, fmt.Errorf("draw order value %d out of range", value)
		}
		if seen[value] {
			return nil, fmt.Errorf("draw order repeats value %d", value)
		}
		seen[value] = true
		order[i] = value
	}
	return order, nil
}
