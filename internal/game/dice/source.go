package dice

import (
	crand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"
	"sync"
)

// lockedSource serialises one math/rand/v2 generator so a single Source can
// be shared by the mutator loop and the daily cycle.
type lockedSource struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// Intn returns a pseudo-random int in [0, n).
//
// Precondition: n > 0. Panics with "dice: Intn called with n <= 0" if n <= 0.
func (s *lockedSource) Intn(n int) int {
	if n <= 0 {
		panic("dice: Intn called with n <= 0")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.IntN(n)
}

// NewCryptoSource returns a Source keyed from crypto/rand. It is the production
// source whenever no economy seed is configured.
//
// Panics with "dice: crypto/rand failure: <err>" if the key cannot be read.
func NewCryptoSource() Source {
	var key [32]byte
	if _, err := crand.Read(key[:]); err != nil {
		panic("dice: crypto/rand failure: " + err.Error())
	}
	return &lockedSource{rng: rand.New(rand.NewChaCha8(key))}
}

// NewSeededSource returns a Source whose sequence is fully determined by seed.
//
// Postcondition: two sources built from the same seed yield the same sequence.
func NewSeededSource(seed int64) Source {
	var key [32]byte
	binary.LittleEndian.PutUint64(key[:], uint64(seed))
	return &lockedSource{rng: rand.New(rand.NewChaCha8(key))}
}
