package detector

import (
	"context"
	"image"
	"math/rand/v2"
	"sync"
)

// Fake stands in for a real classifier. With Fixed set it always gives
// that answer, otherwise it flips a coin.
type Fake struct {
	Fixed *bool

	mu  sync.Mutex
	rng *rand.Rand
}

func NewFake(seed uint64) *Fake {
	return &Fake{rng: rand.New(rand.NewPCG(seed, seed))}
}

func NewFixed(answer bool) *Fake {
	return &Fake{Fixed: &answer}
}

func (f *Fake) ImageContainsCat(_ context.Context, _ image.Image, _ float32) (bool, error) {
	if f.Fixed != nil {
		return *f.Fixed, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rng == nil {
		return rand.IntN(2) == 1, nil
	}
	return f.rng.IntN(2) == 1, nil
}
