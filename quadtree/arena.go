package quadtree

import (
	"github.com/aukilabs/go-tooling/pkg/errors"
)

// slot is implemented by arena records. A released record keeps the index of
// the next free record in its own storage.
type slot interface {
	freeNext() uint32
	setFreeNext(uint32)
}

// arena is a growable array of records with an intrusive free list. Index 0
// is reserved and never handed out so that a zero index can be used as a null
// reference by every record kind.
type arena[I ~uint32, R any, P interface {
	*R
	slot
}] struct {
	records []R
	free    I
	used    int
}

func newArena[I ~uint32, R any, P interface {
	*R
	slot
}](capacity int) arena[I, R, P] {
	a := arena[I, R, P]{
		records: make([]R, 1, nextPowerOfTwo(capacity+1)),
	}
	return a
}

// acquire returns the index of a zeroed record. Pointers returned by at
// before the call must not be used after it.
func (a *arena[I, R, P]) acquire() I {
	var zero R

	if a.free != 0 {
		idx := a.free
		a.free = I(P(&a.records[idx]).freeNext())
		a.records[idx] = zero
		a.used++
		return idx
	}

	if len(a.records) == cap(a.records) {
		records := make([]R, len(a.records), nextPowerOfTwo(len(a.records)+1))
		copy(records, a.records)
		a.records = records
	}

	a.records = append(a.records, zero)
	a.used++
	return I(len(a.records) - 1)
}

// release puts the record back on the free list.
func (a *arena[I, R, P]) release(idx I) {
	if idx == 0 || int(idx) >= len(a.records) {
		panic(errors.New("releasing an invalid arena index").
			WithType(ErrTypeInvalidIndex).
			WithTag("index", idx).
			WithTag("bound", len(a.records)))
	}

	var zero R
	a.records[idx] = zero
	P(&a.records[idx]).setFreeNext(uint32(a.free))
	a.free = idx
	a.used--
}

func (a *arena[I, R, P]) at(idx I) *R {
	return &a.records[idx]
}

// bound returns the exclusive upper bound of issued indices.
func (a *arena[I, R, P]) bound() int {
	return len(a.records)
}

// len returns the number of records in use.
func (a *arena[I, R, P]) len() int {
	return a.used
}

// reset drops every record and the free list, keeping the storage.
func (a *arena[I, R, P]) reset() {
	clear(a.records)
	a.records = a.records[:1]
	a.free = 0
	a.used = 0
}

func nextPowerOfTwo(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
