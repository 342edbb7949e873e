package market

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"

	"market-relay/src/models"
)

func lv(p, s float64) models.MPriceLevel { return models.MPriceLevel{p, s} }

func TestSnapshotThenDeltaRemovesLevel(t *testing.T) {
	b := NewOrderBookReconstructor(20)

	_, ok := b.Apply(BookUpdate{
		Snapshot: true,
		Bids:     []models.MPriceLevel{lv(100, 1), lv(99, 2)},
		Asks:     []models.MPriceLevel{lv(101, 1)},
	})
	assert.True(t, ok)

	book, ok := b.Apply(BookUpdate{Bids: []models.MPriceLevel{lv(100, 0)}})
	assert.True(t, ok)
	assert.Equal(t, []models.MPriceLevel{lv(99, 2)}, book.Bids)
	assert.Equal(t, []models.MPriceLevel{lv(101, 1)}, book.Asks)
}

func TestDeltaIsIdempotent(t *testing.T) {
	seed := BookUpdate{
		Snapshot: true,
		Bids:     []models.MPriceLevel{lv(100, 1), lv(99, 2), lv(98, 3)},
		Asks:     []models.MPriceLevel{lv(101, 1), lv(102, 4)},
	}
	delta := BookUpdate{
		Bids: []models.MPriceLevel{lv(99, 0), lv(97.5, 5), lv(100, 1.5)},
		Asks: []models.MPriceLevel{lv(101, 0), lv(103, 2)},
	}

	once := NewOrderBookReconstructor(20)
	once.Apply(seed)
	want, _ := once.Apply(delta)

	twice := NewOrderBookReconstructor(20)
	twice.Apply(seed)
	twice.Apply(delta)
	got, _ := twice.Apply(delta)

	assert.Equal(t, want, got)
}

func TestDeltaInsertsUnknownPrice(t *testing.T) {
	b := NewOrderBookReconstructor(20)
	book, ok := b.Apply(BookUpdate{Asks: []models.MPriceLevel{lv(105, 1)}})
	assert.True(t, ok)
	assert.Equal(t, []models.MPriceLevel{lv(105, 1)}, book.Asks)
	assert.Empty(t, book.Bids)
}

func TestOneSidedUpdateLeavesOtherSide(t *testing.T) {
	b := NewOrderBookReconstructor(20)
	b.Apply(BookUpdate{Snapshot: true, Bids: []models.MPriceLevel{lv(10, 1)}, Asks: []models.MPriceLevel{lv(11, 1)}})

	book, _ := b.Apply(BookUpdate{Snapshot: true, Asks: []models.MPriceLevel{lv(12, 3)}})
	assert.Equal(t, []models.MPriceLevel{lv(10, 1)}, book.Bids)
	assert.Equal(t, []models.MPriceLevel{lv(12, 3)}, book.Asks)
}

func TestClearingBothSidesIsNotEmitted(t *testing.T) {
	b := NewOrderBookReconstructor(20)
	b.Apply(BookUpdate{Snapshot: true, Bids: []models.MPriceLevel{lv(10, 1)}, Asks: []models.MPriceLevel{lv(11, 1)}})

	_, ok := b.Apply(BookUpdate{Bids: []models.MPriceLevel{lv(10, 0)}, Asks: []models.MPriceLevel{lv(11, 0)}})
	assert.False(t, ok)
}

func TestSnapshotDropsZeroSizeLevels(t *testing.T) {
	b := NewOrderBookReconstructor(20)
	book, _ := b.Apply(BookUpdate{Snapshot: true, Bids: []models.MPriceLevel{lv(10, 0), lv(9, 1)}})
	assert.Equal(t, []models.MPriceLevel{lv(9, 1)}, book.Bids)
}

func TestDepthAndOrderingInvariant(t *testing.T) {
	const depth = 5
	r := rand.New(rand.NewSource(42))
	b := NewOrderBookReconstructor(depth)

	randomSide := func(base float64, n int) []models.MPriceLevel {
		out := make([]models.MPriceLevel, n)
		for i := range out {
			size := float64(r.Intn(4))
			out[i] = lv(base+float64(r.Intn(30)), size)
		}
		return out
	}

	for i := 0; i < 200; i++ {
		book, _ := b.Apply(BookUpdate{
			Snapshot: i%25 == 0,
			Bids:     randomSide(100, 1+r.Intn(10)),
			Asks:     randomSide(130, 1+r.Intn(10)),
		})

		assert.LessOrEqual(t, len(book.Bids), depth)
		assert.LessOrEqual(t, len(book.Asks), depth)
		assert.True(t, sort.SliceIsSorted(book.Bids, func(i, j int) bool { return book.Bids[i].Price() > book.Bids[j].Price() }))
		assert.True(t, sort.SliceIsSorted(book.Asks, func(i, j int) bool { return book.Asks[i].Price() < book.Asks[j].Price() }))
		for _, l := range append(book.Bids, book.Asks...) {
			assert.NotZero(t, l.Size())
		}
	}
}
