package market

import (
	"sort"

	"market-relay/src/models"

	"github.com/goccy/go-json"
)

// -----------------------------------------------------------------------------
// OrderBookReconstructor
// -----------------------------------------------------------------------------

// BookUpdate is one decoded order book message. A nil side was absent from the
// message and is left untouched.
type BookUpdate struct {
	Snapshot bool
	Bids     []models.MPriceLevel
	Asks     []models.MPriceLevel
}

// OrderBookReconstructor keeps a bounded, sorted book: bids descending, asks
// ascending, no zero-size levels. It is not safe for concurrent use; the
// normalizer serializes access.
type OrderBookReconstructor struct {
	depth int
	bids  []models.MPriceLevel
	asks  []models.MPriceLevel
}

// -----------------------------------------------------------------------------

func NewOrderBookReconstructor(depth int) *OrderBookReconstructor {
	if depth <= 0 {
		depth = 20
	}
	return &OrderBookReconstructor{
		depth: depth,
		bids:  []models.MPriceLevel{},
		asks:  []models.MPriceLevel{},
	}
}

// -----------------------------------------------------------------------------

// Apply merges the update and returns a copy of the book. ok is false when both
// sides are empty afterwards; that state is not broadcast.
func (b *OrderBookReconstructor) Apply(u BookUpdate) (models.MOrderBook, bool) {
	if u.Bids != nil {
		b.bids = b.applySide(b.bids, u.Bids, u.Snapshot, true)
	}
	if u.Asks != nil {
		b.asks = b.applySide(b.asks, u.Asks, u.Snapshot, false)
	}

	book := b.Book()
	return book, len(book.Bids) > 0 || len(book.Asks) > 0
}

// -----------------------------------------------------------------------------

// Book returns a copy of both sides.
func (b *OrderBookReconstructor) Book() models.MOrderBook {
	return models.MOrderBook{
		Bids: append([]models.MPriceLevel{}, b.bids...),
		Asks: append([]models.MPriceLevel{}, b.asks...),
	}
}

// -----------------------------------------------------------------------------

func (b *OrderBookReconstructor) applySide(current, levels []models.MPriceLevel, snapshot, descending bool) []models.MPriceLevel {
	if snapshot {
		current = nil
	}

	sizes := make(map[float64]float64, len(current)+len(levels))
	for _, l := range current {
		sizes[l.Price()] = l.Size()
	}
	for _, l := range levels {
		if l.Size() == 0 {
			delete(sizes, l.Price())
		} else {
			sizes[l.Price()] = l.Size()
		}
	}

	merged := make([]models.MPriceLevel, 0, len(sizes))
	for p, s := range sizes {
		merged = append(merged, models.MPriceLevel{p, s})
	}

	sort.Slice(merged, func(i, j int) bool {
		if descending {
			return merged[i].Price() > merged[j].Price()
		}
		return merged[i].Price() < merged[j].Price()
	})

	if len(merged) > b.depth {
		merged = merged[:b.depth]
	}
	return merged
}

// -----------------------------------------------------------------------------

type rawLevel []json.RawMessage

// decodeLevels turns [["100.5","1.2"], ...] into price levels. Malformed pairs
// are skipped.
func decodeLevels(raw []rawLevel) []models.MPriceLevel {
	out := make([]models.MPriceLevel, 0, len(raw))
	for _, pair := range raw {
		if len(pair) < 2 {
			continue
		}
		p, okP := parseNumber(pair[0])
		s, okS := parseNumber(pair[1])
		if !okP || !okS || p <= 0 || s < 0 {
			continue
		}
		out = append(out, models.MPriceLevel{p, s})
	}
	return out
}
