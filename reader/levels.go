package reader

import (
	"fmt"
	"strconv"

	"arbflow/models"
)

// ParseLevels converts [price, quantity, ...] string pairs as most venues
// return them. Extra columns are ignored.
func ParseLevels(raw [][]string) ([]models.PriceLevel, error) {
	levels := make([]models.PriceLevel, 0, len(raw))
	for i, entry := range raw {
		if len(entry) < 2 {
			return nil, fmt.Errorf("level %d: expected price and quantity, got %d fields", i, len(entry))
		}
		level, err := ParseLevel(entry[0], entry[1])
		if err != nil {
			return nil, fmt.Errorf("level %d: %w", i, err)
		}
		levels = append(levels, level)
	}
	return levels, nil
}

func ParseLevel(price, quantity string) (models.PriceLevel, error) {
	p, err := strconv.ParseFloat(price, 64)
	if err != nil {
		return models.PriceLevel{}, fmt.Errorf("invalid price %q: %w", price, err)
	}
	q, err := strconv.ParseFloat(quantity, 64)
	if err != nil {
		return models.PriceLevel{}, fmt.Errorf("invalid quantity %q: %w", quantity, err)
	}
	return models.PriceLevel{Price: p, Quantity: q}, nil
}
