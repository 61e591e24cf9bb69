// Package catalog содержит статический каталог вознаграждений.
//
// Каталог — конфигурация процесса, а не пользовательские данные: он
// загружается при старте и далее доступен только на чтение.
package catalog

import (
	"errors"
	"sort"

	"github.com/smokeeat/loyalty-system/internal/model"
)

// ErrTierNotFound возвращается для неизвестного кода вознаграждения.
var ErrTierNotFound = errors.New("reward tier not found")

// Catalog предоставляет доступ к позициям каталога по коду.
type Catalog struct {
	byCode map[string]model.RewardTier
	sorted []model.RewardTier
}

// New создаёт каталог из набора позиций. Позиции с пустым кодом или
// неположительной стоимостью отбрасываются как некорректная конфигурация.
func New(tiers []model.RewardTier) (*Catalog, error) {
	byCode := make(map[string]model.RewardTier, len(tiers))
	for _, tier := range tiers {
		if tier.Code == "" || tier.CostPoints <= 0 {
			return nil, errors.New("catalog tier must have a code and positive cost")
		}
		if _, exists := byCode[tier.Code]; exists {
			return nil, errors.New("duplicate catalog tier code: " + tier.Code)
		}
		byCode[tier.Code] = tier
	}

	sorted := make([]model.RewardTier, 0, len(byCode))
	for _, tier := range byCode {
		sorted = append(sorted, tier)
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Priority != sorted[j].Priority {
			return sorted[i].Priority < sorted[j].Priority
		}
		return sorted[i].Code < sorted[j].Code
	})

	return &Catalog{byCode: byCode, sorted: sorted}, nil
}

// Default возвращает каталог со штатным набором вознаграждений.
func Default() *Catalog {
	c, err := New([]model.RewardTier{
		{Code: "DRINK", Name: "Bebida", Description: "Any regular drink", CostPoints: 250, Priority: 1},
		{Code: "SIDE", Name: "Acompañamiento", Description: "Fries or onion rings", CostPoints: 400, Priority: 2},
		{Code: "BURGER", Name: "Hamburguesa clásica", Description: "Classic burger", CostPoints: 1200, Priority: 3},
		{Code: "COMBO", Name: "Combo completo", Description: "Burger, side and drink", CostPoints: 2000, Priority: 4},
		{Code: "ANY_COMBO_PLUS_SIDE", Name: "Combo + extra", Description: "Any combo plus an extra side", CostPoints: 2600, Priority: 5},
	})
	if err != nil {
		panic(err)
	}
	return c
}

// Get возвращает позицию каталога по её коду.
func (c *Catalog) Get(code string) (model.RewardTier, error) {
	tier, ok := c.byCode[code]
	if !ok {
		return model.RewardTier{}, ErrTierNotFound
	}
	return tier, nil
}

// List возвращает все позиции каталога в порядке приоритета.
func (c *Catalog) List() []model.RewardTier {
	out := make([]model.RewardTier, len(c.sorted))
	copy(out, c.sorted)
	return out
}
