package models

import "github.com/shopspring/decimal"

// Course is the read-only projection of a course needed for enrollment.
type Course struct {
	ID        string          `db:"id" json:"id"`
	Title     string          `db:"title" json:"title"`
	Price     decimal.Decimal `db:"price" json:"price"`
	Currency  string          `db:"currency" json:"currency"`
	Published bool            `db:"is_published" json:"is_published"`
	ModuleIDs []string        `db:"-" json:"module_ids"`
}

// IsFree reports whether the course can be enrolled without payment.
func (c Course) IsFree() bool {
	return !c.Price.IsPositive()
}

// AmountMinor converts the price into integer minor units (price * 100).
func (c Course) AmountMinor() int64 {
	return c.Price.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

// HasModule reports whether moduleID belongs to the course.
func (c Course) HasModule(moduleID string) bool {
	for _, id := range c.ModuleIDs {
		if id == moduleID {
			return true
		}
	}
	return false
}
