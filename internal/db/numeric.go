package db

import (
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
)

// Numeric encodes d exactly as a PostgreSQL numeric.
func Numeric(d decimal.Decimal) pgtype.Numeric {
	return pgtype.Numeric{Int: d.Coefficient(), Exp: d.Exponent(), Valid: true}
}

// ParseDecimal parses a numeric column read as text. Empty input is zero,
// which is how the store reads NULL amounts.
func ParseDecimal(column, s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, eris.Wrapf(err, "db: parse numeric column %s", column)
	}
	return d, nil
}
