package postgres

import (
	"database/sql"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	return lo.ToPtr(v.String)
}

func nullInt32(v sql.NullInt32) *int32 {
	if !v.Valid {
		return nil
	}
	return lo.ToPtr(v.Int32)
}

func nullInt16(v sql.NullInt16) *int16 {
	if !v.Valid {
		return nil
	}
	return lo.ToPtr(v.Int16)
}

func nullTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	return lo.ToPtr(v.Time.UTC())
}

func nullDecimal(v decimal.NullDecimal) *decimal.Decimal {
	if !v.Valid {
		return nil
	}
	return lo.ToPtr(v.Decimal)
}

// decimalArg binds an optional decimal as a driver value.
func decimalArg(v *decimal.Decimal) decimal.NullDecimal {
	if v == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *v, Valid: true}
}
