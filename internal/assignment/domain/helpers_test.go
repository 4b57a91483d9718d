package domain

import (
	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

func decimalFromInt(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

func snowflakePtr(v int64) *snowflake.ID {
	id := snowflake.ID(v)
	return &id
}
