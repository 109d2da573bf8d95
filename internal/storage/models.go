package storage

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/QuinnsCode/mtg-spectr-sub001/internal/card"
)

// AlertRecord captures a dispatched alert for auditing.
type AlertRecord struct {
	ID             int64
	Card           card.Identity
	PriceStart     decimal.Decimal
	PriceCurrent   decimal.Decimal
	PercentChange  decimal.Decimal
	AbsoluteChange decimal.Decimal
	Score          int
	Priority       string
	Channels       []string
	DetectedAt     time.Time
	CreatedAt      time.Time
}

// Counts summarises stored history for the stats command.
type Counts struct {
	Snapshots      int64
	Cards          int64
	Alerts         int64
	OldestSnapshot time.Time
	NewestSnapshot time.Time
}
