package card

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Identity names a single printed card variant. Two snapshots describe the
// same card only when all three fields match exactly.
type Identity struct {
	Name    string
	SetCode string
	Foil    bool
}

// Key returns a stable map key for the identity.
func (id Identity) Key() string {
	return fmt.Sprintf("%s|%s|%t", id.Name, id.SetCode, id.Foil)
}

// Less orders identities by name, then set code, with non-foil before foil.
func (id Identity) Less(other Identity) bool {
	if id.Name != other.Name {
		return id.Name < other.Name
	}
	if id.SetCode != other.SetCode {
		return id.SetCode < other.SetCode
	}
	return !id.Foil && other.Foil
}

// String renders the identity for logs and tables.
func (id Identity) String() string {
	if id.Foil {
		return fmt.Sprintf("%s (%s, foil)", id.Name, id.SetCode)
	}
	return fmt.Sprintf("%s (%s)", id.Name, id.SetCode)
}

// PriceSnapshot is one observed market price for a card variant.
type PriceSnapshot struct {
	Card       Identity
	Price      decimal.Decimal
	Source     string
	ObservedAt time.Time
}
