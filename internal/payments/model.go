package payments

import (
	"time"

	"github.com/MarcoPoloResearchLab/memorial/backend/internal/money"
)

// Kind classifies a ledger entry.
type Kind string

const (
	// KindPhotoExtension debits the one-time archive extension.
	KindPhotoExtension Kind = "photo_extension"
	// KindTopUp credits a prepaid balance.
	KindTopUp Kind = "top_up"
)

// Transaction is one immutable balance movement. Debits carry negative amounts.
type Transaction struct {
	ID                uint      `gorm:"column:id;primaryKey"`
	UUID              string    `gorm:"column:uuid;size:36;uniqueIndex;not null"`
	UserID            uint      `gorm:"column:user_id;not null;index"`
	MemoryID          *uint     `gorm:"column:memory_id;index"`
	Kind              Kind      `gorm:"column:kind;size:32;not null"`
	AmountCents       int64     `gorm:"column:amount_cents;not null"`
	BalanceAfterCents int64     `gorm:"column:balance_after_cents;not null"`
	Note              string    `gorm:"column:note;size:255"`
	CreatedAt         time.Time `gorm:"column:created_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Transaction) TableName() string {
	return "payment_transactions"
}

// Amount returns the signed amount of the entry.
func (t Transaction) Amount() money.Amount {
	return money.Amount(t.AmountCents)
}

// BalanceAfter returns the owner's balance after the entry.
func (t Transaction) BalanceAfter() money.Amount {
	return money.Amount(t.BalanceAfterCents)
}
