// Package payments debits prepaid balances for paid memory features.
package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/memorial/backend/internal/memories"
	"github.com/MarcoPoloResearchLab/memorial/backend/internal/money"
	"github.com/MarcoPoloResearchLab/memorial/backend/internal/users"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrInvalidAmount indicates a negative price or a non-positive credit.
	ErrInvalidAmount = errors.New("payments: invalid amount")

	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// ServiceError carries a stable operation.reason code.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opLedgerNew = "payments.ledger.new"
	opExtend    = "payments.extend"
	opCredit    = "payments.credit"
	opHistory   = "payments.history"

	reasonLedgerFailed = "ledger_failed"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// IDProvider issues transaction identifiers.
type IDProvider interface {
	NewID() (string, error)
}

type uuidProvider struct{}

// NewUUIDProvider constructs an IDProvider that issues UUIDv7 identifiers.
func NewUUIDProvider() IDProvider {
	return uuidProvider{}
}

func (uuidProvider) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}

// OutcomeKind names the result of an extension attempt.
type OutcomeKind string

const (
	// OutcomeExtended means the balance was debited and the memory unlocked.
	OutcomeExtended OutcomeKind = "extended"
	// OutcomeAlreadyExtended means nothing was charged because the memory was already unlocked.
	OutcomeAlreadyExtended OutcomeKind = "already_extended"
	// OutcomeInsufficientFunds means the owner's balance is below the price.
	OutcomeInsufficientFunds OutcomeKind = "insufficient_funds"
)

// ExtensionResult reports an extension attempt. NewBalance is set for OutcomeExtended;
// Required and Available for OutcomeInsufficientFunds.
type ExtensionResult struct {
	Outcome       OutcomeKind
	NewBalance    money.Amount
	Required      money.Amount
	Available     money.Amount
	TransactionID string
}

// LedgerConfig describes the dependencies of the ledger.
type LedgerConfig struct {
	Database   *gorm.DB
	Locks      *memories.KeyedLocks
	IDProvider IDProvider
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Ledger moves money between prepaid balances and paid features.
type Ledger struct {
	db         *gorm.DB
	locks      *memories.KeyedLocks
	idProvider IDProvider
	clock      func() time.Time
	logger     *zap.Logger
}

// NewLedger validates the configuration and constructs the ledger.
func NewLedger(cfg LedgerConfig) (*Ledger, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opLedgerNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opLedgerNew, "missing_id_provider", errMissingIDProvider)
	}
	locks := cfg.Locks
	if locks == nil {
		locks = memories.NewKeyedLocks()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Ledger{db: cfg.Database, locks: locks, idProvider: cfg.IDProvider, clock: clock, logger: logger}, nil
}

// Extend charges the memory owner price and lifts the archive limit. It is idempotent: an
// already extended memory is never charged again.
func (l *Ledger) Extend(ctx context.Context, memoryID uint, price money.Amount) (ExtensionResult, error) {
	if price < 0 {
		return ExtensionResult{}, fmt.Errorf("%w: price %s", ErrInvalidAmount, price)
	}
	release := l.locks.Lock(memoryID)
	defer release()

	var result ExtensionResult
	txErr := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var memory memories.Memory
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Take(&memory, memoryID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return memories.ErrMemoryNotFound
		}
		if err != nil {
			l.logError(opExtend, "memory_select_failed", err, zap.Uint("memory_id", memoryID))
			return newServiceError(opExtend, "memory_select_failed", err)
		}
		if memory.Extended {
			result = ExtensionResult{Outcome: OutcomeAlreadyExtended}
			return nil
		}

		var owner users.User
		err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).Take(&owner, memory.ClientID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return users.ErrUserNotFound
		}
		if err != nil {
			l.logError(opExtend, "owner_select_failed", err, zap.Uint("memory_id", memoryID))
			return newServiceError(opExtend, "owner_select_failed", err)
		}

		available := owner.Balance()
		if available < price {
			result = ExtensionResult{Outcome: OutcomeInsufficientFunds, Required: price, Available: available}
			return nil
		}

		newBalance := available.SubtractClamped(price)
		record, err := l.record(tx, owner.ID, &memory.ID, KindPhotoExtension, -price, newBalance, "")
		if err != nil {
			l.logError(opExtend, reasonLedgerFailed, err, zap.Uint("memory_id", memoryID), zap.Uint("user_id", owner.ID))
			return newServiceError(opExtend, reasonLedgerFailed, err)
		}
		if err := tx.Model(&users.User{}).Where("id = ?", owner.ID).Update("balance_cents", newBalance.Cents()).Error; err != nil {
			l.logError(opExtend, reasonLedgerFailed, err, zap.Uint("memory_id", memoryID), zap.Uint("user_id", owner.ID))
			return newServiceError(opExtend, reasonLedgerFailed, err)
		}
		if err := tx.Model(&memories.Memory{}).Where("id = ?", memory.ID).Update("is_extended", true).Error; err != nil {
			l.logError(opExtend, reasonLedgerFailed, err, zap.Uint("memory_id", memoryID))
			return newServiceError(opExtend, reasonLedgerFailed, err)
		}
		result = ExtensionResult{Outcome: OutcomeExtended, NewBalance: newBalance, TransactionID: record.UUID}
		return nil
	})
	if txErr != nil {
		return ExtensionResult{}, txErr
	}
	return result, nil
}

// Credit tops up a user's balance and returns the new balance.
func (l *Ledger) Credit(ctx context.Context, userID uint, amount money.Amount, note string) (money.Amount, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("%w: credit %s", ErrInvalidAmount, amount)
	}
	var newBalance money.Amount
	txErr := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var owner users.User
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Take(&owner, userID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return users.ErrUserNotFound
		}
		if err != nil {
			l.logError(opCredit, "user_select_failed", err, zap.Uint("user_id", userID))
			return newServiceError(opCredit, "user_select_failed", err)
		}
		newBalance = owner.Balance() + amount
		if _, err := l.record(tx, owner.ID, nil, KindTopUp, amount, newBalance, note); err != nil {
			l.logError(opCredit, reasonLedgerFailed, err, zap.Uint("user_id", userID))
			return newServiceError(opCredit, reasonLedgerFailed, err)
		}
		if err := tx.Model(&users.User{}).Where("id = ?", owner.ID).Update("balance_cents", newBalance.Cents()).Error; err != nil {
			l.logError(opCredit, reasonLedgerFailed, err, zap.Uint("user_id", userID))
			return newServiceError(opCredit, reasonLedgerFailed, err)
		}
		return nil
	})
	if txErr != nil {
		return 0, txErr
	}
	return newBalance, nil
}

// History lists a user's transactions, newest first.
func (l *Ledger) History(ctx context.Context, userID uint, limit int) ([]Transaction, error) {
	query := l.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC, id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var transactions []Transaction
	if err := query.Find(&transactions).Error; err != nil {
		l.logError(opHistory, "query_failed", err, zap.Uint("user_id", userID))
		return nil, newServiceError(opHistory, "query_failed", err)
	}
	return transactions, nil
}

func (l *Ledger) record(tx *gorm.DB, userID uint, memoryID *uint, kind Kind, amount, balanceAfter money.Amount, note string) (Transaction, error) {
	id, err := l.idProvider.NewID()
	if err != nil {
		return Transaction{}, err
	}
	record := Transaction{
		UUID:              id,
		UserID:            userID,
		MemoryID:          memoryID,
		Kind:              kind,
		AmountCents:       amount.Cents(),
		BalanceAfterCents: balanceAfter.Cents(),
		Note:              strings.TrimSpace(note),
		CreatedAt:         l.clock().UTC(),
	}
	if err := tx.Create(&record).Error; err != nil {
		return Transaction{}, err
	}
	return record, nil
}

func (l *Ledger) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	l.logger.Error("payments ledger error", attrs...)
}
