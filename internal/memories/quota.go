package memories

import (
	"strings"

	"github.com/MarcoPoloResearchLab/memorial/backend/internal/money"
)

const (
	// DefaultFreeArchiveLimit is the number of archive photos allowed without an extension.
	DefaultFreeArchiveLimit = 5
	// DefaultExtensionPriceUnits is the extension price in whole currency units.
	DefaultExtensionPriceUnits = 500
)

// QuotaPolicy holds the free archive limit and the price of lifting it.
type QuotaPolicy struct {
	FreeLimit int
	Price     money.Amount
}

// DefaultQuotaPolicy returns the stock 5-photo / 500 policy.
func DefaultQuotaPolicy() QuotaPolicy {
	return QuotaPolicy{FreeLimit: DefaultFreeArchiveLimit, Price: money.FromUnits(DefaultExtensionPriceUnits)}
}

// Authorization is the outcome of a quota check for one request.
type Authorization struct {
	Allowed      bool
	CurrentCount int
	Remaining    int
	Limit        int
	Extended     bool
	Incoming     int
}

// QuotaExceeded is the denial payload callers render as a paywall.
type QuotaExceeded struct {
	CurrentCount int
	Limit        int
	Remaining    int
	Extended     bool
	Price        money.Amount
}

// QuotaStatus is the read-only view served by the upload-limit endpoints.
type QuotaStatus struct {
	CanUpload    bool
	CurrentCount int
	Extended     bool
	FreeLimit    int
	Remaining    int
	Price        money.Amount
}

// ArchiveCount counts archive photos with a non-empty path that differs from the main photo.
func ArchiveCount(memory *Memory) int {
	if memory == nil {
		return 0
	}
	mainPhoto := strings.TrimSpace(memory.MainPhoto)
	count := 0
	for _, item := range memory.Archive {
		photo := strings.TrimSpace(item.Photo)
		if photo == "" || photo == mainPhoto {
			continue
		}
		count++
	}
	return count
}

// Authorize decides once per request whether a batch may proceed. Avatar batches never
// consume archive quota.
func (p QuotaPolicy) Authorize(memory *Memory, intent Intent, incoming int) Authorization {
	current := ArchiveCount(memory)
	extended := memory != nil && memory.Extended
	authorization := Authorization{
		CurrentCount: current,
		Remaining:    p.remaining(current),
		Limit:        p.FreeLimit,
		Extended:     extended,
		Incoming:     incoming,
	}
	if intent == IntentAvatar {
		authorization.Allowed = true
		return authorization
	}
	authorization.Allowed = extended || current < p.FreeLimit
	return authorization
}

// Status reports the quota view of a memory; nil means the code has no memory yet.
func (p QuotaPolicy) Status(memory *Memory) QuotaStatus {
	authorization := p.Authorize(memory, IntentArchive, 0)
	return QuotaStatus{
		CanUpload:    authorization.Allowed,
		CurrentCount: authorization.CurrentCount,
		Extended:     authorization.Extended,
		FreeLimit:    p.FreeLimit,
		Remaining:    authorization.Remaining,
		Price:        p.Price,
	}
}

func (p QuotaPolicy) exceeded(authorization Authorization) *QuotaExceeded {
	return &QuotaExceeded{
		CurrentCount: authorization.CurrentCount,
		Limit:        authorization.Limit,
		Remaining:    authorization.Remaining,
		Extended:     authorization.Extended,
		Price:        p.Price,
	}
}

func (p QuotaPolicy) remaining(current int) int {
	if current >= p.FreeLimit {
		return 0
	}
	return p.FreeLimit - current
}
