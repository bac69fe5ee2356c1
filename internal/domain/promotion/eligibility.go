package promotion

import (
	"cmp"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/samber/lo"
)

var (
	// ErrPromotionExpired is returned when a promotion is outside its valid
	// time window.
	ErrPromotionExpired = errors.New("promotion expired")
	// ErrUsageLimitReached is returned when a promotion has exhausted its
	// allowed uses.
	ErrUsageLimitReached = errors.New("promotion usage limit reached")
	// ErrChannelMismatch is returned when a promotion is not available in the
	// subject's channel.
	ErrChannelMismatch = errors.New("promotion not available in channel")
	// ErrAlreadyApplied is returned when the promotion is already applied to
	// the subject.
	ErrAlreadyApplied = errors.New("promotion already applied")
)

// EligibilityChecker decides whether a promotion may be applied to a subject.
type EligibilityChecker struct {
	now func() time.Time
}

// NewEligibilityChecker creates an EligibilityChecker using the wall clock.
func NewEligibilityChecker() *EligibilityChecker {
	return &EligibilityChecker{now: time.Now}
}

// Check returns nil when the promotion is eligible, or the reason it is not.
func (c *EligibilityChecker) Check(subject Subject, p *Promotion) error {
	if !slices.Contains(p.Channels, subject.ChannelCode()) {
		return ErrChannelMismatch
	}

	now := c.now()
	if p.StartsAt != nil && now.Before(*p.StartsAt) {
		return ErrPromotionExpired
	}
	if p.EndsAt != nil && now.After(*p.EndsAt) {
		return ErrPromotionExpired
	}

	if p.UsageLimit > 0 && p.Used >= p.UsageLimit {
		return ErrUsageLimitReached
	}

	if subject.HasPromotion(p.Code) {
		return ErrAlreadyApplied
	}

	return nil
}

// Eligible returns the promotions that pass Check, highest priority first.
func (c *EligibilityChecker) Eligible(subject Subject, promotions []*Promotion) []*Promotion {
	eligible := lo.Filter(promotions, func(p *Promotion, _ int) bool {
		return c.Check(subject, p) == nil
	})
	SortByPriority(eligible)
	return eligible
}

// SortByPriority orders promotions by priority descending, keeping the
// relative order of equal priorities.
func SortByPriority(promotions []*Promotion) {
	slices.SortStableFunc(promotions, func(a, b *Promotion) int {
		return cmp.Compare(b.Priority, a.Priority)
	})
}
