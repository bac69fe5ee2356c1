package promotion

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-promotions/internal/domain/order"
)

var (
	// ErrTypeMismatch is returned when an action receives a subject it cannot
	// handle. Match it with errors.Is; the concrete error is
	// *UnexpectedTypeError.
	ErrTypeMismatch = errors.New("unexpected subject type")
	// ErrUnknownAction is returned when a promotion references an action type
	// that is not registered.
	ErrUnknownAction = errors.New("unknown promotion action")
	// ErrNotFound is returned when a requested promotion does not exist.
	ErrNotFound = errors.New("promotion not found")
)

// UnexpectedTypeError reports a subject of the wrong type.
type UnexpectedTypeError struct {
	Got      any
	Expected string
}

func (e *UnexpectedTypeError) Error() string {
	return fmt.Sprintf("expected subject of type %s, got %T", e.Expected, e.Got)
}

// Is makes errors.Is(err, ErrTypeMismatch) hold.
func (e *UnexpectedTypeError) Is(target error) bool {
	return target == ErrTypeMismatch
}

// Subject is anything a promotion can be applied to.
type Subject interface {
	ChannelCode() string
	Total() int64
	HasPromotion(code string) bool
	AddPromotion(code string)
	RemovePromotion(code string)
}

// Promotion is a discount campaign. Actions are executed in order when the
// promotion applies to a subject.
type Promotion struct {
	ID          string
	Code        string
	Name        string
	Description string
	Priority    int
	Exclusive   bool
	// UsageLimit caps how many orders the promotion may be applied to.
	// Zero means unlimited.
	UsageLimit int
	Used       int
	StartsAt   *time.Time
	EndsAt     *time.Time
	Channels   []string
	Actions    []Action
}

// Action binds an action type registered in an ActionRegistry to its
// configuration.
type Action struct {
	Type          string
	Configuration Configuration
}

// Repository provides lookup of promotions.
type Repository interface {
	// ListActiveByChannel returns the enabled promotions assigned to the
	// channel, ordered by priority descending.
	ListActiveByChannel(ctx context.Context, channelCode string) ([]*Promotion, error)
}

// Application is the result of applying a promotion to an order: the
// adjustments its actions created.
type Application struct {
	OrderID     string
	Promotion   *Promotion
	Adjustments []*order.Adjustment
}

// DiscountTotal returns the total discount granted by the application as a
// positive amount of money.
func (a Application) DiscountTotal() decimal.Decimal {
	var total int64
	for _, adj := range a.Adjustments {
		total -= adj.Amount
	}
	return order.Money(total)
}

// ApplicationRepository records applied promotions. Save is atomic: it
// stores the adjustments, records the order/promotion pair and consumes one
// use of the promotion, or does nothing. It returns ErrAlreadyApplied when the
// pair is already recorded and ErrUsageLimitReached when no uses are left.
type ApplicationRepository interface {
	IsApplied(ctx context.Context, orderID, promotionID string) (bool, error)
	Save(ctx context.Context, a Application) error
}
