// internal/premium/implementation.go
package premium

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"vowmarket/internal/accounts"
	"vowmarket/internal/apperr"
	"vowmarket/internal/clock"
	"vowmarket/internal/lib/sl"
	"vowmarket/internal/positions"
	"vowmarket/internal/pricing"
	"vowmarket/pkg/eventstore"
)

// service implements the Service interface. It is the only writer of both
// subscriptions and position occupancy.
type service struct {
	registry positions.Registry
	repo     Repository
	events   eventstore.Store
	vendors  VendorDirectory
	clock    clock.Clock
	log      *slog.Logger
	tracer   trace.Tracer
	counters counters
}

type counters struct {
	upgrades      metric.Int64Counter
	conflicts     metric.Int64Counter
	cancellations metric.Int64Counter
	renewals      metric.Int64Counter
	expirations   metric.Int64Counter
}

// Option customises the service.
type Option func(*service)

func WithClock(c clock.Clock) Option { return func(s *service) { s.clock = c } }

func WithLogger(l *slog.Logger) Option { return func(s *service) { s.log = l } }

// WithVendorDirectory makes Upgrade check that the caller is a vendor account.
func WithVendorDirectory(d VendorDirectory) Option { return func(s *service) { s.vendors = d } }

// NewService creates a new premium service instance.
func NewService(registry positions.Registry, repo Repository, events eventstore.Store, opts ...Option) Service {
	s := &service{
		registry: registry,
		repo:     repo,
		events:   events,
		clock:    clock.Real{},
		log:      slog.Default(),
		tracer:   otel.Tracer("vowmarket/premium"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(slog.String("component", "premium"))
	s.counters = newCounters(otel.Meter("vowmarket/premium"), s.log)
	return s
}

func newCounters(meter metric.Meter, log *slog.Logger) counters {
	counter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			log.Warn("failed to create counter", slog.String("counter", name), sl.Err(err))
		}
		return c
	}
	return counters{
		upgrades:      counter("premium.upgrades", "Successful premium upgrades"),
		conflicts:     counter("premium.position_conflicts", "Upgrades that lost a position race"),
		cancellations: counter("premium.cancellations", "Cancelled premium subscriptions"),
		renewals:      counter("premium.renewals", "Renewed premium periods"),
		expirations:   counter("premium.expirations", "Lapsed subscriptions retired on read"),
	}
}

func add(ctx context.Context, c metric.Int64Counter, attrs ...attribute.KeyValue) {
	if c != nil {
		c.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// Quote prices a slot for both billing cycles.
func (s *service) Quote(tier positions.Tier, position int) (pricing.Quote, error) {
	q, err := pricing.QuoteFor(tier, position)
	if err != nil {
		return pricing.Quote{}, invalidSlot(err)
	}
	return q, nil
}

// ListAvailable returns free positions of a tier, best first.
func (s *service) ListAvailable(ctx context.Context, tier positions.Tier) ([]int, error) {
	if !tier.Valid() {
		return nil, apperr.Wrap("tier", positions.ErrInvalidTier)
	}
	return s.registry.ListAvailable(ctx, tier)
}

// Upgrade buys a position for a vendor that holds no live subscription.
func (s *service) Upgrade(ctx context.Context, vendorID uuid.UUID, tier positions.Tier, position int, cycle pricing.BillingCycle) (*Subscription, error) {
	const op = "premium.Upgrade"
	ctx, span := s.tracer.Start(ctx, op, trace.WithAttributes(
		attribute.String("vendor.id", vendorID.String()),
		attribute.String("tier", tier.String()),
		attribute.Int("position", position),
		attribute.String("billing_cycle", cycle.String()),
	))
	defer span.End()

	price, err := validateRequest(vendorID, tier, position, cycle)
	if err != nil {
		return nil, err
	}
	if err := s.checkVendor(ctx, vendorID); err != nil {
		return nil, err
	}

	existing, err := s.live(ctx, vendorID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if existing != nil {
		return nil, ErrAlreadySubscribed
	}

	now := s.clock.Now()
	sub := &Subscription{
		ID:           uuid.New(),
		VendorID:     vendorID,
		Tier:         tier,
		Position:     position,
		BillingCycle: cycle,
		Price:        price,
		StartedAt:    now,
		RenewsAt:     cycle.Next(now),
		Status:       StatusActive,
		Version:      1,
	}

	if err := s.registry.Reserve(ctx, tier, position, vendorID, sub.RenewsAt); err != nil {
		if errors.Is(err, positions.ErrPositionTaken) {
			add(ctx, s.counters.conflicts, attribute.String("tier", tier.String()))
			span.SetAttributes(attribute.Bool("conflict.detected", true))
			return nil, err
		}
		return nil, fmt.Errorf("%s: reserve: %w", op, err)
	}

	// Compensation for the reservation if the subscription cannot be stored.
	compensation := func() {
		s.log.Warn("compensating failed upgrade: releasing position",
			slog.String("vendor_id", vendorID.String()),
			slog.Int("position", position))
		if err := s.registry.Vacate(context.WithoutCancel(ctx), tier, position, vendorID); err != nil {
			s.log.Error("failed to compensate position reservation", sl.Err(err))
		}
	}

	if err := s.repo.Create(ctx, sub); err != nil {
		compensation()
		if errors.Is(err, ErrAlreadySubscribed) {
			return nil, ErrAlreadySubscribed
		}
		return nil, fmt.Errorf("%s: store subscription: %w", op, err)
	}

	s.record(ctx, sub.ID, 0, EventUpgraded, UpgradedEvent{
		SubscriptionID: sub.ID,
		VendorID:       vendorID,
		Tier:           tier,
		Position:       position,
		BillingCycle:   cycle,
		PriceCents:     price.Cents(),
		RenewsAt:       sub.RenewsAt,
	})
	add(ctx, s.counters.upgrades, attribute.String("tier", tier.String()), attribute.String("billing_cycle", cycle.String()))

	s.log.Info("premium upgrade",
		slog.String("vendor_id", vendorID.String()),
		slog.String("tier", tier.String()),
		slog.Int("position", position),
		slog.String("price", price.String()))
	return sub, nil
}

// ChangePosition moves an active vendor to another slot. The new slot is
// claimed before the old subscription is touched, so a lost race leaves the
// vendor where they were.
func (s *service) ChangePosition(ctx context.Context, vendorID uuid.UUID, tier positions.Tier, position int, cycle pricing.BillingCycle) (*Subscription, error) {
	const op = "premium.ChangePosition"
	ctx, span := s.tracer.Start(ctx, op, trace.WithAttributes(
		attribute.String("vendor.id", vendorID.String()),
		attribute.Int("position", position),
	))
	defer span.End()

	price, err := validateRequest(vendorID, tier, position, cycle)
	if err != nil {
		return nil, err
	}

	current, err := s.live(ctx, vendorID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if current == nil {
		return nil, ErrNoActiveSubscription
	}
	if current.Status != StatusActive {
		return nil, ErrSubscriptionExpired
	}
	if current.Tier == tier && current.Position == position {
		return nil, apperr.Invalid("position", "vendor already holds this position")
	}

	now := s.clock.Now()
	next := &Subscription{
		ID:           uuid.New(),
		VendorID:     vendorID,
		Tier:         tier,
		Position:     position,
		BillingCycle: cycle,
		Price:        price,
		StartedAt:    now,
		RenewsAt:     cycle.Next(now),
		Status:       StatusActive,
		Version:      1,
	}

	if err := s.registry.Reserve(ctx, tier, position, vendorID, next.RenewsAt); err != nil {
		if errors.Is(err, positions.ErrPositionTaken) {
			add(ctx, s.counters.conflicts, attribute.String("tier", tier.String()))
			return nil, err
		}
		return nil, fmt.Errorf("%s: reserve: %w", op, err)
	}

	old := *current
	expectedVersion := old.Version
	old.Status = StatusExpired
	old.ExpiresAt = &now
	old.Version++

	if err := s.repo.Replace(ctx, &old, expectedVersion, next); err != nil {
		if verr := s.registry.Vacate(context.WithoutCancel(ctx), tier, position, vendorID); verr != nil {
			s.log.Error("failed to compensate position reservation", sl.Err(verr))
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := s.registry.Vacate(ctx, old.Tier, old.Position, vendorID); err != nil {
		s.log.Error("failed to release previous position",
			slog.Int("position", old.Position), sl.Err(err))
	}

	s.record(ctx, old.ID, expectedVersion, EventMoved, MovedEvent{
		SubscriptionID: old.ID,
		NextID:         next.ID,
		ToTier:         tier,
		ToPosition:     position,
	})
	replaces := old.ID
	s.record(ctx, next.ID, 0, EventUpgraded, UpgradedEvent{
		SubscriptionID: next.ID,
		VendorID:       vendorID,
		Tier:           tier,
		Position:       position,
		BillingCycle:   cycle,
		PriceCents:     price.Cents(),
		RenewsAt:       next.RenewsAt,
		ReplacesID:     &replaces,
	})

	s.log.Info("premium position changed",
		slog.String("vendor_id", vendorID.String()),
		slog.Int("from", old.Position),
		slog.Int("to", position))
	return next, nil
}

// Cancel stops auto-renewal. The vendor keeps the slot until the paid
// period ends and nothing is refunded.
func (s *service) Cancel(ctx context.Context, vendorID uuid.UUID) error {
	const op = "premium.Cancel"
	ctx, span := s.tracer.Start(ctx, op, trace.WithAttributes(
		attribute.String("vendor.id", vendorID.String()),
	))
	defer span.End()

	sub, err := s.live(ctx, vendorID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if sub == nil || sub.Status != StatusActive {
		return ErrNoActiveSubscription
	}

	expectedVersion := sub.Version
	expiresAt := sub.RenewsAt
	sub.Status = StatusCancelled
	sub.ExpiresAt = &expiresAt
	sub.Version++

	if err := s.repo.Update(ctx, sub, expectedVersion); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.record(ctx, sub.ID, expectedVersion, EventCancelled, CancelledEvent{
		SubscriptionID: sub.ID,
		VendorID:       vendorID,
		ExpiresAt:      expiresAt,
	})
	add(ctx, s.counters.cancellations, attribute.String("tier", sub.Tier.String()))

	s.log.Info("premium cancelled",
		slog.String("vendor_id", vendorID.String()),
		slog.Time("expires_at", expiresAt))
	return nil
}

// Renew pays for one more billing period at today's price.
func (s *service) Renew(ctx context.Context, vendorID uuid.UUID) (*Subscription, error) {
	const op = "premium.Renew"
	ctx, span := s.tracer.Start(ctx, op, trace.WithAttributes(
		attribute.String("vendor.id", vendorID.String()),
	))
	defer span.End()

	sub, err := s.repo.GetLive(ctx, vendorID)
	if errors.Is(err, ErrSubscriptionNotFound) {
		return nil, ErrNoActiveSubscription
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	now := s.clock.Now()
	if sub.Lapsed(now) {
		s.retire(ctx, sub)
		return nil, ErrSubscriptionExpired
	}
	if sub.Status != StatusActive {
		return nil, ErrSubscriptionExpired
	}

	price, err := pricing.Calculate(sub.Tier, sub.Position, sub.BillingCycle)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	previous := sub.RenewsAt
	renewsAt := sub.BillingCycle.NextAfter(sub.StartedAt, previous)
	if err := s.registry.Extend(ctx, sub.Tier, sub.Position, vendorID, renewsAt); err != nil {
		return nil, fmt.Errorf("%s: extend reservation: %w", op, err)
	}

	expectedVersion := sub.Version
	sub.RenewsAt = renewsAt
	sub.Price = price
	sub.Version++

	if err := s.repo.Update(ctx, sub, expectedVersion); err != nil {
		if xerr := s.registry.Extend(context.WithoutCancel(ctx), sub.Tier, sub.Position, vendorID, previous); xerr != nil {
			s.log.Error("failed to roll back reservation extension", sl.Err(xerr))
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.record(ctx, sub.ID, expectedVersion, EventRenewed, RenewedEvent{
		SubscriptionID: sub.ID,
		PriceCents:     price.Cents(),
		RenewsAt:       renewsAt,
	})
	add(ctx, s.counters.renewals, attribute.String("billing_cycle", sub.BillingCycle.String()))
	return sub, nil
}

// CurrentStatus returns the vendor's live subscription, or nil.
func (s *service) CurrentStatus(ctx context.Context, vendorID uuid.UUID) (*Subscription, error) {
	const op = "premium.CurrentStatus"
	sub, err := s.live(ctx, vendorID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return sub, nil
}

// History returns the audit trail of one of the vendor's subscriptions.
func (s *service) History(ctx context.Context, vendorID, subscriptionID uuid.UUID) ([]eventstore.Event, error) {
	const op = "premium.History"
	sub, err := s.repo.Get(ctx, subscriptionID)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if sub.VendorID != vendorID {
		return nil, ErrSubscriptionNotFound
	}
	events, err := s.events.Load(ctx, subscriptionID, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return events, nil
}

// live loads the vendor's live subscription and retires it if its period has
// already ended.
func (s *service) live(ctx context.Context, vendorID uuid.UUID) (*Subscription, error) {
	sub, err := s.repo.GetLive(ctx, vendorID)
	if errors.Is(err, ErrSubscriptionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if sub.Lapsed(s.clock.Now()) {
		s.retire(ctx, sub)
		return nil, nil
	}
	return sub, nil
}

// retire marks a lapsed subscription expired and frees its slot if the
// vendor is still on record there. Losing the version race means another
// request already retired it.
func (s *service) retire(ctx context.Context, sub *Subscription) {
	expectedVersion := sub.Version
	endedAt := sub.EndsAt()
	sub.Status = StatusExpired
	sub.ExpiresAt = &endedAt
	sub.Version++

	if err := s.repo.Update(ctx, sub, expectedVersion); err != nil {
		if !errors.Is(err, ErrConcurrentUpdate) {
			s.log.Error("failed to retire lapsed subscription",
				slog.String("subscription_id", sub.ID.String()), sl.Err(err))
		}
		return
	}
	if err := s.registry.Vacate(ctx, sub.Tier, sub.Position, sub.VendorID); err != nil {
		s.log.Error("failed to release lapsed position",
			slog.Int("position", sub.Position), sl.Err(err))
	}

	s.record(ctx, sub.ID, expectedVersion, EventExpired, ExpiredEvent{
		SubscriptionID: sub.ID,
		VendorID:       sub.VendorID,
		Position:       sub.Position,
		EndedAt:        endedAt,
	})
	add(ctx, s.counters.expirations, attribute.String("tier", sub.Tier.String()))
}

// record appends to the audit log. The subscription row is the source of
// truth, so a failed append is logged rather than undoing the transition.
func (s *service) record(ctx context.Context, id uuid.UUID, expectedVersion int, eventType string, payload any) {
	if s.events == nil {
		return
	}
	event, err := eventstore.NewEvent(eventType, payload)
	if err == nil {
		err = s.events.Append(ctx, id, aggregateType, expectedVersion, event)
	}
	if errors.Is(err, eventstore.ErrConcurrencyConflict) {
		// The stream lags the row after an earlier failed append. The row
		// update already serialised this transition, so append at the head.
		s.log.Debug("premium event stream behind subscription row",
			slog.String("subscription_id", id.String()),
			slog.Int("row_version", expectedVersion))
		err = s.events.Append(ctx, id, aggregateType, eventstore.AnyVersion, event)
	}
	if err != nil {
		s.log.Warn("failed to append premium event",
			slog.String("event_type", eventType),
			slog.String("subscription_id", id.String()),
			sl.Err(err))
	}
}

func (s *service) checkVendor(ctx context.Context, vendorID uuid.UUID) error {
	if s.vendors == nil {
		return nil
	}
	account, err := s.vendors.GetAccount(ctx, vendorID)
	if err != nil {
		if errors.Is(err, accounts.ErrAccountNotFound) {
			return ErrNotVendor
		}
		return fmt.Errorf("premium.checkVendor: %w", err)
	}
	if account.Role != accounts.RoleVendor {
		return ErrNotVendor
	}
	return nil
}

func validateRequest(vendorID uuid.UUID, tier positions.Tier, position int, cycle pricing.BillingCycle) (pricing.Money, error) {
	if vendorID == uuid.Nil {
		return 0, apperr.Invalid("vendor_id", "must be set")
	}
	if !cycle.Valid() {
		return 0, apperr.Wrap("billing_cycle", pricing.ErrInvalidBillingCycle)
	}
	price, err := pricing.Calculate(tier, position, cycle)
	if err != nil {
		return 0, invalidSlot(err)
	}
	return price, nil
}

func invalidSlot(err error) error {
	if errors.Is(err, positions.ErrInvalidTier) {
		return apperr.Wrap("tier", err)
	}
	return apperr.Wrap("position", err)
}
