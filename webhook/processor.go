package webhook

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coachpay/engine/delivery"
	"github.com/coachpay/engine/notify"
	"github.com/coachpay/engine/subscription"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
)

// ChargeLookup resolves the payment intent behind a charge
type ChargeLookup interface {
	PaymentIntentForCharge(ctx context.Context, chargeID string) (string, error)
}

// ProcessorOptions provides initialization parameters for Processor
type ProcessorOptions struct {
	Logger              *zap.Logger
	SubscriptionManager *subscription.Manager
	DeliveryManager     *delivery.Manager
	Notifier            *notify.Notifier
	Guard               Guard
	Charges             ChargeLookup

	GraceDays    int
	MaxRetries   int
	DashboardURL string
}

// Processor applies verified gateway events to subscriptions and deliveries
type Processor struct {
	ProcessorOptions
}

// NewProcessor returns a Processor
func NewProcessor(option ProcessorOptions) (*Processor, error) {
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if option.SubscriptionManager == nil {
		return nil, fmt.Errorf("nil SubscriptionManager is invalid")
	}
	if option.DeliveryManager == nil {
		return nil, fmt.Errorf("nil DeliveryManager is invalid")
	}
	if option.Notifier == nil {
		return nil, fmt.Errorf("nil Notifier is invalid")
	}
	if option.Guard == nil {
		return nil, fmt.Errorf("nil Guard is invalid")
	}
	if option.Charges == nil {
		return nil, fmt.Errorf("nil Charges is invalid")
	}
	if option.GraceDays <= 0 {
		return nil, fmt.Errorf("non-positive GraceDays is invalid")
	}
	return &Processor{
		ProcessorOptions: option,
	}, nil
}

// Process applies e. Stale or semantically unexpected events are logged and acknowledged; only
// failures the gateway should retry are returned.
func (p *Processor) Process(ctx context.Context, e *Event) error {
	logger := p.Logger.With(
		zap.String("EventID", e.ID),
		zap.String("EventType", string(e.Type)),
	)

	var err error
	switch e.Type {
	case SubscriptionCreated:
		err = p.subscriptionCreated(ctx, logger, e)
	case SubscriptionRenewed:
		err = p.subscriptionRenewed(ctx, logger, e)
	case SubscriptionCancelled:
		err = p.subscriptionCancelled(ctx, logger, e)
	case InvoicePaid:
		err = p.invoicePaid(ctx, logger, e)
	case InvoiceFailed:
		err = p.invoiceFailed(ctx, logger, e)
	case PaymentSucceeded:
		err = p.paymentSucceeded(ctx, logger, e)
	case ChargeRefunded:
		err = p.chargeRefunded(ctx, logger, e)
	case DisputeCreated, DisputeUpdated, DisputeClosed:
		err = p.dispute(ctx, logger, e)
	default:
		logger.Info("Ignoring unhandled event type")
		return nil
	}

	if errors.Is(err, subscription.ErrStaleState) {
		logger.Info("Event is stale, skipping")
		return nil
	}
	return err
}

func (p *Processor) lookup(ctx context.Context, gatewayID string) (*subscription.Subscription, error) {
	sub, err := p.SubscriptionManager.GetByGatewayID(ctx, gatewayID)
	if errors.Is(err, subscription.ErrNotFound) {
		return nil, ErrUnknownSubscription
	}
	return sub, err
}

func (p *Processor) subscriptionCreated(ctx context.Context, logger *zap.Logger, e *Event) error {
	obj := e.Subscription
	if len(obj.UserID) == 0 || len(obj.PackageID) == 0 {
		return extErrors.Wrap(ErrInvalidEvent, "subscription metadata lacks user_id or package_id")
	}

	status := subscription.StatusActive
	switch obj.Status {
	case "active", "trialing":
	case "past_due":
		status = subscription.StatusGracePeriod
	default:
		// incomplete: the first invoice has not been paid yet
		status = subscription.StatusNone
	}

	occurred := e.OccurredAt
	created, err := p.SubscriptionManager.Create(ctx, &subscription.Subscription{
		UserID:                  obj.UserID,
		TrainerID:               obj.TrainerID,
		PackageID:               obj.PackageID,
		OriginPlatform:          obj.Platform,
		Status:                  status,
		StartDate:               obj.PeriodStart,
		EndDate:                 obj.PeriodEnd,
		GatewaySubscriptionID:   obj.GatewayID,
		GatewayInitialInvoiceID: obj.LatestInvoiceID,
		LastEventAt:             &occurred,
	})
	if err != nil {
		return err
	}
	if !created {
		logger.Info("Subscription already exists",
			zap.String("GatewaySubscriptionID", obj.GatewayID),
		)
	}
	return nil
}

func (p *Processor) subscriptionRenewed(ctx context.Context, logger *zap.Logger, e *Event) error {
	sub, err := p.lookup(ctx, e.Subscription.GatewayID)
	if err != nil {
		return err
	}
	end := e.Subscription.PeriodEnd
	_, err = p.SubscriptionManager.Transition(ctx, subscription.TransitionOption{
		SubscriptionID: sub.ID,
		From:           []subscription.Status{subscription.StatusNone, subscription.StatusActive, subscription.StatusGracePeriod, subscription.StatusCancelledActive},
		To:             subscription.StatusActive,
		EventAt:        e.OccurredAt,
		EndDate:        &end,
		ClearGrace:     true,
	})
	return err
}

func (p *Processor) subscriptionCancelled(ctx context.Context, logger *zap.Logger, e *Event) error {
	sub, err := p.lookup(ctx, e.Subscription.GatewayID)
	if err != nil {
		return err
	}

	end := e.Subscription.PeriodEnd
	to := subscription.StatusCancelledActive
	if e.Subscription.Ended || !end.After(e.OccurredAt) {
		to = subscription.StatusExpired
		if end.After(e.OccurredAt) {
			end = e.OccurredAt
		}
	}

	_, err = p.SubscriptionManager.Transition(ctx, subscription.TransitionOption{
		SubscriptionID: sub.ID,
		From:           []subscription.Status{subscription.StatusNone, subscription.StatusActive, subscription.StatusGracePeriod, subscription.StatusCancelledActive},
		To:             to,
		EventAt:        e.OccurredAt,
		EndDate:        &end,
		ClearGrace:     to == subscription.StatusExpired,
	})
	return err
}

func (p *Processor) recordBilling(ctx context.Context, sub *subscription.Subscription, inv *InvoiceObject, status subscription.BillingStatus) error {
	attempt := inv.AttemptCount
	if attempt < 1 {
		attempt = 1
	}
	_, err := p.SubscriptionManager.RecordBilling(ctx, &subscription.BillingRecord{
		SubscriptionID:   sub.ID,
		GatewayInvoiceID: inv.ID,
		Attempt:          attempt,
		Amount:           inv.Amount,
		Currency:         inv.Currency,
		Status:           status,
		PeriodStart:      inv.PeriodStart,
		PeriodEnd:        inv.PeriodEnd,
	})
	return err
}

func (p *Processor) invoicePaid(ctx context.Context, logger *zap.Logger, e *Event) error {
	inv := e.Invoice
	if len(inv.SubscriptionGatewayID) == 0 {
		logger.Info("Invoice is not tied to a subscription, skipping")
		return nil
	}
	sub, err := p.lookup(ctx, inv.SubscriptionGatewayID)
	if err != nil {
		return err
	}
	logger = logger.With(zap.String("SubscriptionID", sub.ID))

	if err := p.recordBilling(ctx, sub, inv, subscription.BillingSuccess); err != nil {
		return err
	}

	end := inv.PeriodEnd
	_, err = p.SubscriptionManager.Transition(ctx, subscription.TransitionOption{
		SubscriptionID: sub.ID,
		From:           []subscription.Status{subscription.StatusNone, subscription.StatusActive, subscription.StatusGracePeriod},
		To:             subscription.StatusActive,
		EventAt:        e.OccurredAt,
		EndDate:        &end,
		ClearGrace:     true,
	})
	if err != nil && !errors.Is(err, subscription.ErrStaleState) {
		return err
	}
	if err != nil {
		logger.Info("Subscription did not accept the payment transition",
			zap.String("Status", string(sub.Status)),
		)
	}

	return p.expandDelivery(ctx, logger, sub.PackageID, delivery.CreateOption{
		TrainerID:       sub.TrainerID,
		ClientID:        sub.UserID,
		SubscriptionID:  sub.ID,
		SourceRef:       inv.ID,
		PaymentIntentID: inv.PaymentIntentID,
		Renewal:         inv.ID != sub.GatewayInitialInvoiceID,
	})
}

func (p *Processor) paymentSucceeded(ctx context.Context, logger *zap.Logger, e *Event) error {
	pay := e.Payment
	logger = logger.With(zap.String("PaymentIntentID", pay.PaymentIntentID))
	if len(pay.InvoiceID) > 0 {
		// subscription payments expand on invoice.paid
		return nil
	}
	if len(pay.UserID) == 0 || len(pay.TrainerID) == 0 || len(pay.PackageID) == 0 {
		logger.Info("Payment was not made through checkout, skipping")
		return nil
	}
	return p.expandDelivery(ctx, logger, pay.PackageID, delivery.CreateOption{
		TrainerID:       pay.TrainerID,
		ClientID:        pay.UserID,
		SourceRef:       pay.PaymentIntentID,
		PaymentIntentID: pay.PaymentIntentID,
	})
}

// expandDelivery creates the delivery of the package's service, if it has one. opt.ServiceType is
// filled from the package.
func (p *Processor) expandDelivery(ctx context.Context, logger *zap.Logger, packageID string, opt delivery.CreateOption) error {
	pkg, err := p.SubscriptionManager.GetPackage(ctx, packageID)
	if errors.Is(err, subscription.ErrNotFound) {
		logger.Warn("Purchase references an unknown package",
			zap.String("PackageID", packageID),
		)
		return nil
	}
	if err != nil {
		return err
	}
	if len(pkg.ServiceType) == 0 {
		return nil
	}

	opt.ServiceType = delivery.ServiceType(pkg.ServiceType)
	d, created, err := p.DeliveryManager.Create(ctx, opt)
	if errors.Is(err, delivery.ErrUnknownServiceType) {
		logger.Warn("Package has a service type without a template",
			zap.String("ServiceType", pkg.ServiceType),
		)
		return nil
	}
	if err != nil {
		return err
	}
	if created {
		logger.Info("Delivery created",
			zap.String("DeliveryID", d.ID),
			zap.Bool("Renewal", d.Renewal),
		)
	}
	return nil
}

func (p *Processor) invoiceFailed(ctx context.Context, logger *zap.Logger, e *Event) error {
	inv := e.Invoice
	if len(inv.SubscriptionGatewayID) == 0 {
		logger.Info("Invoice is not tied to a subscription, skipping")
		return nil
	}
	sub, err := p.lookup(ctx, inv.SubscriptionGatewayID)
	if err != nil {
		return err
	}

	if err := p.recordBilling(ctx, sub, inv, subscription.BillingFailed); err != nil {
		return err
	}

	retries := inv.AttemptCount
	option := subscription.TransitionOption{
		SubscriptionID: sub.ID,
		From:           []subscription.Status{subscription.StatusActive, subscription.StatusGracePeriod, subscription.StatusCancelledActive},
		EventAt:        e.OccurredAt,
		FailedRetries:  &retries,
	}

	exhausted := inv.NextPaymentAttempt == nil || (p.MaxRetries > 0 && retries >= p.MaxRetries)
	if exhausted {
		option.To = subscription.StatusExpired
	} else {
		graceEnds := e.OccurredAt.AddDate(0, 0, p.GraceDays)
		if inv.NextPaymentAttempt.After(graceEnds) {
			graceEnds = *inv.NextPaymentAttempt
		}
		option.To = subscription.StatusGracePeriod
		option.GraceEndsAt = &graceEnds
	}

	_, err = p.SubscriptionManager.Transition(ctx, option)
	if err == nil {
		logger.Info("Subscription payment failed",
			zap.String("SubscriptionID", sub.ID),
			zap.Int("FailedRetries", retries),
			zap.String("Status", string(option.To)),
		)
	}
	return err
}

func (p *Processor) chargeRefunded(ctx context.Context, logger *zap.Logger, e *Event) error {
	ch := e.Charge
	if len(ch.InvoiceID) > 0 {
		_, err := p.SubscriptionManager.AppendRefund(ctx, subscription.RefundOption{
			GatewayInvoiceID: ch.InvoiceID,
			Amount:           ch.AmountRefunded,
			Reason:           ch.RefundReason,
			RefundedAt:       e.OccurredAt,
		})
		if errors.Is(err, subscription.ErrNotFound) {
			logger.Warn("Refund for an invoice without a billing record",
				zap.String("InvoiceID", ch.InvoiceID),
			)
		} else if err != nil {
			return err
		}
	}

	if !ch.FullyRefunded || len(ch.PaymentIntentID) == 0 {
		return nil
	}
	deliveries, err := p.DeliveryManager.ListByPaymentIntent(ctx, ch.PaymentIntentID)
	if err != nil {
		return err
	}
	for _, d := range deliveries {
		if d.Status.Terminal() {
			continue
		}
		if _, err := p.DeliveryManager.Cancel(ctx, d.ID, e.OccurredAt); err != nil && !errors.Is(err, delivery.ErrClosed) {
			return err
		}
		logger.Info("Delivery cancelled after full refund",
			zap.String("DeliveryID", d.ID),
		)
	}
	return nil
}

func (p *Processor) dispute(ctx context.Context, logger *zap.Logger, e *Event) error {
	dp := e.Dispute
	logger = logger.With(zap.String("DisputeID", dp.ID))

	paymentIntentID := dp.PaymentIntentID
	if len(paymentIntentID) == 0 {
		pi, err := p.Charges.PaymentIntentForCharge(ctx, dp.ChargeID)
		if err != nil {
			return extErrors.Wrap(err, "Cannot resolve payment intent of disputed charge")
		}
		paymentIntentID = pi
	}
	if len(paymentIntentID) == 0 {
		logger.Warn("Disputed charge has no payment intent, skipping",
			zap.String("ChargeID", dp.ChargeID),
		)
		return nil
	}

	updated, err := p.DeliveryManager.MarkDisputed(ctx, delivery.DisputeOption{
		PaymentIntentID: paymentIntentID,
		DisputeStatus:   dp.Status,
		EventAt:         e.OccurredAt,
	})
	if err != nil {
		return err
	}
	logger.Info("Dispute state applied",
		zap.String("PaymentIntentID", paymentIntentID),
		zap.String("DisputeStatus", dp.Status),
		zap.Int64("DeliveriesUpdated", updated),
	)

	template, notifies := disputeTemplates[e.Type]
	if !notifies {
		return nil
	}

	first, err := p.Guard.Claim(ctx, e.ID)
	if err != nil {
		return extErrors.Wrap(err, "Cannot deduplicate dispute event")
	}
	if !first {
		logger.Info("Dispute notification already sent")
		return nil
	}

	result, err := p.Notifier.NotifyAdmins(ctx, template, disputeSubject(e.Type, dp), p.disputePayload(dp, paymentIntentID))
	if err != nil {
		logger.Error("Unable to notify administrators of dispute",
			zap.Error(err),
		)
		return nil
	}
	if len(result.Failed) > 0 {
		logger.Warn("Some administrators were not notified of dispute",
			zap.Strings("Failed", result.Failed),
		)
	}
	return nil
}

var disputeTemplates = map[EventType]notify.Template{
	DisputeCreated: notify.TemplateDisputeCreated,
	DisputeClosed:  notify.TemplateDisputeClosed,
}

func disputeSubject(t EventType, dp *DisputeObject) string {
	if t == DisputeClosed {
		return fmt.Sprintf("Dispute %s closed: %s", dp.ID, dp.Status)
	}
	return fmt.Sprintf("New dispute %s: %s", dp.ID, dp.Reason)
}

func (p *Processor) disputePayload(dp *DisputeObject, paymentIntentID string) map[string]interface{} {
	payload := map[string]interface{}{
		"disputeId":       dp.ID,
		"paymentIntentId": paymentIntentID,
		"amount":          dp.Amount,
		"currency":        dp.Currency,
		"reason":          dp.Reason,
		"status":          dp.Status,
		"dashboardUrl":    strings.TrimSuffix(p.DashboardURL, "/") + "/disputes/" + dp.ID,
	}
	if dp.EvidenceDueBy != nil {
		payload["evidenceDueBy"] = dp.EvidenceDueBy.Format(time.RFC3339)
	}
	return payload
}
