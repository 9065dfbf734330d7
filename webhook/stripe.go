package webhook

import (
	"encoding/json"
	"time"

	"github.com/coachpay/engine/compliance"

	extErrors "github.com/pkg/errors"
	"github.com/stripe/stripe-go/v72"
	stripeWebhook "github.com/stripe/stripe-go/v72/webhook"
)

// Metadata keys set on gateway subscriptions by the checkout flow
const (
	MetadataUserID    = "user_id"
	MetadataTrainerID = "trainer_id"
	MetadataPackageID = "package_id"
	MetadataPlatform  = "platform"
)

// ParseStripe verifies the Stripe-Signature header of payload against secret and converts the
// event. Event types without a handler yield ErrEventIgnored.
func ParseStripe(payload []byte, signature, secret string) (*Event, error) {
	e, err := stripeWebhook.ConstructEvent(payload, signature, secret)
	if err != nil {
		return nil, extErrors.Wrap(ErrInvalidSignature, err.Error())
	}
	return FromStripe(e)
}

// FromStripe converts an already verified Stripe event
func FromStripe(e stripe.Event) (*Event, error) {
	if len(e.ID) == 0 || e.Data == nil {
		return nil, ErrInvalidEvent
	}
	event := &Event{
		ID:         e.ID,
		OccurredAt: time.Unix(e.Created, 0).UTC(),
	}

	var err error
	switch e.Type {
	case "customer.subscription.created":
		event.Type = SubscriptionCreated
		event.Subscription, err = parseSubscription(e.Data.Raw)
	case "customer.subscription.updated":
		event.Subscription, err = parseSubscription(e.Data.Raw)
		if err != nil {
			break
		}
		switch {
		case event.Subscription.CancelAtPeriodEnd:
			event.Type = SubscriptionCancelled
		case event.Subscription.Status == string(stripe.SubscriptionStatusActive),
			event.Subscription.Status == string(stripe.SubscriptionStatusTrialing):
			event.Type = SubscriptionRenewed
		default:
			// past_due and friends are driven by invoice events
			return nil, ErrEventIgnored
		}
	case "customer.subscription.deleted":
		event.Type = SubscriptionCancelled
		event.Subscription, err = parseSubscription(e.Data.Raw)
		if err == nil {
			event.Subscription.Ended = true
		}
	case "invoice.paid":
		event.Type = InvoicePaid
		event.Invoice, err = parseInvoice(e.Data.Raw)
	case "invoice.payment_failed":
		event.Type = InvoiceFailed
		event.Invoice, err = parseInvoice(e.Data.Raw)
	case "payment_intent.succeeded":
		event.Type = PaymentSucceeded
		event.Payment, err = parsePaymentIntent(e.Data.Raw)
	case "charge.refunded":
		event.Type = ChargeRefunded
		event.Charge, err = parseCharge(e.Data.Raw)
	case "charge.dispute.created":
		event.Type = DisputeCreated
		event.Dispute, err = parseDispute(e.Data.Raw)
	case "charge.dispute.updated", "charge.dispute.funds_withdrawn", "charge.dispute.funds_reinstated":
		event.Type = DisputeUpdated
		event.Dispute, err = parseDispute(e.Data.Raw)
	case "charge.dispute.closed":
		event.Type = DisputeClosed
		event.Dispute, err = parseDispute(e.Data.Raw)
	default:
		return nil, ErrEventIgnored
	}
	if err != nil {
		return nil, err
	}
	return event, nil
}

func unixTime(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}

func optionalTime(sec int64) *time.Time {
	if sec == 0 {
		return nil
	}
	t := unixTime(sec)
	return &t
}

func parseSubscription(raw json.RawMessage) (*SubscriptionObject, error) {
	var sub stripe.Subscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return nil, extErrors.Wrap(ErrInvalidEvent, err.Error())
	}
	if len(sub.ID) == 0 {
		return nil, ErrInvalidEvent
	}
	obj := &SubscriptionObject{
		GatewayID:         sub.ID,
		Status:            string(sub.Status),
		PeriodStart:       unixTime(sub.CurrentPeriodStart),
		PeriodEnd:         unixTime(sub.CurrentPeriodEnd),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}
	if sub.Metadata != nil {
		obj.UserID = sub.Metadata[MetadataUserID]
		obj.TrainerID = sub.Metadata[MetadataTrainerID]
		obj.PackageID = sub.Metadata[MetadataPackageID]
		if platform, err := compliance.ParsePlatform(sub.Metadata[MetadataPlatform]); err == nil {
			obj.Platform = platform
		}
	}
	if sub.LatestInvoice != nil {
		obj.LatestInvoiceID = sub.LatestInvoice.ID
	}
	return obj, nil
}

func parseInvoice(raw json.RawMessage) (*InvoiceObject, error) {
	var inv stripe.Invoice
	if err := json.Unmarshal(raw, &inv); err != nil {
		return nil, extErrors.Wrap(ErrInvalidEvent, err.Error())
	}
	if len(inv.ID) == 0 {
		return nil, ErrInvalidEvent
	}
	obj := &InvoiceObject{
		ID:                 inv.ID,
		Amount:             inv.AmountPaid,
		Currency:           string(inv.Currency),
		PeriodStart:        unixTime(inv.PeriodStart),
		PeriodEnd:          unixTime(inv.PeriodEnd),
		AttemptCount:       int(inv.AttemptCount),
		NextPaymentAttempt: optionalTime(inv.NextPaymentAttempt),
	}
	if obj.Amount == 0 {
		obj.Amount = inv.AmountDue
	}
	if inv.Subscription != nil {
		obj.SubscriptionGatewayID = inv.Subscription.ID
	}
	if inv.PaymentIntent != nil {
		obj.PaymentIntentID = inv.PaymentIntent.ID
	}
	// invoice periods lag one cycle behind, the subscription line carries the billed period
	if inv.Lines != nil {
		for _, line := range inv.Lines.Data {
			if line.Period != nil && line.Period.End > 0 {
				obj.PeriodStart = unixTime(line.Period.Start)
				obj.PeriodEnd = unixTime(line.Period.End)
				break
			}
		}
	}
	return obj, nil
}

func parsePaymentIntent(raw json.RawMessage) (*PaymentObject, error) {
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(raw, &pi); err != nil {
		return nil, extErrors.Wrap(ErrInvalidEvent, err.Error())
	}
	if len(pi.ID) == 0 {
		return nil, ErrInvalidEvent
	}
	obj := &PaymentObject{
		PaymentIntentID: pi.ID,
		Amount:          pi.AmountReceived,
		Currency:        string(pi.Currency),
	}
	if obj.Amount == 0 {
		obj.Amount = pi.Amount
	}
	if pi.Invoice != nil {
		obj.InvoiceID = pi.Invoice.ID
	}
	if pi.Metadata != nil {
		obj.UserID = pi.Metadata[MetadataUserID]
		obj.TrainerID = pi.Metadata[MetadataTrainerID]
		obj.PackageID = pi.Metadata[MetadataPackageID]
	}
	return obj, nil
}

func parseCharge(raw json.RawMessage) (*ChargeObject, error) {
	var ch stripe.Charge
	if err := json.Unmarshal(raw, &ch); err != nil {
		return nil, extErrors.Wrap(ErrInvalidEvent, err.Error())
	}
	if len(ch.ID) == 0 {
		return nil, ErrInvalidEvent
	}
	obj := &ChargeObject{
		ID:             ch.ID,
		AmountRefunded: ch.AmountRefunded,
		FullyRefunded:  ch.Refunded,
	}
	if ch.PaymentIntent != nil {
		obj.PaymentIntentID = ch.PaymentIntent.ID
	}
	if ch.Invoice != nil {
		obj.InvoiceID = ch.Invoice.ID
	}
	if ch.Refunds != nil && len(ch.Refunds.Data) > 0 {
		obj.RefundReason = string(ch.Refunds.Data[0].Reason)
	}
	return obj, nil
}

func parseDispute(raw json.RawMessage) (*DisputeObject, error) {
	var dp stripe.Dispute
	if err := json.Unmarshal(raw, &dp); err != nil {
		return nil, extErrors.Wrap(ErrInvalidEvent, err.Error())
	}
	if len(dp.ID) == 0 {
		return nil, ErrInvalidEvent
	}
	obj := &DisputeObject{
		ID:       dp.ID,
		Amount:   dp.Amount,
		Currency: string(dp.Currency),
		Reason:   string(dp.Reason),
		Status:   string(dp.Status),
	}
	if dp.Charge != nil {
		obj.ChargeID = dp.Charge.ID
	}
	if dp.PaymentIntent != nil {
		obj.PaymentIntentID = dp.PaymentIntent.ID
	}
	if dp.EvidenceDetails != nil {
		obj.EvidenceDueBy = optionalTime(dp.EvidenceDetails.DueBy)
	}
	if len(obj.ChargeID) == 0 && len(obj.PaymentIntentID) == 0 {
		return nil, ErrInvalidEvent
	}
	return obj, nil
}
