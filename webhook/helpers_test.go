package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coachpay/engine/account"
	"github.com/coachpay/engine/auth"
	"github.com/coachpay/engine/delivery"
	"github.com/coachpay/engine/notify"
	"github.com/coachpay/engine/subscription"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v72"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testSecret = "whsec_test_secret"

var occurred = time.Date(2024, 4, 1, 10, 0, 0, 0, time.UTC)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	return db
}

type recordingDispatcher struct {
	mu      sync.Mutex
	sent    []notify.Message
	failFor map[string]bool
}

func (r *recordingDispatcher) Dispatch(ctx context.Context, msg notify.Message) error {
	if r.failFor[msg.Recipient] {
		return fmt.Errorf("push provider unavailable")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg)
	return nil
}

type fakeCharges struct {
	intents map[string]string
	err     error
	calls   int
}

func (f *fakeCharges) PaymentIntentForCharge(ctx context.Context, chargeID string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.intents[chargeID], nil
}

type fixture struct {
	processor  *Processor
	subs       *subscription.Manager
	deliveries *delivery.Manager
	dispatcher *recordingDispatcher
	charges    *fakeCharges
	db         *gorm.DB
}

func newFixture(t *testing.T) *fixture {
	db := setupTestDB(t)
	log := zap.NewNop()

	subs, err := subscription.NewManager(subscription.ManagerOptions{DB: db, Logger: log, TrialDays: 14, MaxRetries: 4})
	require.NoError(t, err)
	deliveries, err := delivery.NewManager(log, db)
	require.NoError(t, err)
	accounts, err := account.NewManager(log, db)
	require.NoError(t, err)
	for i, id := range []string{"admin_1", "admin_2"} {
		require.NoError(t, accounts.Create(context.Background(), &account.Account{
			ID:        id,
			Email:     id + "@example.com",
			Role:      auth.RoleAdmin,
			CreatedAt: occurred.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, accounts.Create(context.Background(), &account.Account{ID: "client_1", Email: "client@example.com", Role: auth.RoleClient}))

	dispatcher := &recordingDispatcher{failFor: map[string]bool{}}
	notifier, err := notify.New(notify.Options{Logger: log, Dispatcher: dispatcher, Admins: accounts})
	require.NoError(t, err)
	guard, err := NewDBGuard(db)
	require.NoError(t, err)
	charges := &fakeCharges{intents: map[string]string{}}

	processor, err := NewProcessor(ProcessorOptions{
		Logger:              log,
		SubscriptionManager: subs,
		DeliveryManager:     deliveries,
		Notifier:            notifier,
		Guard:               guard,
		Charges:             charges,
		GraceDays:           7,
		MaxRetries:          4,
		DashboardURL:        "https://dashboard.stripe.com/",
	})
	require.NoError(t, err)

	return &fixture{
		processor:  processor,
		subs:       subs,
		deliveries: deliveries,
		dispatcher: dispatcher,
		charges:    charges,
		db:         db,
	}
}

func (f *fixture) seedSubscription(t *testing.T, status subscription.Status, packageID string) *subscription.Subscription {
	sub := &subscription.Subscription{
		ID:                      "sub_local",
		UserID:                  "client_1",
		TrainerID:               "tr_1",
		PackageID:               packageID,
		Status:                  status,
		StartDate:               occurred.AddDate(0, -1, 0),
		EndDate:                 occurred,
		GatewaySubscriptionID:   "sub_1",
		GatewayInitialInvoiceID: "in_1",
	}
	created, err := f.subs.Create(context.Background(), sub)
	require.NoError(t, err)
	require.True(t, created)
	return sub
}

func (f *fixture) process(t *testing.T, eventType string, at time.Time, object map[string]interface{}) error {
	return f.processWithID(t, "evt_"+eventType+at.Format("150405"), eventType, at, object)
}

func (f *fixture) processWithID(t *testing.T, id, eventType string, at time.Time, object map[string]interface{}) error {
	e, err := FromStripe(stripeEvent(t, id, eventType, at, object))
	require.NoError(t, err)
	return f.processor.Process(context.Background(), e)
}

func eventPayload(t *testing.T, id, eventType string, at time.Time, object map[string]interface{}) []byte {
	payload, err := json.Marshal(map[string]interface{}{
		"id":          id,
		"object":      "event",
		"api_version": stripe.APIVersion,
		"created":     at.Unix(),
		"type":        eventType,
		"data": map[string]interface{}{
			"object": object,
		},
	})
	require.NoError(t, err)
	return payload
}

func stripeEvent(t *testing.T, id, eventType string, at time.Time, object map[string]interface{}) stripe.Event {
	var e stripe.Event
	require.NoError(t, json.Unmarshal(eventPayload(t, id, eventType, at, object), &e))
	return e
}

func signatureHeader(secret string, payload []byte, timestamp int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(fmt.Sprintf("%d.%s", timestamp, payload)))
	return fmt.Sprintf("t=%d,v1=%s", timestamp, hex.EncodeToString(mac.Sum(nil)))
}

func subscriptionObject(status string, cancelAtPeriodEnd bool, periodEnd time.Time) map[string]interface{} {
	return map[string]interface{}{
		"id":                   "sub_1",
		"object":               "subscription",
		"status":               status,
		"current_period_start": periodEnd.AddDate(0, -1, 0).Unix(),
		"current_period_end":   periodEnd.Unix(),
		"cancel_at_period_end": cancelAtPeriodEnd,
		"latest_invoice":       "in_1",
		"metadata": map[string]string{
			MetadataUserID:    "client_1",
			MetadataTrainerID: "tr_1",
			MetadataPackageID: "pkg_workout",
			MetadataPlatform:  "ios",
		},
	}
}

func invoiceObject(id string, attempt int, nextAttempt *time.Time, periodEnd time.Time) map[string]interface{} {
	var next interface{}
	if nextAttempt != nil {
		next = nextAttempt.Unix()
	}
	return map[string]interface{}{
		"id":                   id,
		"object":               "invoice",
		"subscription":         "sub_1",
		"payment_intent":       "pi_" + id,
		"amount_paid":          4900,
		"amount_due":           4900,
		"currency":             "nok",
		"attempt_count":        attempt,
		"next_payment_attempt": next,
		"period_start":         periodEnd.AddDate(0, -2, 0).Unix(),
		"period_end":           periodEnd.AddDate(0, -1, 0).Unix(),
		"lines": map[string]interface{}{
			"object": "list",
			"data": []map[string]interface{}{
				{
					"id":     "il_1",
					"object": "line_item",
					"period": map[string]int64{
						"start": periodEnd.AddDate(0, -1, 0).Unix(),
						"end":   periodEnd.Unix(),
					},
				},
			},
		},
	}
}

func disputeObject(status string, paymentIntent string) map[string]interface{} {
	obj := map[string]interface{}{
		"id":       "dp_1",
		"object":   "dispute",
		"charge":   "ch_1",
		"amount":   4900,
		"currency": "nok",
		"reason":   "fraudulent",
		"status":   status,
		"evidence_details": map[string]interface{}{
			"due_by": occurred.AddDate(0, 0, 14).Unix(),
		},
	}
	if len(paymentIntent) > 0 {
		obj["payment_intent"] = paymentIntent
	}
	return obj
}

func paymentIntentObject(id string, metadata map[string]string) map[string]interface{} {
	return map[string]interface{}{
		"id":              id,
		"object":          "payment_intent",
		"amount":          4900,
		"amount_received": 4900,
		"currency":        "nok",
		"status":          "succeeded",
		"metadata":        metadata,
	}
}

func checkoutMetadata() map[string]string {
	return map[string]string{
		MetadataUserID:    "client_1",
		MetadataTrainerID: "tr_1",
		MetadataPackageID: "pkg_workout",
		MetadataPlatform:  "web",
	}
}
