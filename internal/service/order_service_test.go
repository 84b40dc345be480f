package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wenwu/saas-platform/vps-service/internal/client"
	"github.com/wenwu/saas-platform/vps-service/internal/config"
	"github.com/wenwu/saas-platform/vps-service/internal/models"
)

type orderFixture struct {
	orders  *fakeOrderStore
	pricing *fakePricingStore
	xendit  *fakeInvoicer
	svc     *OrderService
	now     time.Time
}

func newOrderFixture() *orderFixture {
	f := &orderFixture{
		orders:  newFakeOrderStore(),
		pricing: newFakePricingStore(),
		now:     time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC),
	}
	f.pricing.pricings["price-1"] = &models.ProductPricing{
		ID: "price-1", Name: "small", Price: 100000, BackupPrice: 20000, Months: 3, IsActive: true,
	}
	expiry := f.now.Add(48 * time.Hour)
	f.xendit = &fakeInvoicer{invoice: &client.Invoice{
		ID: "inv-1", Status: "PENDING", InvoiceURL: "https://pay.example/inv-1", ExpiryDate: expiry,
	}}

	regions := newFakeRegionStore(&models.Region{ID: "reg-1", Name: "jakarta"})
	f.svc = NewOrderService(f.orders, f.pricing, regions, f.xendit, config.XenditConfig{InvoiceTTL: 48 * time.Hour})
	f.svc.now = func() time.Time { return f.now }
	return f
}

func (f *orderFixture) addPromo(p *models.Promo) {
	if p.StartsAt.IsZero() {
		p.StartsAt = f.now.Add(-time.Hour)
	}
	if p.EndsAt.IsZero() {
		p.EndsAt = f.now.Add(time.Hour)
	}
	f.pricing.promos[p.ID] = p
}

func baseRequest() *models.CreateOrderRequest {
	return &models.CreateOrderRequest{
		ClientID: "cli-1", ClientEmail: "c@example.com",
		PricingID: "price-1", Region: "jakarta",
	}
}

func TestPreviewWithoutPromo(t *testing.T) {
	f := newOrderFixture()
	req := baseRequest()
	req.BackupEnabled = true

	preview, err := f.svc.Preview(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, int64(100000), preview.RawPrice)
	assert.Equal(t, int64(20000), preview.BackupCost)
	assert.Equal(t, int64(0), preview.Discount)
	assert.Equal(t, int64(120000), preview.FinalPrice)
	assert.Equal(t, 3, preview.DurationMonths)
}

func TestPreviewPercentPromoHonorsMaxDiscount(t *testing.T) {
	f := newOrderFixture()
	maxDiscount := int64(15000)
	f.addPromo(&models.Promo{
		ID: "promo-1", Code: "LAUNCH50", Type: models.PromoPercent, Value: 50,
		MaxDiscount: &maxDiscount, IsActive: true,
	})
	req := baseRequest()
	promoID := "promo-1"
	req.PromoID = &promoID

	preview, err := f.svc.Preview(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int64(15000), preview.Discount, "half of 100000 is capped at 15000")
	assert.Equal(t, int64(85000), preview.FinalPrice)
}

func TestPromoRejections(t *testing.T) {
	userLimit := 1
	globalLimit := 10
	minAmount := int64(500000)

	tests := []struct {
		name  string
		promo *models.Promo
		setup func(f *orderFixture)
	}{
		{
			name:  "inactive",
			promo: &models.Promo{ID: "p", Code: "X", Type: models.PromoFixed, Value: 1000, IsActive: false},
		},
		{
			name: "expired window",
			promo: &models.Promo{
				ID: "p", Code: "X", Type: models.PromoFixed, Value: 1000, IsActive: true,
				StartsAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
				EndsAt:   time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
			},
		},
		{
			name: "global limit exhausted",
			promo: &models.Promo{
				ID: "p", Code: "X", Type: models.PromoFixed, Value: 1000, IsActive: true,
				GlobalLimit: &globalLimit, UsedCount: 10,
			},
		},
		{
			name: "below minimum order",
			promo: &models.Promo{
				ID: "p", Code: "X", Type: models.PromoFixed, Value: 1000, IsActive: true,
				MinOrderAmount: &minAmount,
			},
		},
		{
			name: "per-user limit reached",
			promo: &models.Promo{
				ID: "p", Code: "X", Type: models.PromoFixed, Value: 1000, IsActive: true,
				UserLimit: &userLimit,
			},
			setup: func(f *orderFixture) { f.pricing.usage["p/cli-1"] = 1 },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newOrderFixture()
			f.addPromo(tt.promo)
			if tt.setup != nil {
				tt.setup(f)
			}

			req := baseRequest()
			promoID := "p"
			req.PromoID = &promoID

			_, err := f.svc.Preview(context.Background(), req)
			assert.ErrorIs(t, err, ErrPromoNotApplicable)
		})
	}
}

func TestCreateOrderOpensInvoice(t *testing.T) {
	f := newOrderFixture()

	resp, err := f.svc.CreateOrder(context.Background(), baseRequest())
	require.NoError(t, err)

	assert.Equal(t, models.OrderPendingPayment, resp.Status)
	assert.Equal(t, int64(100000), resp.FinalPrice)
	require.NotNil(t, resp.InvoiceURL)
	assert.Equal(t, "https://pay.example/inv-1", *resp.InvoiceURL)

	stored := f.orders.orders[resp.OrderID]
	require.NotNil(t, stored)
	assert.Equal(t, f.now.AddDate(0, 3, 0), stored.NextBillingDate)
	require.NotNil(t, stored.InvoiceID)
	assert.Equal(t, "inv-1", *stored.InvoiceID)

	require.Len(t, f.xendit.requests, 1)
	assert.Equal(t, int64(100000), f.xendit.requests[0].Amount)
	assert.Equal(t, int(48*time.Hour/time.Second), f.xendit.requests[0].InvoiceDuration)
}

func TestCreateOrderCancelsOnInvoiceFailure(t *testing.T) {
	f := newOrderFixture()
	f.xendit.createErr = errors.New("gateway 502")

	_, err := f.svc.CreateOrder(context.Background(), baseRequest())
	require.Error(t, err)

	require.Len(t, f.orders.orders, 1)
	for _, o := range f.orders.orders {
		assert.Equal(t, models.OrderCancelled, o.Status)
	}
}

func TestCreateOrderUnknownRegion(t *testing.T) {
	f := newOrderFixture()
	req := baseRequest()
	req.Region = "atlantis"

	_, err := f.svc.CreateOrder(context.Background(), req)
	assert.Error(t, err)
	assert.Empty(t, f.xendit.requests)
}

func TestPaymentStatus(t *testing.T) {
	f := newOrderFixture()
	resp, err := f.svc.CreateOrder(context.Background(), baseRequest())
	require.NoError(t, err)

	status, err := f.svc.PaymentStatus(context.Background(), resp.OrderID)
	require.NoError(t, err)
	assert.Equal(t, resp.ExternalID, status.ExternalID)
	assert.Equal(t, models.OrderPendingPayment, status.Status)
	assert.Equal(t, int64(100000), status.Amount)

	// Pending orders also report the live invoice status from the gateway.
	assert.Equal(t, []string{"inv-1"}, f.xendit.fetched)
	require.NotNil(t, status.GatewayStatus)
	assert.Equal(t, "PENDING", *status.GatewayStatus)
}

func TestPaymentStatusSurvivesGatewayOutage(t *testing.T) {
	f := newOrderFixture()
	resp, err := f.svc.CreateOrder(context.Background(), baseRequest())
	require.NoError(t, err)

	f.xendit.getErr = errors.New("gateway timeout")

	status, err := f.svc.PaymentStatus(context.Background(), resp.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderPendingPayment, status.Status)
	assert.Nil(t, status.GatewayStatus)
}
