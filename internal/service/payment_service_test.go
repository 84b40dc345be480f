package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wenwu/saas-platform/vps-service/internal/models"
	"github.com/wenwu/saas-platform/vps-service/internal/repository"
)

type recordingProvisioner struct {
	orders []string
	err    error
}

func (p *recordingProvisioner) Provision(ctx context.Context, orderID string) (*models.VPS, error) {
	p.orders = append(p.orders, orderID)
	if p.err != nil {
		return nil, p.err
	}
	return &models.VPS{ID: "vps-1", OrderID: orderID}, nil
}

func pendingOrder() *models.Order {
	return &models.Order{
		ID: "ord-1", ClientID: "cli-1", ExternalID: "vps-ext-1",
		FinalPrice: 150000, Status: models.OrderPendingPayment,
	}
}

func TestInvoiceWebhookPaidSettlesAndProvisions(t *testing.T) {
	orders := newFakeOrderStore(pendingOrder())
	prov := &recordingProvisioner{}
	svc := NewPaymentService(orders, prov)

	err := svc.HandleInvoiceWebhook(context.Background(), &models.InvoiceWebhook{
		ID: "inv-1", ExternalID: "vps-ext-1", Status: "PAID",
		Amount: 150000, PaidAt: "2026-08-20T10:00:00Z",
	})
	require.NoError(t, err)

	order := orders.orders["ord-1"]
	assert.Equal(t, models.OrderPaid, order.Status)
	require.NotNil(t, order.PaidAt)
	assert.Equal(t, time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC), order.PaidAt.UTC())
	assert.Equal(t, []string{"ord-1"}, prov.orders)
}

func TestInvoiceWebhookDuplicatePaidIsNoop(t *testing.T) {
	order := pendingOrder()
	order.Status = models.OrderPaid
	orders := newFakeOrderStore(order)
	prov := &recordingProvisioner{}
	svc := NewPaymentService(orders, prov)

	err := svc.HandleInvoiceWebhook(context.Background(), &models.InvoiceWebhook{
		ExternalID: "vps-ext-1", Status: "PAID", Amount: 150000,
	})
	require.NoError(t, err)

	assert.Empty(t, prov.orders, "duplicate delivery must not re-provision")
	assert.Empty(t, orders.paidOrders, "duplicate delivery must not re-settle")
}

func TestInvoiceWebhookAmountMismatch(t *testing.T) {
	orders := newFakeOrderStore(pendingOrder())
	prov := &recordingProvisioner{}
	svc := NewPaymentService(orders, prov)

	err := svc.HandleInvoiceWebhook(context.Background(), &models.InvoiceWebhook{
		ExternalID: "vps-ext-1", Status: "PAID", Amount: 99,
	})
	assert.ErrorIs(t, err, ErrAmountMismatch)

	assert.Equal(t, models.OrderPendingPayment, orders.orders["ord-1"].Status)
	assert.Empty(t, prov.orders)
}

func TestInvoiceWebhookUnknownOrder(t *testing.T) {
	svc := NewPaymentService(newFakeOrderStore(), &recordingProvisioner{})

	err := svc.HandleInvoiceWebhook(context.Background(), &models.InvoiceWebhook{
		ExternalID: "no-such-order", Status: "PAID", Amount: 1,
	})
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestInvoiceWebhookExpiredFlipsPendingOrder(t *testing.T) {
	orders := newFakeOrderStore(pendingOrder())
	svc := NewPaymentService(orders, &recordingProvisioner{})

	err := svc.HandleInvoiceWebhook(context.Background(), &models.InvoiceWebhook{
		ExternalID: "vps-ext-1", Status: "EXPIRED",
	})
	require.NoError(t, err)
	assert.Equal(t, models.OrderExpired, orders.orders["ord-1"].Status)
}

func TestProvisionFailureDoesNotBounceWebhook(t *testing.T) {
	orders := newFakeOrderStore(pendingOrder())
	prov := &recordingProvisioner{err: ErrNoIPAvailable}
	svc := NewPaymentService(orders, prov)

	err := svc.HandleInvoiceWebhook(context.Background(), &models.InvoiceWebhook{
		ExternalID: "vps-ext-1", Status: "PAID", Amount: 150000,
	})
	require.NoError(t, err, "payment is settled; provisioning retries out of band")
	assert.Equal(t, models.OrderPaid, orders.orders["ord-1"].Status)
}

func TestVirtualAccountWebhookSettles(t *testing.T) {
	orders := newFakeOrderStore(pendingOrder())
	prov := &recordingProvisioner{}
	svc := NewPaymentService(orders, prov)

	err := svc.HandleVirtualAccountWebhook(context.Background(), &models.VirtualAccountWebhook{
		CallbackVirtualAccountID: "va-1", ExternalID: "vps-ext-1", Amount: 150000,
	})
	require.NoError(t, err)
	assert.Equal(t, models.OrderPaid, orders.orders["ord-1"].Status)
	assert.Equal(t, []string{"ord-1"}, prov.orders)
}
