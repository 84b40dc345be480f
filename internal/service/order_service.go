package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/wenwu/saas-platform/vps-service/internal/client"
	"github.com/wenwu/saas-platform/vps-service/internal/config"
	"github.com/wenwu/saas-platform/vps-service/internal/models"
	"github.com/wenwu/saas-platform/vps-service/internal/repository"
)

// OrderService handles checkout pricing, order creation and invoicing
type OrderService struct {
	orderRepo   orderStore
	pricingRepo pricingStore
	regionRepo  regionStore
	xendit      invoicer

	cfg config.XenditConfig
	now func() time.Time
}

// NewOrderService creates a new order service
func NewOrderService(orderRepo orderStore, pricingRepo pricingStore, regionRepo regionStore, xendit invoicer, cfg config.XenditConfig) *OrderService {
	return &OrderService{
		orderRepo:   orderRepo,
		pricingRepo: pricingRepo,
		regionRepo:  regionRepo,
		xendit:      xendit,
		cfg:         cfg,
		now:         time.Now,
	}
}

// Preview computes the price breakdown for a checkout without creating
// anything.
func (s *OrderService) Preview(ctx context.Context, req *models.CreateOrderRequest) (*models.CheckoutPreview, error) {
	pricing, promo, err := s.loadPricing(ctx, req)
	if err != nil {
		return nil, err
	}

	raw, backupCost, discount := s.price(pricing, promo, req.BackupEnabled)
	return &models.CheckoutPreview{
		RawPrice:       raw,
		BackupCost:     backupCost,
		Discount:       discount,
		FinalPrice:     raw + backupCost - discount,
		DurationMonths: pricing.Months,
	}, nil
}

// CreateOrder prices the request, persists the order and opens a hosted
// invoice. If the gateway refuses the invoice the order flips to CANCELLED
// so the client can retry cleanly.
func (s *OrderService) CreateOrder(ctx context.Context, req *models.CreateOrderRequest) (*models.CreateOrderResponse, error) {
	pricing, promo, err := s.loadPricing(ctx, req)
	if err != nil {
		return nil, err
	}

	if _, err := s.regionRepo.GetByName(ctx, req.Region); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("unknown region %s", req.Region)
		}
		return nil, fmt.Errorf("load region: %w", err)
	}

	raw, backupCost, discount := s.price(pricing, promo, req.BackupEnabled)
	now := s.now()

	order := &models.Order{
		ID:              uuid.New().String(),
		ClientID:        req.ClientID,
		PricingID:       pricing.ID,
		PromoID:         req.PromoID,
		Region:          req.Region,
		TemplateID:      req.TemplateID,
		BackupEnabled:   req.BackupEnabled,
		RawPrice:        raw + backupCost,
		Discount:        discount,
		FinalPrice:      raw + backupCost - discount,
		Months:          pricing.Months,
		NextBillingDate: now.AddDate(0, pricing.Months, 0),
		Status:          models.OrderPendingPayment,
		ExternalID:      fmt.Sprintf("vps-%s", uuid.New().String()),
	}

	if err := s.orderRepo.Create(ctx, order); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	invoice, err := s.xendit.CreateInvoice(ctx, &client.CreateInvoiceRequest{
		ExternalID:      order.ExternalID,
		Amount:          order.FinalPrice,
		PayerEmail:      req.ClientEmail,
		Description:     fmt.Sprintf("VPS %s (%d months)", pricing.Name, pricing.Months),
		InvoiceDuration: int(s.cfg.InvoiceTTL.Seconds()),
	})
	if err != nil {
		log.Printf("[Order] Invoice creation failed for %s, cancelling: %v", order.ID, err)
		if cancelErr := s.orderRepo.UpdateStatus(ctx, order.ID, models.OrderCancelled); cancelErr != nil {
			log.Printf("[Order] Failed to cancel order %s: %v", order.ID, cancelErr)
		}
		return nil, fmt.Errorf("create invoice: %w", err)
	}

	if err := s.orderRepo.SetInvoice(ctx, order.ID, invoice.ID, invoice.InvoiceURL, &invoice.ExpiryDate); err != nil {
		return nil, fmt.Errorf("attach invoice: %w", err)
	}

	log.Printf("[Order] Created order %s (external %s, amount %d)", order.ID, order.ExternalID, order.FinalPrice)

	return &models.CreateOrderResponse{
		OrderID:    order.ID,
		ExternalID: order.ExternalID,
		Status:     order.Status,
		FinalPrice: order.FinalPrice,
		InvoiceID:  &invoice.ID,
		InvoiceURL: &invoice.InvoiceURL,
		ExpiresAt:  &invoice.ExpiryDate,
	}, nil
}

// PaymentStatus reports what the client sees on the payment page.
func (s *OrderService) PaymentStatus(ctx context.Context, orderID string) (*models.PaymentStatusResponse, error) {
	order, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order: %w", err)
	}

	// For a pending order, also surface the live gateway status so the
	// payment page reflects an invoice the webhook has not delivered yet.
	// The gateway being unreachable degrades to the stored view.
	var gatewayStatus *string
	if order.Status == models.OrderPendingPayment && order.InvoiceID != nil {
		invoice, err := s.xendit.GetInvoice(ctx, *order.InvoiceID)
		if err != nil {
			log.Printf("[Order] Invoice lookup failed for order %s: %v", order.ID, err)
		} else {
			gatewayStatus = &invoice.Status
		}
	}

	return &models.PaymentStatusResponse{
		OrderID:       order.ID,
		ExternalID:    order.ExternalID,
		Status:        order.Status,
		Amount:        order.FinalPrice,
		PaidAt:        order.PaidAt,
		InvoiceID:     order.InvoiceID,
		InvoiceURL:    order.InvoiceURL,
		GatewayStatus: gatewayStatus,
		CreatedAt:     order.CreatedAt,
	}, nil
}

func (s *OrderService) loadPricing(ctx context.Context, req *models.CreateOrderRequest) (*models.ProductPricing, *models.Promo, error) {
	pricing, err := s.pricingRepo.GetPricing(ctx, req.PricingID)
	if err != nil {
		return nil, nil, fmt.Errorf("load pricing: %w", err)
	}
	if !pricing.IsActive {
		return nil, nil, fmt.Errorf("pricing %s is not active", pricing.ID)
	}

	if req.PromoID == nil {
		return pricing, nil, nil
	}

	promo, err := s.pricingRepo.GetPromo(ctx, *req.PromoID)
	if err != nil {
		return nil, nil, fmt.Errorf("load promo: %w", err)
	}

	if err := s.checkPromo(ctx, promo, req.ClientID, pricing.Price); err != nil {
		return nil, nil, err
	}

	return pricing, promo, nil
}

// checkPromo enforces the promo's activation window, usage caps and minimum
// order amount.
func (s *OrderService) checkPromo(ctx context.Context, promo *models.Promo, clientID string, orderAmount int64) error {
	now := s.now()

	if !promo.IsActive || now.Before(promo.StartsAt) || now.After(promo.EndsAt) {
		return fmt.Errorf("%w: %s is not active", ErrPromoNotApplicable, promo.Code)
	}
	if promo.GlobalLimit != nil && promo.UsedCount >= *promo.GlobalLimit {
		return fmt.Errorf("%w: %s is exhausted", ErrPromoNotApplicable, promo.Code)
	}
	if promo.MinOrderAmount != nil && orderAmount < *promo.MinOrderAmount {
		return fmt.Errorf("%w: order below minimum for %s", ErrPromoNotApplicable, promo.Code)
	}

	if promo.UserLimit != nil {
		used, err := s.pricingRepo.CountPromoUsage(ctx, promo.ID, clientID)
		if err != nil {
			return fmt.Errorf("count promo usage: %w", err)
		}
		if used >= *promo.UserLimit {
			return fmt.Errorf("%w: %s already used by client", ErrPromoNotApplicable, promo.Code)
		}
	}

	return nil
}

func (s *OrderService) price(pricing *models.ProductPricing, promo *models.Promo, backupEnabled bool) (raw, backupCost, discount int64) {
	raw = pricing.Price
	if backupEnabled {
		backupCost = pricing.BackupPrice
	}

	if promo == nil {
		return raw, backupCost, 0
	}

	base := raw + backupCost
	switch promo.Type {
	case models.PromoPercent:
		discount = base * promo.Value / 100
		if promo.MaxDiscount != nil && discount > *promo.MaxDiscount {
			discount = *promo.MaxDiscount
		}
	case models.PromoFixed:
		discount = promo.Value
	}

	if discount > base {
		discount = base
	}
	return raw, backupCost, discount
}
