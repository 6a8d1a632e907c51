package basepay

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const qrEndpoint = "https://api.qrserver.com/v1/create-qr-code/"

// CheckoutResult is the outcome of InitCheckout. Exactly one of
// AccessGranted, FreeAccess, or a live reservation (SessionToken set) is
// populated.
type CheckoutResult struct {
	AccessGranted  bool            `json:"accessGranted,omitempty"`
	FreeAccess     bool            `json:"freeAccess,omitempty"`
	SessionToken   string          `json:"sessionToken,omitempty"`
	ReservedAmount decimal.Decimal `json:"reservedAmount,omitempty"`
	PayTo          string          `json:"payTo,omitempty"`
	QRCodeURL      string          `json:"qrCodeUrl,omitempty"`
}

// Purchase is one unlocked item on the buyer's lookup page.
type Purchase struct {
	ContentRef   uint64 `json:"contentRef"`
	Title        string `json:"title"`
	URL          string `json:"url"`
	ThumbnailURL string `json:"thumbnailUrl,omitempty"`
}

// CheckoutService ties the allocator, session store, matcher and ledger
// together into the operations a paywall client calls.
type CheckoutService struct {
	ledger    Ledger
	sessions  *SessionStore
	allocator *Allocator
	matcher   *Matcher
	catalog   ContentCatalog
	wallet    string
	hooks     serviceHooks
	nowFunc   func() time.Time
	log       *zap.Logger
}

// ServiceOption configures a CheckoutService.
type ServiceOption func(*CheckoutService)

// WithServiceLogger sets the service logger.
func WithServiceLogger(log *zap.Logger) ServiceOption {
	return func(s *CheckoutService) {
		s.log = log
	}
}

// WithAfterCheckoutStarted registers a hook run after a reservation is minted.
func WithAfterCheckoutStarted(h AfterCheckoutStartedHook) ServiceOption {
	return func(s *CheckoutService) {
		s.hooks.afterCheckoutStarted = append(s.hooks.afterCheckoutStarted, h)
	}
}

// WithAfterPaymentConfirmed registers a hook run after a payment settles.
func WithAfterPaymentConfirmed(h AfterPaymentConfirmedHook) ServiceOption {
	return func(s *CheckoutService) {
		s.hooks.afterPaymentConfirmed = append(s.hooks.afterPaymentConfirmed, h)
	}
}

// WithAfterAccessGranted registers a hook run after free-test and manual grants.
func WithAfterAccessGranted(h AfterAccessGrantedHook) ServiceOption {
	return func(s *CheckoutService) {
		s.hooks.afterAccessGranted = append(s.hooks.afterAccessGranted, h)
	}
}

// NewCheckoutService wires the engine components together. wallet is the
// shared receiving address shown to buyers.
func NewCheckoutService(ledger Ledger, sessions *SessionStore, allocator *Allocator, matcher *Matcher, catalog ContentCatalog, wallet string, opts ...ServiceOption) *CheckoutService {
	s := &CheckoutService{
		ledger:    ledger,
		sessions:  sessions,
		allocator: allocator,
		matcher:   matcher,
		catalog:   catalog,
		wallet:    wallet,
		nowFunc:   time.Now,
		log:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// InitCheckout starts a purchase. If the buyer already owns the content,
// access is granted without creating an order. Free-test content creates
// an immediately successful order. Otherwise a reservation is minted and
// the buyer is told the exact amount and address to pay.
func (s *CheckoutService) InitCheckout(ctx context.Context, contentRef uint64, buyer, originIP string) (CheckoutResult, error) {
	meta, err := s.catalog.Lookup(ctx, contentRef)
	if err != nil {
		return CheckoutResult{}, err
	}

	owned, err := s.ledger.HasSuccess(ctx, buyer, contentRef)
	if err != nil {
		return CheckoutResult{}, err
	}
	if owned {
		return CheckoutResult{AccessGranted: true}, nil
	}

	if meta.FreeTest {
		return s.grantFreeTest(ctx, meta, buyer, originIP)
	}

	if s.wallet == "" {
		return CheckoutResult{}, NewConfigError("receiving wallet is not configured")
	}
	if !meta.Price.IsPositive() {
		return CheckoutResult{}, NewConfigError(fmt.Sprintf("content %d has no price", contentRef))
	}

	order, err := s.allocator.Reserve(ctx, meta.Price, "video", buyer, contentRef, originIP)
	if err != nil {
		return CheckoutResult{}, err
	}

	token := s.sessions.Put(Session{
		OrderID:        order.ID,
		ContentRef:     contentRef,
		ReservedAmount: order.ReservedAmount,
		PayTo:          s.wallet,
	})

	s.fireCheckoutStarted(CheckoutStartedContext{Order: order, Meta: meta, Timestamp: s.nowFunc()})

	return CheckoutResult{
		SessionToken:   token,
		ReservedAmount: order.ReservedAmount,
		PayTo:          s.wallet,
		QRCodeURL:      qrCodeURL(s.wallet),
	}, nil
}

// VerifyPayment runs one reconcile round for the session's order.
func (s *CheckoutService) VerifyPayment(ctx context.Context, token string) (VerifyResult, error) {
	res, err := s.matcher.Verify(ctx, token)
	if err != nil {
		return VerifyResult{}, err
	}
	if res.Settled {
		meta, merr := s.catalog.Lookup(ctx, res.Order.ContentRef)
		if merr != nil {
			meta = ContentMeta{Ref: res.Order.ContentRef}
		}
		s.firePaymentConfirmed(PaymentConfirmedContext{
			Order:         res.Order,
			Meta:          meta,
			SettlementRef: res.SettlementRef,
			Timestamp:     s.nowFunc(),
		})
	}
	return res, nil
}

// RestoreAccess reports whether the buyer already paid for the content.
// Read-only, no side effects.
func (s *CheckoutService) RestoreAccess(ctx context.Context, buyer string, contentRef uint64) (bool, error) {
	return s.ledger.HasSuccess(ctx, buyer, contentRef)
}

// ListPurchases returns the buyer's unlocked items joined with display
// metadata. Content the catalog no longer knows is omitted.
func (s *CheckoutService) ListPurchases(ctx context.Context, buyer string) ([]Purchase, error) {
	orders, err := s.ledger.SuccessByBuyer(ctx, buyer)
	if err != nil {
		return nil, err
	}

	seen := make(map[uint64]bool)
	var out []Purchase
	for _, o := range orders {
		if o.ContentRef == 0 || seen[o.ContentRef] {
			continue
		}
		seen[o.ContentRef] = true
		meta, err := s.catalog.Lookup(ctx, o.ContentRef)
		if err != nil {
			continue
		}
		out = append(out, Purchase{
			ContentRef:   o.ContentRef,
			Title:        meta.Title,
			URL:          meta.URL,
			ThumbnailURL: meta.ThumbnailURL,
		})
	}
	return out, nil
}

// ForceSuccess is the audited administrative override: it marks the order
// paid without a settlement reference. Idempotent.
func (s *CheckoutService) ForceSuccess(ctx context.Context, orderID uint64) (*Order, error) {
	order, err := s.ledger.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status == StatusSuccess {
		return order, nil
	}

	if err := s.ledger.ForceSuccess(ctx, orderID); err != nil {
		return nil, err
	}
	order, err = s.ledger.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}

	meta, merr := s.catalog.Lookup(ctx, order.ContentRef)
	if merr != nil {
		meta = ContentMeta{Ref: order.ContentRef}
	}
	s.fireAccessGranted(AccessGrantedContext{Order: order, Meta: meta, Manual: true, Timestamp: s.nowFunc()})

	s.log.Info("order manually marked success", zap.Uint64("orderId", orderID))
	return order, nil
}

// DeleteOrder removes an order of any status.
func (s *CheckoutService) DeleteOrder(ctx context.Context, orderID uint64) error {
	if err := s.ledger.Delete(ctx, orderID); err != nil {
		return err
	}
	s.log.Info("order deleted", zap.Uint64("orderId", orderID))
	return nil
}

// ListOrders returns every order, newest first, for the admin dashboard.
func (s *CheckoutService) ListOrders(ctx context.Context) ([]*Order, error) {
	return s.ledger.List(ctx)
}

func (s *CheckoutService) grantFreeTest(ctx context.Context, meta ContentMeta, buyer, originIP string) (CheckoutResult, error) {
	order := &Order{
		Buyer:           buyer,
		ContentRef:      meta.Ref,
		SourceTag:       "video",
		ReservedAmount:  decimal.Zero,
		ReferenceAmount: decimal.Zero,
		Status:          StatusSuccess,
		SettlementRef:   freeTestRef(s.nowFunc()),
		CreatedAt:       s.nowFunc(),
		OriginIP:        originIP,
	}
	if err := s.ledger.Create(ctx, order); err != nil {
		return CheckoutResult{}, err
	}

	s.fireAccessGranted(AccessGrantedContext{Order: order, Meta: meta, FreeTest: true, Timestamp: s.nowFunc()})
	return CheckoutResult{FreeAccess: true}, nil
}

func (s *CheckoutService) fireCheckoutStarted(c CheckoutStartedContext) {
	for _, h := range s.hooks.afterCheckoutStarted {
		if err := h(c); err != nil {
			s.log.Warn("checkout-started hook failed", zap.Error(err))
		}
	}
}

func (s *CheckoutService) firePaymentConfirmed(c PaymentConfirmedContext) {
	for _, h := range s.hooks.afterPaymentConfirmed {
		if err := h(c); err != nil {
			s.log.Warn("payment-confirmed hook failed", zap.Error(err))
		}
	}
}

func (s *CheckoutService) fireAccessGranted(c AccessGrantedContext) {
	for _, h := range s.hooks.afterAccessGranted {
		if err := h(c); err != nil {
			s.log.Warn("access-granted hook failed", zap.Error(err))
		}
	}
}

func freeTestRef(now time.Time) string {
	return fmt.Sprintf("free_test_%d_%d", now.Unix(), 100+rand.IntN(900))
}

// qrCodeURL returns a QR image URL for the plain receiving address. No
// payment URI scheme is widely adopted on EVM, so the bare address is the
// safest payload.
func qrCodeURL(wallet string) string {
	return qrEndpoint + "?size=180x180&data=" + url.QueryEscape(wallet)
}
