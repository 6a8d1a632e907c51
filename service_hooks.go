package basepay

import "time"

// Hooks let deployments attach side effects (notifications, audit trails)
// to checkout lifecycle events without wiring them into the engine. Hook
// errors are logged and never affect the payment flow.

// CheckoutStartedContext is passed to hooks after a reservation is minted.
type CheckoutStartedContext struct {
	Order     *Order
	Meta      ContentMeta
	Timestamp time.Time
}

// PaymentConfirmedContext is passed to hooks after a transfer settles an
// order.
type PaymentConfirmedContext struct {
	Order         *Order
	Meta          ContentMeta
	SettlementRef string
	Timestamp     time.Time
}

// AccessGrantedContext is passed to hooks when access is granted outside
// the normal settlement path: free-test checkouts and administrative
// overrides.
type AccessGrantedContext struct {
	Order     *Order
	Meta      ContentMeta
	Manual    bool
	FreeTest  bool
	Timestamp time.Time
}

// AfterCheckoutStartedHook runs after InitCheckout mints a reservation.
type AfterCheckoutStartedHook func(CheckoutStartedContext) error

// AfterPaymentConfirmedHook runs after VerifyPayment settles an order.
type AfterPaymentConfirmedHook func(PaymentConfirmedContext) error

// AfterAccessGrantedHook runs after a free-test grant or ForceSuccess.
type AfterAccessGrantedHook func(AccessGrantedContext) error

type serviceHooks struct {
	afterCheckoutStarted  []AfterCheckoutStartedHook
	afterPaymentConfirmed []AfterPaymentConfirmedHook
	afterAccessGranted    []AfterAccessGrantedHook
}
