package notify

import (
	"context"
	"fmt"
	"time"

	basepay "github.com/crypto-plugins/basepay"
)

const sendTimeout = 15 * time.Second

// AdminCheckoutStarted notifies the operator that a buyer began a checkout
// and which exact amount to expect.
func AdminCheckoutStarted(n Notifier, adminEmail string) basepay.AfterCheckoutStartedHook {
	return func(c basepay.CheckoutStartedContext) error {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()

		return n.Send(ctx, Message{
			To:      adminEmail,
			Subject: fmt.Sprintf("Checkout started: order #%d", c.Order.ID),
			Heading: "New checkout",
			Lines: []string{
				fmt.Sprintf("Order #%d for %q.", c.Order.ID, c.Meta.Title),
				fmt.Sprintf("Buyer: %s", c.Order.Buyer),
				fmt.Sprintf("Expected amount: %s USDC", basepay.AmountKey(c.Order.ReservedAmount)),
			},
		})
	}
}

// AdminPaymentConfirmed notifies the operator that an order settled, with a
// link to the settling transaction.
func AdminPaymentConfirmed(n Notifier, adminEmail, explorerTxURL string) basepay.AfterPaymentConfirmedHook {
	return func(c basepay.PaymentConfirmedContext) error {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()

		msg := Message{
			To:      adminEmail,
			Subject: fmt.Sprintf("Payment received: order #%d", c.Order.ID),
			Heading: "Payment confirmed",
			Lines: []string{
				fmt.Sprintf("Order #%d for %q is paid.", c.Order.ID, c.Meta.Title),
				fmt.Sprintf("Buyer: %s", c.Order.Buyer),
				fmt.Sprintf("Amount: %s USDC", basepay.AmountKey(c.Order.ReservedAmount)),
			},
		}
		if explorerTxURL != "" && c.SettlementRef != "" {
			msg.CTA = &CTA{Text: "View transaction", URL: explorerTxURL + c.SettlementRef}
		}
		return n.Send(ctx, msg)
	}
}

// BuyerAccessGranted sends the buyer their access link after a free-test
// grant or an administrative override.
func BuyerAccessGranted(n Notifier, supportURL string) basepay.AfterAccessGrantedHook {
	return func(c basepay.AccessGrantedContext) error {
		if c.Order.Buyer == "" {
			return nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()

		lines := []string{
			fmt.Sprintf("You now have access to %q.", c.Meta.Title),
		}
		if supportURL != "" {
			lines = append(lines, "If anything looks wrong, reach us at "+supportURL+".")
		}
		msg := Message{
			To:      c.Order.Buyer,
			Subject: "Your content is unlocked",
			Heading: "Access granted",
			Lines:   lines,
		}
		if c.Meta.URL != "" {
			msg.CTA = &CTA{Text: "Watch now", URL: c.Meta.URL}
		}
		return n.Send(ctx, msg)
	}
}
