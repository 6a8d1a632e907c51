package http

import (
	nethttp "net/http"

	"github.com/gin-gonic/gin"

	basepay "github.com/crypto-plugins/basepay"
)

// PurchaseIdentity extracts the buyer and content reference a request is
// asking for. Returning ok=false rejects the request as bad input.
type PurchaseIdentity func(c *gin.Context) (buyer string, contentRef uint64, ok bool)

// RequirePurchase guards a content route: buyers who have not paid get
// 402 Payment Required along with a fresh checkout so the client can start
// paying immediately.
func RequirePurchase(svc *basepay.CheckoutService, identify PurchaseIdentity) gin.HandlerFunc {
	return func(c *gin.Context) {
		buyer, contentRef, ok := identify(c)
		if !ok {
			c.AbortWithStatusJSON(nethttp.StatusBadRequest, gin.H{"error": "missing buyer or content reference"})
			return
		}

		owned, err := svc.RestoreAccess(c.Request.Context(), buyer, contentRef)
		if err != nil {
			c.AbortWithStatusJSON(nethttp.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		if owned {
			c.Next()
			return
		}

		res, err := svc.InitCheckout(c.Request.Context(), contentRef, buyer, c.ClientIP())
		if err != nil {
			c.AbortWithStatusJSON(nethttp.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		if res.AccessGranted || res.FreeAccess {
			c.Next()
			return
		}

		c.AbortWithStatusJSON(nethttp.StatusPaymentRequired, gin.H{
			"error":    "payment required",
			"checkout": res,
		})
	}
}
