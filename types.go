package basepay

import (
	"context"
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of an Order.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	// StatusFailed is reserved for administrative use; no automated flow
	// produces it.
	StatusFailed Status = "failed"
)

// Order is a purchase intent recorded in the ledger. A pending order holds
// an exclusive claim on its ReservedAmount until it settles or is swept.
type Order struct {
	ID              uint64          `json:"id"`
	Buyer           string          `json:"buyer"`
	ContentRef      uint64          `json:"contentRef,omitempty"`
	SourceTag       string          `json:"sourceTag,omitempty"`
	ReservedAmount  decimal.Decimal `json:"reservedAmount"`
	ReferenceAmount decimal.Decimal `json:"referenceAmount"`
	Status          Status          `json:"status"`
	SettlementRef   string          `json:"settlementRef,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	OriginIP        string          `json:"originIp,omitempty"`
}

// Session binds an opaque client token to the public details of a
// reservation. It carries no authority beyond what the matcher needs to
// look up the order.
type Session struct {
	OrderID        uint64          `json:"orderId"`
	ContentRef     uint64          `json:"contentRef"`
	ReservedAmount decimal.Decimal `json:"reservedAmount"`
	PayTo          string          `json:"payTo"`
}

// Transfer is a single inbound token transfer observed on chain.
// Value is in the token's smallest unit, scaled by Decimals.
type Transfer struct {
	Hash      string
	From      string
	To        string
	Value     *big.Int
	Decimals  int32
	Timestamp time.Time
}

// ContentMeta is the display metadata for a purchasable item. It is used
// for notifications and the lookup page, never for matching logic.
type ContentMeta struct {
	Ref          uint64          `json:"ref"`
	Title        string          `json:"title"`
	URL          string          `json:"url"`
	ThumbnailURL string          `json:"thumbnailUrl,omitempty"`
	Price        decimal.Decimal `json:"price"`
	FreeTest     bool            `json:"freeTest,omitempty"`
}

// ContentCatalog resolves content references to display metadata.
type ContentCatalog interface {
	Lookup(ctx context.Context, ref uint64) (ContentMeta, error)
}

// TransferSource fetches the most recent inbound transfers to the
// configured receiving address. Implementations are expected to be
// unreliable: callers must treat errors as "no match this round".
type TransferSource interface {
	RecentTransfers(ctx context.Context) ([]Transfer, error)
}
