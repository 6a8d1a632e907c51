// Package indexer queries an Etherscan-V2-compatible chain indexer for
// recent token transfers to the shared receiving address. The indexer is
// treated as untrusted: responses are schema-checked and malformed entries
// are skipped rather than trusted for shape.
package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/xeipuuv/gojsonschema"

	basepay "github.com/crypto-plugins/basepay"
)

// DefaultBaseURL is the Etherscan V2 multi-chain endpoint.
const DefaultBaseURL = "https://api.etherscan.io/v2/api"

// DefaultPageSize bounds how many recent transfers one query returns.
const DefaultPageSize = 20

// ErrUnavailable wraps unreachable or non-200 indexer responses. Callers
// must treat it as "no match this round", never as a fatal failure.
var ErrUnavailable = errors.New("indexer unavailable")

// Config configures the indexer client.
type Config struct {
	// BaseURL is the indexer API root (optional, defaults to Etherscan V2).
	BaseURL string

	// APIKey authenticates the query.
	APIKey string

	// ChainID selects the network (e.g. 8453 for Base mainnet).
	ChainID int64

	// TokenContract is the token whose transfers are queried.
	TokenContract string

	// Address is the receiving address the query is scoped to.
	Address string

	// PageSize bounds the result page (optional).
	PageSize int

	// HTTPClient overrides the default client (optional).
	HTTPClient *http.Client

	// Timeout for requests (optional, defaults to 10s).
	Timeout time.Duration
}

// Client fetches recent inbound token transfers. It implements
// basepay.TransferSource.
type Client struct {
	baseURL    string
	apiKey     string
	chainID    int64
	contract   string
	address    string
	pageSize   int
	httpClient *http.Client
}

// NewClient creates an indexer client from config, applying defaults.
func NewClient(cfg *Config) *Client {
	if cfg == nil {
		cfg = &Config{}
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		chainID:    cfg.ChainID,
		contract:   cfg.TokenContract,
		address:    cfg.Address,
		pageSize:   pageSize,
		httpClient: httpClient,
	}
}

// transferSchema is the shape a transfer entry must have before it is
// parsed. Entries that fail validation are skipped.
var transferSchema = mustCompileSchema(`{
	"type": "object",
	"required": ["hash", "from", "to", "value", "timeStamp", "tokenDecimal"],
	"properties": {
		"hash":         {"type": "string", "minLength": 1},
		"from":         {"type": "string"},
		"to":           {"type": "string"},
		"value":        {"type": "string", "pattern": "^[0-9]+$"},
		"timeStamp":    {"type": "string", "pattern": "^[0-9]+$"},
		"tokenDecimal": {"type": "string", "pattern": "^[0-9]+$"}
	}
}`)

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

type transferEntry struct {
	Hash         string `json:"hash"`
	From         string `json:"from"`
	To           string `json:"to"`
	Value        string `json:"value"`
	TimeStamp    string `json:"timeStamp"`
	TokenDecimal string `json:"tokenDecimal"`
}

// RecentTransfers fetches the most recent page of token transfers for the
// configured address, newest first.
func (c *Client) RecentTransfers(ctx context.Context) ([]basepay.Transfer, error) {
	q := url.Values{}
	q.Set("chainid", strconv.FormatInt(c.chainID, 10))
	q.Set("module", "account")
	q.Set("action", "tokentx")
	q.Set("contractaddress", c.contract)
	q.Set("address", c.address)
	q.Set("page", "1")
	q.Set("offset", strconv.Itoa(c.pageSize))
	q.Set("sort", "desc")
	q.Set("apikey", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create indexer request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: decode envelope: %v", ErrUnavailable, err)
	}

	// Etherscan reports an empty page as status "0".
	if env.Status != "1" {
		if env.Message == "No transactions found" {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, env.Message)
	}

	var raws []json.RawMessage
	if err := json.Unmarshal(env.Result, &raws); err != nil {
		return nil, fmt.Errorf("%w: decode result: %v", ErrUnavailable, err)
	}

	transfers := make([]basepay.Transfer, 0, len(raws))
	for _, raw := range raws {
		t, ok := parseTransfer(raw)
		if !ok {
			continue
		}
		transfers = append(transfers, t)
	}
	return transfers, nil
}

func parseTransfer(raw json.RawMessage) (basepay.Transfer, bool) {
	result, err := transferSchema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil || !result.Valid() {
		return basepay.Transfer{}, false
	}

	var e transferEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return basepay.Transfer{}, false
	}

	value, ok := new(big.Int).SetString(e.Value, 10)
	if !ok {
		return basepay.Transfer{}, false
	}
	ts, err := strconv.ParseInt(e.TimeStamp, 10, 64)
	if err != nil {
		return basepay.Transfer{}, false
	}
	decimals, err := strconv.ParseInt(e.TokenDecimal, 10, 32)
	if err != nil {
		return basepay.Transfer{}, false
	}

	return basepay.Transfer{
		Hash:      e.Hash,
		From:      e.From,
		To:        e.To,
		Value:     value,
		Decimals:  int32(decimals),
		Timestamp: time.Unix(ts, 0),
	}, true
}

func mustCompileSchema(s string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(s))
	if err != nil {
		panic(err)
	}
	return schema
}

// Ensure Client implements basepay.TransferSource
var _ basepay.TransferSource = (*Client)(nil)
