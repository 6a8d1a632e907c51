package indexer

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewClient(&Config{
		BaseURL:       srv.URL,
		APIKey:        "test-key",
		ChainID:       8453,
		TokenContract: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		Address:       "0x1111111111111111111111111111111111111111",
		PageSize:      20,
	})
}

func TestRecentTransfers(t *testing.T) {
	var gotQuery map[string]string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		gotQuery = map[string]string{
			"chainid":         q.Get("chainid"),
			"module":          q.Get("module"),
			"action":          q.Get("action"),
			"contractaddress": q.Get("contractaddress"),
			"address":         q.Get("address"),
			"offset":          q.Get("offset"),
			"sort":            q.Get("sort"),
			"apikey":          q.Get("apikey"),
		}
		w.Write([]byte(`{
			"status": "1",
			"message": "OK",
			"result": [
				{
					"hash": "0xaaa",
					"from": "0x2222222222222222222222222222222222222222",
					"to": "0x1111111111111111111111111111111111111111",
					"value": "10000042",
					"timeStamp": "1700000000",
					"tokenDecimal": "6"
				},
				{
					"hash": "0xbbb",
					"from": "0x3333333333333333333333333333333333333333",
					"to": "0x1111111111111111111111111111111111111111",
					"value": "not-a-number",
					"timeStamp": "1700000100",
					"tokenDecimal": "6"
				},
				{
					"hash": "0xccc",
					"from": "0x4444444444444444444444444444444444444444",
					"to": "0x1111111111111111111111111111111111111111",
					"value": "4990001",
					"timeStamp": "1700000200",
					"tokenDecimal": "6"
				}
			]
		}`))
	})

	transfers, err := client.RecentTransfers(context.Background())
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"chainid":         "8453",
		"module":          "account",
		"action":          "tokentx",
		"contractaddress": "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		"address":         "0x1111111111111111111111111111111111111111",
		"offset":          "20",
		"sort":            "desc",
		"apikey":          "test-key",
	}, gotQuery)

	// The malformed entry is dropped, the valid ones survive.
	require.Len(t, transfers, 2)
	assert.Equal(t, "0xaaa", transfers[0].Hash)
	assert.Equal(t, big.NewInt(10000042), transfers[0].Value)
	assert.Equal(t, int32(6), transfers[0].Decimals)
	assert.Equal(t, int64(1700000000), transfers[0].Timestamp.Unix())
	assert.Equal(t, "0xccc", transfers[1].Hash)
}

func TestRecentTransfersNoTransactions(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status": "0", "message": "No transactions found", "result": []}`))
	})

	transfers, err := client.RecentTransfers(context.Background())
	require.NoError(t, err)
	assert.Empty(t, transfers)
}

func TestRecentTransfersAPIError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status": "0", "message": "NOTOK", "result": "Max rate limit reached"}`))
	})

	_, err := client.RecentTransfers(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestRecentTransfersHTTPError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := client.RecentTransfers(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestRecentTransfersUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	client := NewClient(&Config{BaseURL: srv.URL, APIKey: "k"})
	_, err := client.RecentTransfers(context.Background())
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestRecentTransfersMalformedEnvelope(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	})

	_, err := client.RecentTransfers(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestNewClientDefaults(t *testing.T) {
	c := NewClient(nil)
	assert.Equal(t, DefaultBaseURL, c.baseURL)
	assert.Equal(t, DefaultPageSize, c.pageSize)
	assert.NotNil(t, c.httpClient)
}
