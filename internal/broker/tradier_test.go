package broker

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *TradierClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewTradierClient("test-key", "acct-1", true, server.URL, quietLogger())
}

func TestFills_MapsPositions(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		if r.URL.Path != "/accounts/acct-1/positions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"positions": {
				"position": [
					{
						"symbol": "SPY260619C00450000",
						"quantity": -1,
						"cost_basis": -150.00,
						"date_acquired": "2026-05-01T14:30:00Z",
						"id": 1
					},
					{
						"symbol": "SPY",
						"quantity": 100,
						"cost_basis": 45020.00,
						"date_acquired": "2026-05-01T14:30:00Z",
						"id": 2
					}
				]
			}
		}`))
	})

	fills, err := client.Fills(context.Background())
	if err != nil {
		t.Fatalf("Fills error: %v", err)
	}
	if len(fills) != 2 {
		t.Fatalf("fills = %d, want 2", len(fills))
	}

	option := fills[0]
	if option.AssetClass != "option" || option.Side != "sell" {
		t.Errorf("option fill = %+v", option)
	}
	// |cost_basis| / (qty * 100) for option contracts.
	if math.Abs(option.AvgPrice-1.50) > 1e-9 {
		t.Errorf("AvgPrice = %v, want 1.50", option.AvgPrice)
	}
	if option.FilledAt.IsZero() {
		t.Error("FilledAt should parse from date_acquired")
	}

	equity := fills[1]
	if equity.AssetClass != "equity" || equity.Side != "buy" {
		t.Errorf("equity fill = %+v", equity)
	}
	if math.Abs(equity.AvgPrice-450.20) > 1e-9 {
		t.Errorf("equity AvgPrice = %v, want 450.20", equity.AvgPrice)
	}
}

func TestFills_SinglePositionObject(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"positions": {
				"position": {
					"symbol": "SPY260619P00440000",
					"quantity": 1,
					"cost_basis": 110.00,
					"date_acquired": "2026-05-01T14:30:00Z",
					"id": 3
				}
			}
		}`))
	})

	fills, err := client.Fills(context.Background())
	if err != nil {
		t.Fatalf("Fills error: %v", err)
	}
	if len(fills) != 1 {
		t.Fatalf("fills = %d, want 1 from single-object response", len(fills))
	}
}

func TestFills_NullPositions(t *testing.T) {
	for _, body := range []string{
		`{"positions": null}`,
		`{"positions": "null"}`,
	} {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(body))
		})
		fills, err := client.Fills(context.Background())
		if err != nil {
			t.Fatalf("Fills(%s) error: %v", body, err)
		}
		if len(fills) != 0 {
			t.Fatalf("Fills(%s) = %d fills, want 0", body, len(fills))
		}
	}
}

func TestFills_APIError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	})

	_, err := client.Fills(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.Status != http.StatusTooManyRequests {
		t.Errorf("Status = %d, want 429", apiErr.Status)
	}
}

func TestQuote(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("symbols"); got != "SPY260619C00450000" {
			t.Errorf("symbols = %q", got)
		}
		_, _ = w.Write([]byte(`{
			"quotes": {
				"quote": {
					"symbol": "SPY260619C00450000",
					"type": "option",
					"bid": 1.40,
					"ask": 1.60,
					"last": 1.52
				}
			}
		}`))
	})

	quote, err := client.Quote(context.Background(), "SPY260619C00450000")
	if err != nil {
		t.Fatalf("Quote error: %v", err)
	}
	if quote.Bid != 1.40 || quote.Ask != 1.60 || quote.Last != 1.52 {
		t.Errorf("quote = %+v", quote)
	}
	if quote.Mid() != 1.50 {
		t.Errorf("Mid() = %v, want 1.50", quote.Mid())
	}
	if quote.ObservedAt.IsZero() {
		t.Error("ObservedAt must be stamped")
	}
}

func TestQuote_Missing(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"quotes": {"quote": null}}`))
	})

	if _, err := client.Quote(context.Background(), "SPY"); err == nil {
		t.Fatal("expected error for empty quote response")
	}
}

func TestNewTradierClient_EndpointSelection(t *testing.T) {
	if c := NewTradierClient("k", "a", true, "", nil); c.baseURL != "https://sandbox.tradier.com/v1" {
		t.Errorf("sandbox baseURL = %q", c.baseURL)
	}
	if c := NewTradierClient("k", "a", false, "", nil); c.baseURL != "https://api.tradier.com/v1" {
		t.Errorf("production baseURL = %q", c.baseURL)
	}
	if c := NewTradierClient("k", "a", false, "http://localhost:9999/v1/", nil); c.baseURL != "http://localhost:9999/v1" {
		t.Errorf("override baseURL = %q", c.baseURL)
	}
}
