package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/schrute_ledger/internal/models"
)

const defaultHTTPTimeout = 10 * time.Second

// APIError represents an upstream API error with status code and response body.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Status, e.Body)
}

// TradierClient is the concrete upstream client. It implements Broker over
// the Tradier REST API (or any API with the same shape via a custom baseURL).
type TradierClient struct {
	client    *http.Client
	logger    *logrus.Logger
	apiKey    string
	baseURL   string
	accountID string
	sandbox   bool
}

// Ensure TradierClient implements Broker at compile time.
var _ Broker = (*TradierClient)(nil)

// NewTradierClient creates an upstream client. An empty baseURL selects the
// production or sandbox endpoint based on the sandbox flag.
func NewTradierClient(apiKey, accountID string, sandbox bool, baseURL string, logger *logrus.Logger) *TradierClient {
	if baseURL == "" {
		if sandbox {
			baseURL = "https://sandbox.tradier.com/v1"
		} else {
			baseURL = "https://api.tradier.com/v1"
		}
	}
	baseURL = strings.TrimRight(baseURL, "/")

	if logger == nil {
		logger = logrus.New()
	}

	return &TradierClient{
		client:    &http.Client{Timeout: defaultHTTPTimeout},
		logger:    logger,
		apiKey:    apiKey,
		baseURL:   baseURL,
		accountID: accountID,
		sandbox:   sandbox,
	}
}

// WithHTTPClient allows overriding the HTTP client (tests, custom transport).
func (t *TradierClient) WithHTTPClient(c *http.Client) *TradierClient {
	if c != nil {
		t.client = c
	}
	return t
}

// ============ API Response Structures ============

// Handle single-object vs array responses from the upstream API.
type singleOrArray[T any] []T

func (s *singleOrArray[T]) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '[' {
		return json.Unmarshal(b, (*[]T)(s))
	}
	var one T
	if err := json.Unmarshal(b, &one); err != nil {
		return err
	}
	*s = append(*s, one)
	return nil
}

type positionsResponse struct {
	Positions positionsWrapper `json:"positions"`
}

// positionsWrapper handles the case where positions can be a "null" string or
// an object.
type positionsWrapper struct {
	Position singleOrArray[positionItem] `json:"position"`
}

func (pw *positionsWrapper) UnmarshalJSON(b []byte) error {
	trimmed := bytes.TrimSpace(b)
	if bytes.Equal(trimmed, []byte(`null`)) || bytes.Equal(trimmed, []byte(`"null"`)) {
		*pw = positionsWrapper{}
		return nil
	}
	type normalWrapper positionsWrapper
	return json.Unmarshal(b, (*normalWrapper)(pw))
}

type positionItem struct {
	Symbol       string  `json:"symbol"`
	DateAcquired string  `json:"date_acquired"`
	CostBasis    float64 `json:"cost_basis"`
	Quantity     float64 `json:"quantity"`
	ID           int     `json:"id"`
}

type quotesResponse struct {
	Quotes struct {
		Quote singleOrArray[quoteItem] `json:"quote"`
	} `json:"quotes"`
}

type quoteItem struct {
	Symbol string  `json:"symbol"`
	Type   string  `json:"type"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
	Last   float64 `json:"last"`
}

// ============ API Methods ============

// Fills retrieves the account's currently open option fills. Equity positions
// are passed through with their plain symbol and an equity asset class so the
// matcher can ignore them.
func (t *TradierClient) Fills(ctx context.Context) ([]Fill, error) {
	endpoint := fmt.Sprintf("%s/accounts/%s/positions", t.baseURL, t.accountID)

	var response positionsResponse
	if err := t.makeRequest(ctx, http.MethodGet, endpoint, nil, &response); err != nil {
		return nil, err
	}

	items := response.Positions.Position
	fills := make([]Fill, 0, len(items))
	for _, item := range items {
		fills = append(fills, t.fillFromPosition(item))
	}
	return fills, nil
}

func (t *TradierClient) fillFromPosition(item positionItem) Fill {
	assetClass := "equity"
	perShare := 1.0
	if models.IsOptionSymbol(item.Symbol) {
		assetClass = "option"
		perShare = 100.0
	}

	side := "buy"
	if item.Quantity < 0 {
		side = "sell"
	}

	avgPrice := 0.0
	if qty := math.Abs(item.Quantity); qty > 0 {
		// cost_basis is reported for the whole lot; negative for short lots.
		avgPrice = math.Abs(item.CostBasis) / (qty * perShare)
	}

	filledAt, err := time.Parse(time.RFC3339, item.DateAcquired)
	if err != nil {
		t.logger.WithError(err).WithField("symbol", item.Symbol).
			Warn("unparseable date_acquired, keeping zero fill time")
	}

	return Fill{
		Symbol:     strings.ToUpper(item.Symbol),
		Quantity:   item.Quantity,
		AvgPrice:   avgPrice,
		Side:       side,
		AssetClass: assetClass,
		FilledAt:   filledAt,
	}
}

// Quote retrieves the current market quote for a symbol.
func (t *TradierClient) Quote(ctx context.Context, symbol string) (*models.PriceQuote, error) {
	params := url.Values{}
	params.Set("symbols", symbol)
	params.Set("greeks", "false")
	endpoint := t.baseURL + "/markets/quotes?" + params.Encode()

	var response quotesResponse
	if err := t.makeRequest(ctx, http.MethodGet, endpoint, nil, &response); err != nil {
		return nil, err
	}

	quotes := response.Quotes.Quote
	if len(quotes) == 0 {
		return nil, fmt.Errorf("no quote found for symbol: %s", symbol)
	}

	first := quotes[0]
	return &models.PriceQuote{
		Symbol:     strings.ToUpper(first.Symbol),
		Bid:        first.Bid,
		Ask:        first.Ask,
		Last:       first.Last,
		ObservedAt: time.Now().UTC(),
	}, nil
}

func (t *TradierClient) makeRequest(ctx context.Context, method, endpoint string,
	params url.Values, response interface{}) error {
	var req *http.Request
	var err error

	if method == http.MethodPost && params != nil {
		req, err = http.NewRequestWithContext(ctx, method, endpoint, strings.NewReader(params.Encode()))
		if err != nil {
			return err
		}
		req.Header.Add("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req, err = http.NewRequestWithContext(ctx, method, endpoint, http.NoBody)
		if err != nil {
			return err
		}
	}

	req.Header.Add("Authorization", "Bearer "+t.apiKey)
	req.Header.Add("Accept", "application/json")
	req.Header.Add("User-Agent", "schrute-ledger/1.0 (+tradier)")

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			t.logger.WithError(err).Debug("failed to close response body")
		}
	}()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		body, readErr := io.ReadAll(io.LimitReader(resp.Body, 64<<10)) // 64KB cap to avoid huge payloads
		if readErr != nil {
			return &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("%s %s -> failed to read error body", method, endpoint)}
		}
		return &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("%s %s -> %s", method, endpoint, string(body))}
	}

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}
	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(response); err != nil && err != io.EOF {
		return err
	}
	return nil
}
