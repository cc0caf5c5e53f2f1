package broker

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const feedBufferSize = 256

// WSFeed is the live quote feed over a websocket market-events endpoint.
// Subscriptions are additive and idempotent; each Subscribe resends the full
// symbol set so the upstream replaces its filter atomically.
type WSFeed struct {
	logger *logrus.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	symbols map[string]struct{}

	ticks     chan Tick
	done      chan struct{}
	closeOnce sync.Once
}

// Ensure WSFeed implements QuoteFeed at compile time.
var _ QuoteFeed = (*WSFeed)(nil)

type wsSubscribeRequest struct {
	Symbols   []string `json:"symbols"`
	Filter    []string `json:"filter"`
	Linebreak bool     `json:"linebreak"`
}

type wsQuoteEvent struct {
	Type   string  `json:"type"`
	Symbol string  `json:"symbol"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
	Last   float64 `json:"last"`
}

// NewWSFeed dials the streaming endpoint and starts the read loop.
func NewWSFeed(endpoint, apiKey string, logger *logrus.Logger) (*WSFeed, error) {
	if logger == nil {
		logger = logrus.New()
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+apiKey)

	conn, resp, err := websocket.DefaultDialer.Dial(endpoint, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dialing quote feed (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dialing quote feed: %w", err)
	}

	f := &WSFeed{
		logger:  logger,
		conn:    conn,
		symbols: make(map[string]struct{}),
		ticks:   make(chan Tick, feedBufferSize),
		done:    make(chan struct{}),
	}

	go f.readLoop()
	return f, nil
}

// Subscribe adds symbols to the live subscription set. Symbols already in the
// set are ignored; when nothing new is added no message is sent.
func (f *WSFeed) Subscribe(symbols ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	added := false
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, ok := f.symbols[s]; !ok {
			f.symbols[s] = struct{}{}
			added = true
		}
	}
	if !added {
		return nil
	}

	all := make([]string, 0, len(f.symbols))
	for s := range f.symbols {
		all = append(all, s)
	}

	req := wsSubscribeRequest{Symbols: all, Filter: []string{"quote"}, Linebreak: true}
	if err := f.conn.WriteJSON(req); err != nil {
		return fmt.Errorf("sending subscribe request: %w", err)
	}
	return nil
}

// Ticks returns the live tick channel. Closed when the feed shuts down.
func (f *WSFeed) Ticks() <-chan Tick {
	return f.ticks
}

// Close shuts the feed down and closes the tick channel.
func (f *WSFeed) Close() error {
	var err error
	f.closeOnce.Do(func() {
		close(f.done)
		err = f.conn.Close()
	})
	return err
}

// readLoop decodes quote events until the connection drops or Close is
// called. A malformed message is logged and skipped; it never aborts the
// feed or affects other ticks.
func (f *WSFeed) readLoop() {
	defer close(f.ticks)

	for {
		_, payload, err := f.conn.ReadMessage()
		if err != nil {
			select {
			case <-f.done:
			default:
				f.logger.WithError(err).Warn("quote feed read failed, stopping feed")
			}
			return
		}

		var event wsQuoteEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			f.logger.WithError(err).Debug("skipping malformed feed message")
			continue
		}
		if event.Type != "quote" || event.Symbol == "" {
			continue
		}

		tick := Tick{
			Symbol: strings.ToUpper(event.Symbol),
			Bid:    event.Bid,
			Ask:    event.Ask,
			Last:   event.Last,
			At:     time.Now().UTC(),
		}

		select {
		case f.ticks <- tick:
		case <-f.done:
			return
		}
	}
}
