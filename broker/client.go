package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/fxguy0/derivbot/candles"
)

const (
	dialTimeout    = 30 * time.Second
	requestTimeout = 10 * time.Second
	pingInterval   = 30 * time.Second
	backoffInitial = 1 * time.Second
	backoffCap     = 30 * time.Second
)

// API is the broker surface the engine consumes. Implemented by *Client;
// tests substitute fakes.
type API interface {
	Authorize(ctx context.Context, token string) (*Account, error)
	TicksHistory(ctx context.Context, symbol string, start, end time.Time, granularity, count int) ([]candles.Candle, error)
	ContractsFor(ctx context.Context, symbol string) ([]ContractInfo, error)
	Proposal(ctx context.Context, spec ProposalSpec) (*ProposalResult, error)
	Buy(ctx context.Context, proposalID string, price decimal.Decimal) (int64, decimal.Decimal, error)
	Sell(ctx context.Context, contractID int64, price decimal.Decimal) (decimal.Decimal, error)
	OpenContract(ctx context.Context, contractID int64) (*ContractState, error)
	Balance(ctx context.Context) (decimal.Decimal, error)
	ProfitTable(ctx context.Context, filter ProfitTableFilter) (*ProfitTable, error)
	Close()
}

// Dialer opens authorized broker sessions. The engine holds one shared
// session for market data and dials per-token sessions for user trading.
type Dialer interface {
	Session(ctx context.Context, token string) (API, error)
}

// WSDialer dials real Deriv WebSocket sessions.
type WSDialer struct {
	URL string
}

// Session dials and, when token is non-empty, authorizes.
func (d *WSDialer) Session(ctx context.Context, token string) (API, error) {
	c := NewClient(d.URL)
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	if token != "" {
		if _, err := c.Authorize(ctx, token); err != nil {
			c.Close()
			return nil, err
		}
	}
	return c, nil
}

// Client is a single Deriv WebSocket session. One request is in flight at a
// time; concurrent callers serialize on the request mutex. Responses are
// correlated by req_id so a stale reply never satisfies a fresh call.
type Client struct {
	url string
	lg  zerolog.Logger

	// requestMu enforces at-most-one in-flight request per session.
	requestMu sync.Mutex

	// writeMu guards the socket against concurrent request and ping frames.
	writeMu sync.Mutex

	mu      sync.Mutex
	conn    *websocket.Conn
	connGen int
	pending map[int64]chan result
	reqID   int64
	token   string
	closed  bool
}

type result struct {
	data []byte
	err  error
}

// NewClient creates a disconnected client; call Connect before use.
func NewClient(url string) *Client {
	return &Client{
		url:     url,
		lg:      log.With().Str("component", "broker").Logger(),
		pending: make(map[int64]chan result),
	}
}

// Connect dials the broker. Safe to call again after a drop.
func (c *Client) Connect(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, c.url, nil)
	if err != nil {
		return fmt.Errorf("broker: dial %s: %w", c.url, err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return ErrDisconnected
	}
	c.conn = conn
	c.connGen++
	gen := c.connGen
	c.mu.Unlock()

	go c.readLoop(conn, gen)
	go c.pingLoop(conn, gen)

	c.lg.Debug().Str("url", c.url).Msg("connected")
	return nil
}

// Close tears the session down; pending requests fail with ErrDisconnected.
func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.failPendingLocked()
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

// Authorize authenticates the session. Idempotent; the token is remembered
// and replayed after a reconnect.
func (c *Client) Authorize(ctx context.Context, token string) (*Account, error) {
	raw, err := c.request(ctx, "authorize", map[string]any{"authorize": token})
	if err != nil {
		return nil, err
	}
	var resp wireAuthorize
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("broker: decode authorize: %w", err)
	}

	c.mu.Lock()
	c.token = token
	c.mu.Unlock()

	return &Account{
		LoginID:  resp.Authorize.LoginID,
		Email:    resp.Authorize.Email,
		Currency: resp.Authorize.Currency,
		Balance:  dec(resp.Authorize.Balance),
	}, nil
}

// TicksHistory fetches candles with the given granularity (seconds) whose
// epoch lies in [start, end), at most count of them.
func (c *Client) TicksHistory(ctx context.Context, symbol string, start, end time.Time, granularity, count int) ([]candles.Candle, error) {
	payload := map[string]any{
		"ticks_history": symbol,
		"style":         "candles",
		"granularity":   granularity,
		"start":         start.UTC().Unix(),
		"end":           end.UTC().Unix(),
		"count":         count,
	}
	raw, err := c.request(ctx, "ticks_history", payload)
	if err != nil {
		return nil, err
	}
	var resp wireCandles
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("broker: decode candles: %w", err)
	}

	out := make([]candles.Candle, 0, len(resp.Candles))
	for _, wc := range resp.Candles {
		out = append(out, candles.Candle{
			Timestamp: time.Unix(wc.Epoch, 0).UTC(),
			Open:      dec(wc.Open),
			High:      dec(wc.High),
			Low:       dec(wc.Low),
			Close:     dec(wc.Close),
		})
	}
	return out, nil
}

// ContractsFor lists the contract types the broker offers on a symbol.
func (c *Client) ContractsFor(ctx context.Context, symbol string) ([]ContractInfo, error) {
	raw, err := c.request(ctx, "contracts_for", map[string]any{"contracts_for": symbol})
	if err != nil {
		return nil, err
	}
	var resp wireContractsFor
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("broker: decode contracts_for: %w", err)
	}
	out := make([]ContractInfo, 0, len(resp.ContractsFor.Available))
	for _, a := range resp.ContractsFor.Available {
		out = append(out, ContractInfo{ContractType: a.ContractType, ContractCategory: a.ContractCategory})
	}
	return out, nil
}

// Proposal prices a multiplier contract.
func (c *Client) Proposal(ctx context.Context, spec ProposalSpec) (*ProposalResult, error) {
	payload := map[string]any{
		"proposal":      1,
		"basis":         "stake",
		"contract_type": spec.ContractType,
		"currency":      spec.Currency,
		"symbol":        spec.Symbol,
		"amount":        spec.Amount.InexactFloat64(),
		"multiplier":    spec.Multiplier.InexactFloat64(),
		"limit_order": map[string]any{
			"take_profit": spec.TakeProfit.InexactFloat64(),
			"stop_loss":   spec.StopLoss.InexactFloat64(),
		},
	}
	raw, err := c.request(ctx, "proposal", payload)
	if err != nil {
		return nil, err
	}
	var resp wireProposal
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("broker: decode proposal: %w", err)
	}
	if resp.Proposal.ID == "" {
		return nil, &ProposalError{Code: "MissingProposalID", Message: "no proposal id in response"}
	}
	return &ProposalResult{ID: resp.Proposal.ID, AskPrice: dec(resp.Proposal.AskPrice)}, nil
}

// Buy executes a priced proposal and returns the contract id and buy price.
func (c *Client) Buy(ctx context.Context, proposalID string, price decimal.Decimal) (int64, decimal.Decimal, error) {
	raw, err := c.request(ctx, "buy", map[string]any{"buy": proposalID, "price": price.InexactFloat64()})
	if err != nil {
		return 0, decimal.Zero, err
	}
	var resp wireBuy
	if err := json.Unmarshal(raw, &resp); err != nil {
		return 0, decimal.Zero, fmt.Errorf("broker: decode buy: %w", err)
	}
	if resp.Buy.ContractID == 0 {
		return 0, decimal.Zero, &ProposalError{Code: "MissingContractID", Message: "buy returned no contract id"}
	}
	return resp.Buy.ContractID, dec(resp.Buy.BuyPrice), nil
}

// Sell closes an open contract at the given price.
func (c *Client) Sell(ctx context.Context, contractID int64, price decimal.Decimal) (decimal.Decimal, error) {
	raw, err := c.request(ctx, "sell", map[string]any{"sell": contractID, "price": price.InexactFloat64()})
	if err != nil {
		return decimal.Zero, err
	}
	var resp wireSell
	if err := json.Unmarshal(raw, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("broker: decode sell: %w", err)
	}
	return dec(resp.Sell.SoldFor), nil
}

// OpenContract fetches a single snapshot of a contract's state.
func (c *Client) OpenContract(ctx context.Context, contractID int64) (*ContractState, error) {
	payload := map[string]any{"proposal_open_contract": 1, "contract_id": contractID}
	raw, err := c.request(ctx, "proposal_open_contract", payload)
	if err != nil {
		return nil, err
	}
	var resp wireOpenContract
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("broker: decode open contract: %w", err)
	}
	poc := resp.ProposalOpenContract
	state := &ContractState{
		Status:      poc.Status,
		IsSold:      poc.IsSold == 1,
		BuyPrice:    dec(poc.BuyPrice),
		SellPrice:   dec(poc.SellPrice),
		Profit:      dec(poc.Profit),
		EntrySpot:   dec(poc.EntrySpot),
		CurrentSpot: dec(poc.CurrentSpot),
	}
	if poc.SellTime > 0 {
		state.SellTime = time.Unix(poc.SellTime, 0).UTC()
	}
	return state, nil
}

// Balance returns the authorized account's balance.
func (c *Client) Balance(ctx context.Context) (decimal.Decimal, error) {
	raw, err := c.request(ctx, "balance", map[string]any{"balance": 1})
	if err != nil {
		return decimal.Zero, err
	}
	var resp wireBalance
	if err := json.Unmarshal(raw, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("broker: decode balance: %w", err)
	}
	return dec(resp.Balance.Balance), nil
}

// ProfitTable fetches settled-contract history for the authorized account.
func (c *Client) ProfitTable(ctx context.Context, filter ProfitTableFilter) (*ProfitTable, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	sort := filter.Sort
	if sort == "" {
		sort = "DESC"
	}
	payload := map[string]any{
		"profit_table": 1,
		"limit":        limit,
		"sort":         sort,
		"description":  0,
	}
	if !filter.DateFrom.IsZero() {
		payload["date_from"] = filter.DateFrom.UTC().Format("2006-01-02")
	}
	if !filter.DateTo.IsZero() {
		payload["date_to"] = filter.DateTo.UTC().Format("2006-01-02")
	}
	raw, err := c.request(ctx, "profit_table", payload)
	if err != nil {
		return nil, err
	}
	var resp wireProfitTable
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("broker: decode profit_table: %w", err)
	}
	table := &ProfitTable{Count: resp.ProfitTable.Count}
	for _, tx := range resp.ProfitTable.Transactions {
		table.Transactions = append(table.Transactions, ProfitTransaction{
			ContractID:   tx.ContractID,
			BuyPrice:     dec(tx.BuyPrice),
			SellPrice:    dec(tx.SellPrice),
			PurchaseTime: time.Unix(tx.PurchaseTime, 0).UTC(),
			SellTime:     time.Unix(tx.SellTime, 0).UTC(),
		})
	}
	return table, nil
}

// request sends one message and waits for the matching response. It holds the
// request mutex for the whole round trip, reconnecting first when needed.
func (c *Client) request(ctx context.Context, msgType string, payload map[string]any) ([]byte, error) {
	c.requestMu.Lock()
	defer c.requestMu.Unlock()

	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.conn == nil {
		c.mu.Unlock()
		return nil, ErrDisconnected
	}
	c.reqID++
	id := c.reqID
	ch := make(chan result, 1)
	c.pending[id] = ch
	conn := c.conn
	c.mu.Unlock()

	payload["req_id"] = id
	if err := c.writeJSON(conn, payload); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("broker: write %s: %w", msgType, err)
	}

	timer := time.NewTimer(requestTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, ctx.Err()
	case <-timer.C:
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("broker: %s timed out after %s", msgType, requestTimeout)
	case res := <-ch:
		if res.err != nil {
			return nil, res.err
		}
		var env envelope
		if err := json.Unmarshal(res.data, &env); err != nil {
			return nil, fmt.Errorf("broker: decode envelope: %w", err)
		}
		if env.Error != nil {
			return nil, classifyError(msgType, env.Error.Code, env.Error.Message)
		}
		return res.data, nil
	}
}

// ensureConnected redials with capped exponential backoff and replays the
// session token. Caller holds requestMu.
func (c *Client) ensureConnected(ctx context.Context) error {
	c.mu.Lock()
	connected := c.conn != nil
	closed := c.closed
	token := c.token
	c.mu.Unlock()

	if closed {
		return ErrDisconnected
	}
	if connected {
		return nil
	}

	backoff := backoffInitial
	for {
		err := c.Connect(ctx)
		if err == nil {
			break
		}
		c.lg.Warn().Err(err).Dur("backoff", backoff).Msg("reconnect failed")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff *= 2; backoff > backoffCap {
			backoff = backoffCap
		}
	}

	// Re-authorize before serving the caller's request.
	if token != "" {
		if err := c.reauthorize(ctx, token); err != nil {
			return err
		}
	}
	return nil
}

// reauthorize replays the stored token on a fresh connection. Caller holds
// requestMu, so it writes directly rather than going through request().
func (c *Client) reauthorize(ctx context.Context, token string) error {
	c.mu.Lock()
	if c.conn == nil {
		c.mu.Unlock()
		return ErrDisconnected
	}
	c.reqID++
	id := c.reqID
	ch := make(chan result, 1)
	c.pending[id] = ch
	conn := c.conn
	c.mu.Unlock()

	if err := c.writeJSON(conn, map[string]any{"authorize": token, "req_id": id}); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return fmt.Errorf("broker: write authorize: %w", err)
	}

	timer := time.NewTimer(requestTimeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("broker: authorize timed out after %s", requestTimeout)
	case res := <-ch:
		if res.err != nil {
			return res.err
		}
		var env envelope
		if err := json.Unmarshal(res.data, &env); err != nil {
			return fmt.Errorf("broker: decode envelope: %w", err)
		}
		if env.Error != nil {
			return classifyError("authorize", env.Error.Code, env.Error.Message)
		}
		return nil
	}
}

// readLoop delivers responses to waiters until the connection drops.
func (c *Client) readLoop(conn *websocket.Conn, gen int) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			if c.connGen == gen {
				c.conn = nil
				c.failPendingLocked()
			}
			c.mu.Unlock()
			if !c.isClosed() {
				c.lg.Warn().Err(err).Msg("read error, connection dropped")
			}
			return
		}

		var env envelope
		if err := json.Unmarshal(message, &env); err != nil || env.ReqID == 0 {
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[env.ReqID]
		if ok {
			delete(c.pending, env.ReqID)
		}
		c.mu.Unlock()

		if ok {
			ch <- result{data: message}
		}
	}
}

// pingLoop keeps the connection alive; it stops when its generation dies.
func (c *Client) pingLoop(conn *websocket.Conn, gen int) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for range ticker.C {
		c.mu.Lock()
		live := c.connGen == gen && c.conn == conn
		c.mu.Unlock()
		if !live {
			return
		}
		c.writeMu.Lock()
		err := conn.WriteMessage(websocket.PingMessage, nil)
		c.writeMu.Unlock()
		if err != nil {
			return
		}
	}
}

func (c *Client) writeJSON(conn *websocket.Conn, v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(v)
}

func (c *Client) failPendingLocked() {
	for id, ch := range c.pending {
		ch <- result{err: ErrDisconnected}
		delete(c.pending, id)
	}
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
