package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/sony/gobreaker"
)

const (
	bybitBaseURL    = "https://api.bybit.com"
	bybitRecvWindow = "5000"
)

var bybitJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// Bybit реализует PerpExchange для Bybit v5 (linear perpetuals)
type Bybit struct {
	apiKey    string
	secretKey string

	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

var _ PerpExchange = (*Bybit)(nil)

// NewBybit создает адаптер Bybit.
// Использует глобальный HTTP клиент с connection pooling.
func NewBybit(apiKey, secretKey string) *Bybit {
	return &Bybit{
		apiKey:     apiKey,
		secretKey:  secretKey,
		httpClient: GetGlobalHTTPClient().GetClient(),
		breaker:    NewVenueBreaker(VenueBybit),
	}
}

func (b *Bybit) Name() string { return VenueBybit }

// Close реализует PerpExchange
func (b *Bybit) Close() error { return nil }

// sign создает подпись запроса для Bybit API v5
func (b *Bybit) sign(timestamp, payload string) string {
	message := timestamp + b.apiKey + bybitRecvWindow + payload
	h := hmac.New(sha256.New, []byte(b.secretKey))
	h.Write([]byte(message))
	return hex.EncodeToString(h.Sum(nil))
}

// doRequest выполняет HTTP запрос к Bybit API через circuit breaker
func (b *Bybit) doRequest(ctx context.Context, method, endpoint string, params map[string]string, signed bool) ([]byte, error) {
	return breakerDo(b.breaker, VenueBybit, func() ([]byte, error) {
		return b.doRequestRaw(ctx, method, endpoint, params, signed)
	})
}

func (b *Bybit) doRequestRaw(ctx context.Context, method, endpoint string, params map[string]string, signed bool) ([]byte, error) {
	var reqBody string
	var reqURL string

	if method == http.MethodGet {
		query := url.Values{}
		for k, v := range params {
			query.Set(k, v)
		}
		reqBody = query.Encode()
		reqURL = bybitBaseURL + endpoint
		if reqBody != "" {
			reqURL += "?" + reqBody
		}
	} else {
		reqURL = bybitBaseURL + endpoint
		if len(params) > 0 {
			jsonBytes, _ := bybitJSON.Marshal(params)
			reqBody = string(jsonBytes)
		}
	}

	var bodyReader io.Reader
	if method != http.MethodGet {
		bodyReader = strings.NewReader(reqBody)
	}

	req, err := http.NewRequestWithContext(ctxOrBackground(ctx), method, reqURL, bodyReader)
	if err != nil {
		return nil, NewVenueError(VenueBybit, "request", ErrKindFatal, err.Error(), err)
	}
	req.Header.Set("Content-Type", "application/json")

	if signed {
		timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
		signature := b.sign(timestamp, reqBody)
		req.Header.Set("X-BAPI-API-KEY", b.apiKey)
		req.Header.Set("X-BAPI-SIGN", signature)
		req.Header.Set("X-BAPI-TIMESTAMP", timestamp)
		req.Header.Set("X-BAPI-RECV-WINDOW", bybitRecvWindow)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, NewVenueError(VenueBybit, "network", ErrKindNetwork, err.Error(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		ve := NewVenueError(VenueBybit, "429", ErrKindRateLimited, "rate limit exceeded", nil)
		ve.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
		drainAndClose(resp)
		return nil, ve
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewVenueError(VenueBybit, "read", ErrKindNetwork, err.Error(), err)
	}

	var baseResp struct {
		RetCode int    `json:"retCode"`
		RetMsg  string `json:"retMsg"`
	}
	if err := bybitJSON.Unmarshal(body, &baseResp); err != nil {
		return nil, NewVenueError(VenueBybit, "decode", ErrKindNetwork, err.Error(), err)
	}

	if baseResp.RetCode != 0 {
		kind := ErrKindRejected
		// 10006 - too many visits, 10016 - server error
		switch baseResp.RetCode {
		case 10006:
			kind = ErrKindRateLimited
		case 10016:
			kind = ErrKindNetwork
		}
		return nil, NewVenueError(VenueBybit, strconv.Itoa(baseResp.RetCode), kind, baseResp.RetMsg, nil)
	}

	return body, nil
}

// mapBybitState переводит статус Bybit в универсальный OrderState
func mapBybitState(status string) OrderState {
	switch status {
	case "New", "Untriggered":
		return OrderStatePlaced
	case "PartiallyFilled":
		return OrderStatePartiallyFilled
	case "Filled":
		return OrderStateFilled
	case "Cancelled", "PartiallyFilledCanceled":
		return OrderStateCancelled
	case "Rejected":
		return OrderStateRejected
	default:
		return OrderStateWaitingFill
	}
}

// bybitSide переводит сторону запроса в сторону ордера Bybit.
// В one-way режиме reduceOnly-ордер закрывает противоположную позицию.
func bybitSide(side string) string {
	if side == SideLong {
		return "Buy"
	}
	return "Sell"
}

// PlaceOrder размещает ордер
func (b *Bybit) PlaceOrder(ctx context.Context, req *OrderRequest) (*OrderResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	params := map[string]string{
		"category": "linear",
		"symbol":   Denormalize(VenueBybit, req.Symbol),
		"side":     bybitSide(req.Side),
		"qty":      strconv.FormatFloat(req.Size, 'f', -1, 64),
	}
	if req.Type == OrderTypeLimit {
		params["orderType"] = "Limit"
		params["price"] = strconv.FormatFloat(req.LimitPrice, 'f', -1, 64)
	} else {
		params["orderType"] = "Market"
	}
	if req.TimeInForce != "" {
		params["timeInForce"] = string(req.TimeInForce)
	}
	if req.ReduceOnly {
		params["reduceOnly"] = "true"
	}

	body, err := b.doRequest(ctx, http.MethodPost, "/v5/order/create", params, true)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Result struct {
			OrderID string `json:"orderId"`
		} `json:"result"`
	}
	if err := bybitJSON.Unmarshal(body, &resp); err != nil {
		return nil, NewVenueError(VenueBybit, "decode", ErrKindNetwork, err.Error(), err)
	}

	return &OrderResponse{
		OrderID:   resp.Result.OrderID,
		Symbol:    NormalizeSymbol(req.Symbol),
		State:     OrderStatePlaced,
		Price:     req.LimitPrice,
		CreatedAt: time.Now(),
	}, nil
}

// CancelOrder отменяет ордер
func (b *Bybit) CancelOrder(ctx context.Context, orderID, symbol string) error {
	params := map[string]string{
		"category": "linear",
		"symbol":   Denormalize(VenueBybit, symbol),
		"orderId":  orderID,
	}
	_, err := b.doRequest(ctx, http.MethodPost, "/v5/order/cancel", params, true)
	return err
}

// GetOrderStatus возвращает статус ордера (realtime, затем история)
func (b *Bybit) GetOrderStatus(ctx context.Context, orderID, symbol string) (*OrderStatusInfo, error) {
	params := map[string]string{
		"category": "linear",
		"symbol":   Denormalize(VenueBybit, symbol),
		"orderId":  orderID,
	}

	body, err := b.doRequest(ctx, http.MethodGet, "/v5/order/realtime", params, true)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Result struct {
			List []struct {
				OrderID     string `json:"orderId"`
				OrderStatus string `json:"orderStatus"`
				CumExecQty  string `json:"cumExecQty"`
				AvgPrice    string `json:"avgPrice"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := bybitJSON.Unmarshal(body, &resp); err != nil {
		return nil, NewVenueError(VenueBybit, "decode", ErrKindNetwork, err.Error(), err)
	}
	if len(resp.Result.List) == 0 {
		return nil, NewVenueError(VenueBybit, "not_found", ErrKindRejected, "order not found: "+orderID, nil)
	}

	o := resp.Result.List[0]
	filled, _ := strconv.ParseFloat(o.CumExecQty, 64)
	avgPrice, _ := strconv.ParseFloat(o.AvgPrice, 64)

	return &OrderStatusInfo{
		OrderID:    o.OrderID,
		State:      mapBybitState(o.OrderStatus),
		FilledSize: filled,
		AvgPrice:   avgPrice,
	}, nil
}

// GetPosition возвращает позицию по символу (nil если нет)
func (b *Bybit) GetPosition(ctx context.Context, symbol string) (*Position, error) {
	positions, err := b.positionList(ctx, Denormalize(VenueBybit, symbol))
	if err != nil {
		return nil, err
	}
	if len(positions) == 0 {
		return nil, nil
	}
	return positions[0], nil
}

// GetPositions возвращает все открытые позиции
func (b *Bybit) GetPositions(ctx context.Context) ([]*Position, error) {
	return b.positionList(ctx, "")
}

func (b *Bybit) positionList(ctx context.Context, nativeSymbol string) ([]*Position, error) {
	params := map[string]string{
		"category": "linear",
	}
	if nativeSymbol != "" {
		params["symbol"] = nativeSymbol
	} else {
		params["settleCoin"] = "USDT"
	}

	body, err := b.doRequest(ctx, http.MethodGet, "/v5/position/list", params, true)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Result struct {
			List []struct {
				Symbol        string `json:"symbol"`
				Side          string `json:"side"`
				Size          string `json:"size"`
				AvgPrice      string `json:"avgPrice"`
				MarkPrice     string `json:"markPrice"`
				UnrealisedPnl string `json:"unrealisedPnl"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := bybitJSON.Unmarshal(body, &resp); err != nil {
		return nil, NewVenueError(VenueBybit, "decode", ErrKindNetwork, err.Error(), err)
	}

	var positions []*Position
	for _, p := range resp.Result.List {
		size, _ := strconv.ParseFloat(p.Size, 64)
		if size == 0 {
			continue
		}
		entry, _ := strconv.ParseFloat(p.AvgPrice, 64)
		mark, _ := strconv.ParseFloat(p.MarkPrice, 64)
		pnl, _ := strconv.ParseFloat(p.UnrealisedPnl, 64)

		side := SideLong
		if p.Side == "Sell" {
			side = SideShort
		}

		positions = append(positions, &Position{
			Venue:         VenueBybit,
			Symbol:        NormalizeSymbol(p.Symbol),
			Side:          side,
			Size:          size,
			EntryPrice:    entry,
			MarkPrice:     mark,
			UnrealizedPnl: pnl,
			UpdatedAt:     time.Now(),
		})
	}
	return positions, nil
}

// GetMarkPrice возвращает mark-цену символа
func (b *Bybit) GetMarkPrice(ctx context.Context, symbol string) (float64, error) {
	t, err := b.ticker(ctx, symbol)
	if err != nil {
		return 0, err
	}
	return t.markPrice, nil
}

// GetFundingRate возвращает текущую ставку фандинга (за 8-часовой период)
func (b *Bybit) GetFundingRate(ctx context.Context, symbol string) (float64, error) {
	t, err := b.ticker(ctx, symbol)
	if err != nil {
		return 0, err
	}
	return t.fundingRate, nil
}

type bybitTicker struct {
	markPrice   float64
	fundingRate float64
}

func (b *Bybit) ticker(ctx context.Context, symbol string) (*bybitTicker, error) {
	params := map[string]string{
		"category": "linear",
		"symbol":   Denormalize(VenueBybit, symbol),
	}

	body, err := b.doRequest(ctx, http.MethodGet, "/v5/market/tickers", params, false)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Result struct {
			List []struct {
				MarkPrice   string `json:"markPrice"`
				FundingRate string `json:"fundingRate"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := bybitJSON.Unmarshal(body, &resp); err != nil {
		return nil, NewVenueError(VenueBybit, "decode", ErrKindNetwork, err.Error(), err)
	}
	if len(resp.Result.List) == 0 {
		return nil, NewVenueError(VenueBybit, "not_found", ErrKindRejected, "ticker not found: "+symbol, nil)
	}

	mark, _ := strconv.ParseFloat(resp.Result.List[0].MarkPrice, 64)
	rate, _ := strconv.ParseFloat(resp.Result.List[0].FundingRate, 64)
	return &bybitTicker{markPrice: mark, fundingRate: rate}, nil
}

// GetEquity возвращает equity UNIFIED аккаунта в USDT
func (b *Bybit) GetEquity(ctx context.Context) (float64, error) {
	params := map[string]string{
		"accountType": "UNIFIED",
		"coin":        "USDT",
	}

	body, err := b.doRequest(ctx, http.MethodGet, "/v5/account/wallet-balance", params, true)
	if err != nil {
		return 0, err
	}

	var resp struct {
		Result struct {
			List []struct {
				Coin []struct {
					Coin   string `json:"coin"`
					Equity string `json:"equity"`
				} `json:"coin"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := bybitJSON.Unmarshal(body, &resp); err != nil {
		return 0, NewVenueError(VenueBybit, "decode", ErrKindNetwork, err.Error(), err)
	}

	if len(resp.Result.List) > 0 {
		for _, coin := range resp.Result.List[0].Coin {
			if coin.Coin == "USDT" {
				equity, _ := strconv.ParseFloat(coin.Equity, 64)
				return equity, nil
			}
		}
	}
	return 0, nil
}
