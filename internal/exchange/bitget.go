package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
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
	bitgetBaseURL     = "https://api.bitget.com"
	bitgetProductType = "USDT-FUTURES"
	bitgetMarginCoin  = "USDT"
)

var bitgetJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// Bitget реализует PerpExchange для Bitget mix v2 (USDT-M futures)
type Bitget struct {
	apiKey     string
	secretKey  string
	passphrase string

	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

var _ PerpExchange = (*Bitget)(nil)

// NewBitget создает адаптер Bitget
func NewBitget(apiKey, secretKey, passphrase string) *Bitget {
	return &Bitget{
		apiKey:     apiKey,
		secretKey:  secretKey,
		passphrase: passphrase,
		httpClient: GetGlobalHTTPClient().GetClient(),
		breaker:    NewVenueBreaker(VenueBitget),
	}
}

func (bg *Bitget) Name() string { return VenueBitget }

// Close реализует PerpExchange
func (bg *Bitget) Close() error { return nil }

// sign создает подпись Bitget: base64(hmac-sha256(ts + method + path + body))
func (bg *Bitget) sign(timestamp, method, requestPath, body string) string {
	message := timestamp + method + requestPath + body
	h := hmac.New(sha256.New, []byte(bg.secretKey))
	h.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// doRequest выполняет HTTP запрос к Bitget API через circuit breaker
func (bg *Bitget) doRequest(ctx context.Context, method, endpoint string, params map[string]string, signed bool) ([]byte, error) {
	return breakerDo(bg.breaker, VenueBitget, func() ([]byte, error) {
		return bg.doRequestRaw(ctx, method, endpoint, params, signed)
	})
}

func (bg *Bitget) doRequestRaw(ctx context.Context, method, endpoint string, params map[string]string, signed bool) ([]byte, error) {
	requestPath := endpoint
	var reqBody string

	if method == http.MethodGet {
		query := url.Values{}
		for k, v := range params {
			query.Set(k, v)
		}
		if encoded := query.Encode(); encoded != "" {
			requestPath += "?" + encoded
		}
	} else if len(params) > 0 {
		jsonBytes, _ := bitgetJSON.Marshal(params)
		reqBody = string(jsonBytes)
	}

	var bodyReader io.Reader
	if reqBody != "" {
		bodyReader = strings.NewReader(reqBody)
	}

	req, err := http.NewRequestWithContext(ctxOrBackground(ctx), method, bitgetBaseURL+requestPath, bodyReader)
	if err != nil {
		return nil, NewVenueError(VenueBitget, "request", ErrKindFatal, err.Error(), err)
	}
	req.Header.Set("Content-Type", "application/json")

	if signed {
		timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
		req.Header.Set("ACCESS-KEY", bg.apiKey)
		req.Header.Set("ACCESS-SIGN", bg.sign(timestamp, method, requestPath, reqBody))
		req.Header.Set("ACCESS-TIMESTAMP", timestamp)
		req.Header.Set("ACCESS-PASSPHRASE", bg.passphrase)
	}

	resp, err := bg.httpClient.Do(req)
	if err != nil {
		return nil, NewVenueError(VenueBitget, "network", ErrKindNetwork, err.Error(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		ve := NewVenueError(VenueBitget, "429", ErrKindRateLimited, "rate limit exceeded", nil)
		ve.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
		drainAndClose(resp)
		return nil, ve
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewVenueError(VenueBitget, "read", ErrKindNetwork, err.Error(), err)
	}

	var baseResp struct {
		Code string `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := bitgetJSON.Unmarshal(body, &baseResp); err != nil {
		return nil, NewVenueError(VenueBitget, "decode", ErrKindNetwork, err.Error(), err)
	}

	if baseResp.Code != "00000" {
		kind := ErrKindRejected
		if baseResp.Code == "429" || strings.Contains(baseResp.Msg, "too many") {
			kind = ErrKindRateLimited
		}
		return nil, NewVenueError(VenueBitget, baseResp.Code, kind, baseResp.Msg, nil)
	}

	return body, nil
}

// mapBitgetState переводит статус Bitget в универсальный OrderState
func mapBitgetState(status string) OrderState {
	switch status {
	case "live", "new":
		return OrderStatePlaced
	case "partially_filled":
		return OrderStatePartiallyFilled
	case "filled":
		return OrderStateFilled
	case "canceled", "cancelled":
		return OrderStateCancelled
	case "rejected":
		return OrderStateRejected
	default:
		return OrderStateWaitingFill
	}
}

// PlaceOrder размещает ордер
func (bg *Bitget) PlaceOrder(ctx context.Context, req *OrderRequest) (*OrderResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	// В one-way режиме сторона ордера совпадает со стороной запроса,
	// reduceOnly закрывает противоположную позицию
	side := "buy"
	if req.Side == SideShort {
		side = "sell"
	}

	params := map[string]string{
		"symbol":      Denormalize(VenueBitget, req.Symbol),
		"productType": bitgetProductType,
		"marginCoin":  bitgetMarginCoin,
		"marginMode":  "crossed",
		"side":        side,
		"size":        strconv.FormatFloat(req.Size, 'f', -1, 64),
	}
	if req.Type == OrderTypeLimit {
		params["orderType"] = "limit"
		params["price"] = strconv.FormatFloat(req.LimitPrice, 'f', -1, 64)
	} else {
		params["orderType"] = "market"
	}
	if req.TimeInForce == TIFImmediateOrCancel {
		params["force"] = "ioc"
	} else if req.TimeInForce == TIFPostOnly {
		params["force"] = "post_only"
	} else {
		params["force"] = "gtc"
	}
	if req.ReduceOnly {
		params["reduceOnly"] = "YES"
	}

	body, err := bg.doRequest(ctx, http.MethodPost, "/api/v2/mix/order/place-order", params, true)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Data struct {
			OrderID string `json:"orderId"`
		} `json:"data"`
	}
	if err := bitgetJSON.Unmarshal(body, &resp); err != nil {
		return nil, NewVenueError(VenueBitget, "decode", ErrKindNetwork, err.Error(), err)
	}

	return &OrderResponse{
		OrderID:   resp.Data.OrderID,
		Symbol:    NormalizeSymbol(req.Symbol),
		State:     OrderStatePlaced,
		Price:     req.LimitPrice,
		CreatedAt: time.Now(),
	}, nil
}

// CancelOrder отменяет ордер
func (bg *Bitget) CancelOrder(ctx context.Context, orderID, symbol string) error {
	params := map[string]string{
		"symbol":      Denormalize(VenueBitget, symbol),
		"productType": bitgetProductType,
		"orderId":     orderID,
	}
	_, err := bg.doRequest(ctx, http.MethodPost, "/api/v2/mix/order/cancel-order", params, true)
	return err
}

// GetOrderStatus возвращает статус ордера
func (bg *Bitget) GetOrderStatus(ctx context.Context, orderID, symbol string) (*OrderStatusInfo, error) {
	params := map[string]string{
		"symbol":      Denormalize(VenueBitget, symbol),
		"productType": bitgetProductType,
		"orderId":     orderID,
	}

	body, err := bg.doRequest(ctx, http.MethodGet, "/api/v2/mix/order/detail", params, true)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Data struct {
			OrderID    string `json:"orderId"`
			State      string `json:"state"`
			BaseVolume string `json:"baseVolume"` // заполненный объём
			PriceAvg   string `json:"priceAvg"`
		} `json:"data"`
	}
	if err := bitgetJSON.Unmarshal(body, &resp); err != nil {
		return nil, NewVenueError(VenueBitget, "decode", ErrKindNetwork, err.Error(), err)
	}

	filled, _ := strconv.ParseFloat(resp.Data.BaseVolume, 64)
	avgPrice, _ := strconv.ParseFloat(resp.Data.PriceAvg, 64)

	return &OrderStatusInfo{
		OrderID:    resp.Data.OrderID,
		State:      mapBitgetState(resp.Data.State),
		FilledSize: filled,
		AvgPrice:   avgPrice,
	}, nil
}

// GetPosition возвращает позицию по символу (nil если нет)
func (bg *Bitget) GetPosition(ctx context.Context, symbol string) (*Position, error) {
	params := map[string]string{
		"symbol":      Denormalize(VenueBitget, symbol),
		"productType": bitgetProductType,
		"marginCoin":  bitgetMarginCoin,
	}

	body, err := bg.doRequest(ctx, http.MethodGet, "/api/v2/mix/position/single-position", params, true)
	if err != nil {
		return nil, err
	}

	positions, err := bg.parsePositions(body)
	if err != nil {
		return nil, err
	}
	if len(positions) == 0 {
		return nil, nil
	}
	return positions[0], nil
}

// GetPositions возвращает все открытые позиции
func (bg *Bitget) GetPositions(ctx context.Context) ([]*Position, error) {
	params := map[string]string{
		"productType": bitgetProductType,
		"marginCoin":  bitgetMarginCoin,
	}

	body, err := bg.doRequest(ctx, http.MethodGet, "/api/v2/mix/position/all-position", params, true)
	if err != nil {
		return nil, err
	}
	return bg.parsePositions(body)
}

func (bg *Bitget) parsePositions(body []byte) ([]*Position, error) {
	var resp struct {
		Data []struct {
			Symbol        string `json:"symbol"`
			HoldSide      string `json:"holdSide"`
			Total         string `json:"total"`
			OpenPriceAvg  string `json:"openPriceAvg"`
			MarkPrice     string `json:"markPrice"`
			UnrealizedPL  string `json:"unrealizedPL"`
		} `json:"data"`
	}
	if err := bitgetJSON.Unmarshal(body, &resp); err != nil {
		return nil, NewVenueError(VenueBitget, "decode", ErrKindNetwork, err.Error(), err)
	}

	var positions []*Position
	for _, p := range resp.Data {
		size, _ := strconv.ParseFloat(p.Total, 64)
		if size == 0 {
			continue
		}
		entry, _ := strconv.ParseFloat(p.OpenPriceAvg, 64)
		mark, _ := strconv.ParseFloat(p.MarkPrice, 64)
		pnl, _ := strconv.ParseFloat(p.UnrealizedPL, 64)

		side := SideLong
		if p.HoldSide == "short" {
			side = SideShort
		}

		positions = append(positions, &Position{
			Venue:         VenueBitget,
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
func (bg *Bitget) GetMarkPrice(ctx context.Context, symbol string) (float64, error) {
	params := map[string]string{
		"symbol":      Denormalize(VenueBitget, symbol),
		"productType": bitgetProductType,
	}

	body, err := bg.doRequest(ctx, http.MethodGet, "/api/v2/mix/market/symbol-price", params, false)
	if err != nil {
		return 0, err
	}

	var resp struct {
		Data []struct {
			MarkPrice string `json:"markPrice"`
		} `json:"data"`
	}
	if err := bitgetJSON.Unmarshal(body, &resp); err != nil {
		return 0, NewVenueError(VenueBitget, "decode", ErrKindNetwork, err.Error(), err)
	}
	if len(resp.Data) == 0 {
		return 0, NewVenueError(VenueBitget, "not_found", ErrKindRejected, "mark price not found: "+symbol, nil)
	}

	mark, _ := strconv.ParseFloat(resp.Data[0].MarkPrice, 64)
	return mark, nil
}

// GetFundingRate возвращает текущую ставку фандинга (за 8-часовой период)
func (bg *Bitget) GetFundingRate(ctx context.Context, symbol string) (float64, error) {
	params := map[string]string{
		"symbol":      Denormalize(VenueBitget, symbol),
		"productType": bitgetProductType,
	}

	body, err := bg.doRequest(ctx, http.MethodGet, "/api/v2/mix/market/current-fund-rate", params, false)
	if err != nil {
		return 0, err
	}

	var resp struct {
		Data []struct {
			FundingRate string `json:"fundingRate"`
		} `json:"data"`
	}
	if err := bitgetJSON.Unmarshal(body, &resp); err != nil {
		return 0, NewVenueError(VenueBitget, "decode", ErrKindNetwork, err.Error(), err)
	}
	if len(resp.Data) == 0 {
		return 0, nil
	}

	rate, _ := strconv.ParseFloat(resp.Data[0].FundingRate, 64)
	return rate, nil
}

// GetEquity возвращает equity фьючерсного аккаунта в USDT
func (bg *Bitget) GetEquity(ctx context.Context) (float64, error) {
	params := map[string]string{
		"productType": bitgetProductType,
	}

	body, err := bg.doRequest(ctx, http.MethodGet, "/api/v2/mix/account/accounts", params, true)
	if err != nil {
		return 0, err
	}

	var resp struct {
		Data []struct {
			MarginCoin      string `json:"marginCoin"`
			AccountEquity   string `json:"accountEquity"`
		} `json:"data"`
	}
	if err := bitgetJSON.Unmarshal(body, &resp); err != nil {
		return 0, NewVenueError(VenueBitget, "decode", ErrKindNetwork, err.Error(), err)
	}

	for _, acc := range resp.Data {
		if acc.MarginCoin == bitgetMarginCoin {
			equity, _ := strconv.ParseFloat(acc.AccountEquity, 64)
			return equity, nil
		}
	}
	return 0, nil
}
