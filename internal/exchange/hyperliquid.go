package exchange

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	jsoniter "github.com/json-iterator/go"
	"github.com/sony/gobreaker"
)

// hyperliquid.go - адаптер Hyperliquid
//
// Hyperliquid не использует API-ключи: действия подписываются приватным
// ключом кошелька (Keccak-256 + secp256k1), nonce - unix millis.
// Чтение идёт через POST /info, действия через POST /exchange.
// Фандинг выплачивается каждый час - по умолчанию это "ограниченная"
// нога исполнения.

const hyperliquidBaseURL = "https://api.hyperliquid.xyz"

var hlJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// Hyperliquid реализует PerpExchange для Hyperliquid
type Hyperliquid struct {
	privateKeyHex string
	address       string

	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

var _ PerpExchange = (*Hyperliquid)(nil)

// NewHyperliquid создает адаптер Hyperliquid.
// privateKeyHex - hex приватного ключа кошелька (без 0x), address - его адрес.
func NewHyperliquid(privateKeyHex, address string) *Hyperliquid {
	return &Hyperliquid{
		privateKeyHex: strings.TrimPrefix(privateKeyHex, "0x"),
		address:       address,
		httpClient:    GetGlobalHTTPClient().GetClient(),
		breaker:       NewVenueBreaker(VenueHyperliquid),
	}
}

func (h *Hyperliquid) Name() string { return VenueHyperliquid }

// Close реализует PerpExchange
func (h *Hyperliquid) Close() error { return nil }

// signAction подписывает сериализованное действие с nonce:
// signature = secp256k1(keccak256(actionBytes || nonceBytes))
func (h *Hyperliquid) signAction(actionBytes []byte, nonce int64) (string, error) {
	key, err := crypto.HexToECDSA(h.privateKeyHex)
	if err != nil {
		return "", fmt.Errorf("hyperliquid: invalid private key: %w", err)
	}

	nonceBytes := []byte(strconv.FormatInt(nonce, 10))
	digest := crypto.Keccak256(actionBytes, nonceBytes)

	sig, err := crypto.Sign(digest, key)
	if err != nil {
		return "", fmt.Errorf("hyperliquid: sign failed: %w", err)
	}
	return "0x" + hex.EncodeToString(sig), nil
}

// post выполняет POST запрос через circuit breaker
func (h *Hyperliquid) post(ctx context.Context, endpoint string, payload interface{}) ([]byte, error) {
	return breakerDo(h.breaker, VenueHyperliquid, func() ([]byte, error) {
		return h.postRaw(ctx, endpoint, payload)
	})
}

func (h *Hyperliquid) postRaw(ctx context.Context, endpoint string, payload interface{}) ([]byte, error) {
	body, err := hlJSON.Marshal(payload)
	if err != nil {
		return nil, NewVenueError(VenueHyperliquid, "encode", ErrKindFatal, err.Error(), err)
	}

	req, err := http.NewRequestWithContext(ctxOrBackground(ctx), http.MethodPost, hyperliquidBaseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, NewVenueError(VenueHyperliquid, "request", ErrKindFatal, err.Error(), err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, NewVenueError(VenueHyperliquid, "network", ErrKindNetwork, err.Error(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		ve := NewVenueError(VenueHyperliquid, "429", ErrKindRateLimited, "rate limit exceeded", nil)
		ve.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
		drainAndClose(resp)
		return nil, ve
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewVenueError(VenueHyperliquid, "read", ErrKindNetwork, err.Error(), err)
	}

	if resp.StatusCode >= 500 {
		return nil, NewVenueError(VenueHyperliquid, strconv.Itoa(resp.StatusCode), ErrKindNetwork, string(respBody), nil)
	}
	if resp.StatusCode >= 400 {
		return nil, NewVenueError(VenueHyperliquid, strconv.Itoa(resp.StatusCode), ErrKindRejected, string(respBody), nil)
	}

	return respBody, nil
}

// postAction подписывает и отправляет действие на /exchange
func (h *Hyperliquid) postAction(ctx context.Context, action interface{}) ([]byte, error) {
	actionBytes, err := hlJSON.Marshal(action)
	if err != nil {
		return nil, NewVenueError(VenueHyperliquid, "encode", ErrKindFatal, err.Error(), err)
	}

	nonce := time.Now().UnixMilli()
	signature, err := h.signAction(actionBytes, nonce)
	if err != nil {
		return nil, NewVenueError(VenueHyperliquid, "sign", ErrKindFatal, err.Error(), err)
	}

	payload := map[string]interface{}{
		"action":    action,
		"nonce":     nonce,
		"signature": signature,
	}
	return h.post(ctx, "/exchange", payload)
}

// mapHLState переводит статус Hyperliquid в универсальный OrderState
func mapHLState(status string) OrderState {
	switch status {
	case "open", "resting":
		return OrderStatePlaced
	case "filled":
		return OrderStateFilled
	case "canceled", "marginCanceled":
		return OrderStateCancelled
	case "rejected":
		return OrderStateRejected
	default:
		return OrderStateWaitingFill
	}
}

// PlaceOrder размещает ордер
func (h *Hyperliquid) PlaceOrder(ctx context.Context, req *OrderRequest) (*OrderResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	isBuy := req.Side == SideLong

	order := map[string]interface{}{
		"coin":       Denormalize(VenueHyperliquid, req.Symbol),
		"isBuy":      isBuy,
		"sz":         strconv.FormatFloat(req.Size, 'f', -1, 64),
		"reduceOnly": req.ReduceOnly,
	}
	if req.Type == OrderTypeLimit {
		order["limitPx"] = strconv.FormatFloat(req.LimitPrice, 'f', -1, 64)
		order["orderType"] = map[string]interface{}{"limit": map[string]string{"tif": "Gtc"}}
	} else {
		// Рыночный ордер моделируется агрессивным IOC-лимитом
		order["limitPx"] = "0"
		order["orderType"] = map[string]interface{}{"limit": map[string]string{"tif": "Ioc"}}
	}

	action := map[string]interface{}{
		"type":   "order",
		"orders": []interface{}{order},
	}

	body, err := h.postAction(ctx, action)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Status   string `json:"status"`
		Response struct {
			Data struct {
				Statuses []struct {
					Resting struct {
						Oid int64 `json:"oid"`
					} `json:"resting"`
					Filled struct {
						Oid int64 `json:"oid"`
					} `json:"filled"`
					Error string `json:"error"`
				} `json:"statuses"`
			} `json:"data"`
		} `json:"response"`
	}
	if err := hlJSON.Unmarshal(body, &resp); err != nil {
		return nil, NewVenueError(VenueHyperliquid, "decode", ErrKindNetwork, err.Error(), err)
	}

	if resp.Status != "ok" || len(resp.Response.Data.Statuses) == 0 {
		return nil, NewVenueError(VenueHyperliquid, "rejected", ErrKindRejected, string(body), nil)
	}

	st := resp.Response.Data.Statuses[0]
	if st.Error != "" {
		return nil, NewVenueError(VenueHyperliquid, "rejected", ErrKindRejected, st.Error, nil)
	}

	oid := st.Resting.Oid
	state := OrderStatePlaced
	if st.Filled.Oid != 0 {
		oid = st.Filled.Oid
		state = OrderStateFilled
	}

	return &OrderResponse{
		OrderID:   strconv.FormatInt(oid, 10),
		Symbol:    NormalizeSymbol(req.Symbol),
		State:     state,
		Price:     req.LimitPrice,
		CreatedAt: time.Now(),
	}, nil
}

// CancelOrder отменяет ордер
func (h *Hyperliquid) CancelOrder(ctx context.Context, orderID, symbol string) error {
	oid, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return NewVenueError(VenueHyperliquid, "bad_oid", ErrKindFatal, "invalid order id: "+orderID, err)
	}

	action := map[string]interface{}{
		"type": "cancel",
		"cancels": []interface{}{map[string]interface{}{
			"coin": Denormalize(VenueHyperliquid, symbol),
			"oid":  oid,
		}},
	}
	_, err = h.postAction(ctx, action)
	return err
}

// GetOrderStatus возвращает статус ордера через /info orderStatus
func (h *Hyperliquid) GetOrderStatus(ctx context.Context, orderID, symbol string) (*OrderStatusInfo, error) {
	oid, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return nil, NewVenueError(VenueHyperliquid, "bad_oid", ErrKindFatal, "invalid order id: "+orderID, err)
	}

	payload := map[string]interface{}{
		"type": "orderStatus",
		"user": h.address,
		"oid":  oid,
	}

	body, err := h.post(ctx, "/info", payload)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Status string `json:"status"`
		Order  struct {
			Status string `json:"status"`
			Order  struct {
				OrigSz string `json:"origSz"`
				Sz     string `json:"sz"` // остаток
			} `json:"order"`
		} `json:"order"`
	}
	if err := hlJSON.Unmarshal(body, &resp); err != nil {
		return nil, NewVenueError(VenueHyperliquid, "decode", ErrKindNetwork, err.Error(), err)
	}
	if resp.Status != "order" {
		return nil, NewVenueError(VenueHyperliquid, "not_found", ErrKindRejected, "order not found: "+orderID, nil)
	}

	orig, _ := strconv.ParseFloat(resp.Order.Order.OrigSz, 64)
	remaining, _ := strconv.ParseFloat(resp.Order.Order.Sz, 64)
	filled := orig - remaining
	if filled < 0 {
		filled = 0
	}

	state := mapHLState(resp.Order.Status)
	if state == OrderStatePlaced && filled > 0 && remaining > 0 {
		state = OrderStatePartiallyFilled
	}

	return &OrderStatusInfo{
		OrderID:    orderID,
		State:      state,
		FilledSize: filled,
	}, nil
}

// clearinghouseState запрашивает состояние аккаунта (позиции + equity)
func (h *Hyperliquid) clearinghouseState(ctx context.Context) (*hlClearinghouse, error) {
	payload := map[string]interface{}{
		"type": "clearinghouseState",
		"user": h.address,
	}

	body, err := h.post(ctx, "/info", payload)
	if err != nil {
		return nil, err
	}

	var resp hlClearinghouse
	if err := hlJSON.Unmarshal(body, &resp); err != nil {
		return nil, NewVenueError(VenueHyperliquid, "decode", ErrKindNetwork, err.Error(), err)
	}
	return &resp, nil
}

type hlClearinghouse struct {
	MarginSummary struct {
		AccountValue string `json:"accountValue"`
	} `json:"marginSummary"`
	AssetPositions []struct {
		Position struct {
			Coin           string `json:"coin"`
			Szi            string `json:"szi"` // знаковый размер
			EntryPx        string `json:"entryPx"`
			UnrealizedPnl  string `json:"unrealizedPnl"`
			PositionValue  string `json:"positionValue"`
		} `json:"position"`
	} `json:"assetPositions"`
}

// GetPosition возвращает позицию по символу (nil если нет)
func (h *Hyperliquid) GetPosition(ctx context.Context, symbol string) (*Position, error) {
	positions, err := h.GetPositions(ctx)
	if err != nil {
		return nil, err
	}
	want := NormalizeSymbol(symbol)
	for _, p := range positions {
		if p.Symbol == want {
			return p, nil
		}
	}
	return nil, nil
}

// GetPositions возвращает все открытые позиции
func (h *Hyperliquid) GetPositions(ctx context.Context) ([]*Position, error) {
	state, err := h.clearinghouseState(ctx)
	if err != nil {
		return nil, err
	}

	var positions []*Position
	for _, ap := range state.AssetPositions {
		szi, _ := strconv.ParseFloat(ap.Position.Szi, 64)
		if szi == 0 {
			continue
		}
		entry, _ := strconv.ParseFloat(ap.Position.EntryPx, 64)
		pnl, _ := strconv.ParseFloat(ap.Position.UnrealizedPnl, 64)
		value, _ := strconv.ParseFloat(ap.Position.PositionValue, 64)

		side := SideLong
		size := szi
		if szi < 0 {
			side = SideShort
			size = -szi
		}

		mark := 0.0
		if size > 0 {
			mark = value / size
		}

		positions = append(positions, &Position{
			Venue:         VenueHyperliquid,
			Symbol:        NormalizeSymbol(ap.Position.Coin),
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

// allMids запрашивает mid-цены всех монет
func (h *Hyperliquid) allMids(ctx context.Context) (map[string]string, error) {
	body, err := h.post(ctx, "/info", map[string]interface{}{"type": "allMids"})
	if err != nil {
		return nil, err
	}

	var mids map[string]string
	if err := hlJSON.Unmarshal(body, &mids); err != nil {
		return nil, NewVenueError(VenueHyperliquid, "decode", ErrKindNetwork, err.Error(), err)
	}
	return mids, nil
}

// GetMarkPrice возвращает mid-цену символа
func (h *Hyperliquid) GetMarkPrice(ctx context.Context, symbol string) (float64, error) {
	mids, err := h.allMids(ctx)
	if err != nil {
		return 0, err
	}

	coin := Denormalize(VenueHyperliquid, symbol)
	raw, ok := mids[coin]
	if !ok {
		return 0, NewVenueError(VenueHyperliquid, "not_found", ErrKindRejected, "mark price not found: "+symbol, nil)
	}

	price, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, NewVenueError(VenueHyperliquid, "decode", ErrKindNetwork, err.Error(), err)
	}
	return price, nil
}

// GetFundingRate возвращает текущую часовую ставку фандинга
func (h *Hyperliquid) GetFundingRate(ctx context.Context, symbol string) (float64, error) {
	body, err := h.post(ctx, "/info", map[string]interface{}{"type": "metaAndAssetCtxs"})
	if err != nil {
		return 0, err
	}

	// Ответ - пара [meta, assetCtxs]; universe в meta задаёт порядок монет
	var resp []jsoniter.RawMessage
	if err := hlJSON.Unmarshal(body, &resp); err != nil || len(resp) < 2 {
		return 0, NewVenueError(VenueHyperliquid, "decode", ErrKindNetwork, "unexpected metaAndAssetCtxs shape", err)
	}

	var meta struct {
		Universe []struct {
			Name string `json:"name"`
		} `json:"universe"`
	}
	if err := hlJSON.Unmarshal(resp[0], &meta); err != nil {
		return 0, NewVenueError(VenueHyperliquid, "decode", ErrKindNetwork, err.Error(), err)
	}

	var ctxs []struct {
		Funding string `json:"funding"`
	}
	if err := hlJSON.Unmarshal(resp[1], &ctxs); err != nil {
		return 0, NewVenueError(VenueHyperliquid, "decode", ErrKindNetwork, err.Error(), err)
	}

	coin := Denormalize(VenueHyperliquid, symbol)
	for i, u := range meta.Universe {
		if u.Name == coin && i < len(ctxs) {
			rate, _ := strconv.ParseFloat(ctxs[i].Funding, 64)
			return rate, nil
		}
	}
	return 0, NewVenueError(VenueHyperliquid, "not_found", ErrKindRejected, "funding rate not found: "+symbol, nil)
}

// GetEquity возвращает account value в USD
func (h *Hyperliquid) GetEquity(ctx context.Context) (float64, error) {
	state, err := h.clearinghouseState(ctx)
	if err != nil {
		return 0, err
	}
	equity, _ := strconv.ParseFloat(state.MarginSummary.AccountValue, 64)
	return equity, nil
}
