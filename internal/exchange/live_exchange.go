package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"binance-grid-trader-go/internal/errs"
	"binance-grid-trader-go/internal/models"

	"github.com/gorilla/websocket"
	"github.com/jxskiss/base62"
	"go.uber.org/zap"
)

const (
	markPriceStreamSuffix = "@markPrice@1s"
	listenKeyKeepAlive    = 25 * time.Minute
)

// LiveExchange 实现了 Exchange 接口，用于与真实的币安合约交易所交互。
// REST 调用按需签名，行情与成交通过两条 WebSocket 流推送到统一的事件通道。
type LiveExchange struct {
	apiKey      string
	secretKey   string
	baseURL     string
	wsBaseURL   string
	symbol      string
	enableRetry bool
	httpClient  *http.Client
	logger      *zap.SugaredLogger
	timeOffset  int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	events chan models.MarketEvent

	mu        sync.Mutex
	conns     []*websocket.Conn
	listenKey string

	orderSeq int64
}

// NewLiveExchange 创建一个新的 LiveExchange 实例，并与服务器同步时间。
func NewLiveExchange(apiKey, secretKey, baseURL, wsBaseURL, symbol string, enableRetry bool, logger *zap.SugaredLogger) (*LiveExchange, error) {
	ctx, cancel := context.WithCancel(context.Background())
	e := &LiveExchange{
		apiKey:      apiKey,
		secretKey:   secretKey,
		baseURL:     baseURL,
		wsBaseURL:   wsBaseURL,
		symbol:      symbol,
		enableRetry: enableRetry,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
		events:      make(chan models.MarketEvent, 256),
		orderSeq:    time.Now().UnixNano(),
	}

	if err := e.syncTime(); err != nil {
		cancel()
		return nil, errs.Wrap(errs.KindClient, "与币安服务器同步时间失败", err)
	}

	return e, nil
}

// Start 启动标记价格流与用户数据流。任一数据流在重试耗尽后仍不可用时，
// 事件通道会被关闭，由策略侧决定退出。
func (e *LiveExchange) Start() error {
	if _, err := e.createListenKey(); err != nil {
		return err
	}

	e.wg.Add(3)
	go e.runMarkPriceStream()
	go e.runUserDataStream()
	go e.keepAliveLoop()

	go func() {
		e.wg.Wait()
		close(e.events)
	}()

	return nil
}

// Events 返回行情与成交事件流
func (e *LiveExchange) Events() <-chan models.MarketEvent {
	return e.events
}

// Close 停止全部数据流并等待后台协程退出
func (e *LiveExchange) Close() error {
	e.cancel()
	e.mu.Lock()
	for _, conn := range e.conns {
		conn.Close()
	}
	e.conns = nil
	e.mu.Unlock()
	e.wg.Wait()
	return nil
}

// syncTime 与币安服务器同步时间，计算时间偏移。
func (e *LiveExchange) syncTime() error {
	serverTime, err := e.getServerTime()
	if err != nil {
		return err
	}
	localTime := time.Now().UnixMilli()
	e.timeOffset = serverTime - localTime
	e.logger.Infow("与币安服务器时间同步完成", "timeOffsetMs", e.timeOffset)
	return nil
}

// doRequest 是通用的请求处理函数，用于向币安API发送请求。
// 传输层错误归类为网络错误，交易所返回的业务错误以 models.Error 上抛。
func (e *LiveExchange) doRequest(method, endpoint string, params url.Values, signed bool) ([]byte, error) {
	fullURL := fmt.Sprintf("%s%s", e.baseURL, endpoint)
	queryParams := url.Values{}
	for k, v := range params {
		queryParams[k] = v
	}

	var encodedParams string
	if signed {
		timestamp := time.Now().UnixMilli() + e.timeOffset
		queryParams.Set("timestamp", strconv.FormatInt(timestamp, 10))
		payloadToSign := queryParams.Encode()
		signature := e.sign(payloadToSign)
		encodedParams = fmt.Sprintf("%s&signature=%s", payloadToSign, signature)
	} else {
		encodedParams = queryParams.Encode()
	}

	var req *http.Request
	var err error
	if method == http.MethodGet {
		finalURL := fullURL
		if encodedParams != "" {
			finalURL = fmt.Sprintf("%s?%s", fullURL, encodedParams)
		}
		req, err = http.NewRequest(method, finalURL, nil)
	} else {
		req, err = http.NewRequest(method, fullURL, strings.NewReader(encodedParams))
		if req != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}

	req.Header.Set("X-MBX-APIKEY", e.apiKey)
	e.logger.Debugw("发送API请求", "method", method, "endpoint", endpoint)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, errs.Wrap(errs.KindNetwork, "执行请求失败", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Wrap(errs.KindNetwork, "读取响应体失败", err)
	}

	var binanceError models.Error
	if json.Unmarshal(body, &binanceError) == nil && binanceError.Code != 0 {
		return body, &binanceError
	}

	if resp.StatusCode != http.StatusOK {
		return body, fmt.Errorf("API请求失败, 状态码: %d, 响应: %s", resp.StatusCode, string(body))
	}

	return body, nil
}

// sign 对请求参数进行签名。
func (e *LiveExchange) sign(data string) string {
	h := hmac.New(sha256.New, []byte(e.secretKey))
	h.Write([]byte(data))
	return fmt.Sprintf("%x", h.Sum(nil))
}

// nextClientOrderID 生成本地唯一的客户端订单号
func (e *LiveExchange) nextClientOrderID() string {
	seq := atomic.AddInt64(&e.orderSeq, 1)
	return fmt.Sprintf("grid-%s", base62.FormatInt(seq))
}

// classifyOrderError 将订单相关错误映射到错误分类体系
func classifyOrderError(err error) error {
	var apiErr *models.Error
	if errors.As(err, &apiErr) {
		// -2019: Margin is insufficient
		if apiErr.Code == -2019 {
			return errs.Wrap(errs.KindMarginInsufficient, "保证金不足", err)
		}
		return errs.Wrap(errs.KindOrder, "交易所拒绝请求", err)
	}
	if _, ok := errs.KindOf(err); ok {
		return err
	}
	return errs.Wrap(errs.KindOrder, "订单请求失败", err)
}

// withRetry 在开启重试开关时按错误自身的策略重试调用
func (e *LiveExchange) withRetry(fn func() error) error {
	if !e.enableRetry {
		return fn()
	}
	return errs.Do(e.ctx, fn)
}

// --- Exchange 接口实现 ---

// PlaceOrder 提交GTC限价单。
func (e *LiveExchange) PlaceOrder(symbol, side string, price, quantity float64, reduceOnly bool) (*models.Order, error) {
	var order *models.Order
	err := e.withRetry(func() error {
		o, err := e.placeOrderOnce(symbol, side, price, quantity, reduceOnly)
		if err != nil {
			return err
		}
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (e *LiveExchange) placeOrderOnce(symbol, side string, price, quantity float64, reduceOnly bool) (*models.Order, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", side)
	params.Set("type", "LIMIT")
	params.Set("timeInForce", "GTC")
	params.Set("price", strconv.FormatFloat(price, 'f', -1, 64))
	params.Set("quantity", strconv.FormatFloat(quantity, 'f', -1, 64))
	params.Set("newClientOrderId", e.nextClientOrderID())
	if reduceOnly {
		params.Set("reduceOnly", "true")
	}

	data, err := e.doRequest(http.MethodPost, "/fapi/v1/order", params, true)
	if err != nil {
		e.logger.Errorw("下单请求失败", "error", err, "rawResponse", string(data))
		return nil, classifyOrderError(err)
	}

	var order models.Order
	if err := json.Unmarshal(data, &order); err != nil {
		return nil, errs.Wrap(errs.KindOrder, "解析下单响应失败", err)
	}
	return &order, nil
}

// CancelOrder 取消订单。
func (e *LiveExchange) CancelOrder(symbol string, orderID int64) error {
	return e.withRetry(func() error {
		params := url.Values{}
		params.Set("symbol", symbol)
		params.Set("orderId", strconv.FormatInt(orderID, 10))
		if _, err := e.doRequest(http.MethodDelete, "/fapi/v1/order", params, true); err != nil {
			return classifyOrderError(err)
		}
		return nil
	})
}

// CancelAllOpenOrders 取消该交易对的所有挂单。
func (e *LiveExchange) CancelAllOpenOrders(symbol string) error {
	return e.withRetry(func() error {
		params := url.Values{}
		params.Set("symbol", symbol)
		if _, err := e.doRequest(http.MethodDelete, "/fapi/v1/allOpenOrders", params, true); err != nil {
			return classifyOrderError(err)
		}
		return nil
	})
}

// SetLeverage 设置杠杆。启动时调用一次，失败视为客户端级错误。
func (e *LiveExchange) SetLeverage(symbol string, leverage int) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("leverage", strconv.Itoa(leverage))
	if _, err := e.doRequest(http.MethodPost, "/fapi/v1/leverage", params, true); err != nil {
		return errs.Wrap(errs.KindClient, "设置杠杆失败", err)
	}
	return nil
}

// GetAccountInfo 获取账户信息。
func (e *LiveExchange) GetAccountInfo() (*models.AccountInfo, error) {
	data, err := e.doRequest(http.MethodGet, "/fapi/v2/account", nil, true)
	if err != nil {
		return nil, errs.Wrap(errs.KindClient, "获取账户信息失败", err)
	}

	var accInfo models.AccountInfo
	if err := json.Unmarshal(data, &accInfo); err != nil {
		return nil, errs.Wrap(errs.KindClient, "解析账户信息失败", err)
	}
	return &accInfo, nil
}

// getServerTime 获取服务器时间
func (e *LiveExchange) getServerTime() (int64, error) {
	data, err := e.doRequest(http.MethodGet, "/fapi/v1/time", nil, false)
	if err != nil {
		return 0, err
	}
	var serverTime struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := json.Unmarshal(data, &serverTime); err != nil {
		return 0, err
	}
	return serverTime.ServerTime, nil
}

// createListenKey 创建用户数据流的 listenKey。
func (e *LiveExchange) createListenKey() (string, error) {
	data, err := e.doRequest(http.MethodPost, "/fapi/v1/listenKey", nil, true)
	if err != nil {
		return "", errs.Wrap(errs.KindSubscription, "创建 listenKey 失败", err)
	}

	var response struct {
		ListenKey string `json:"listenKey"`
	}
	if err := json.Unmarshal(data, &response); err != nil {
		return "", errs.Wrap(errs.KindSubscription, "解析 listenKey 响应失败", err)
	}

	e.mu.Lock()
	e.listenKey = response.ListenKey
	e.mu.Unlock()
	return response.ListenKey, nil
}

// keepAliveListenKey 延长 listenKey 的有效期。
func (e *LiveExchange) keepAliveListenKey() error {
	e.mu.Lock()
	listenKey := e.listenKey
	e.mu.Unlock()
	if listenKey == "" {
		return nil
	}

	params := url.Values{}
	params.Set("listenKey", listenKey)
	if _, err := e.doRequest(http.MethodPut, "/fapi/v1/listenKey", params, true); err != nil {
		return errs.Wrap(errs.KindSubscription, "保持 listenKey 存活失败", err)
	}
	return nil
}

// keepAliveLoop 周期性地续期 listenKey
func (e *LiveExchange) keepAliveLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(listenKeyKeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			if err := e.keepAliveListenKey(); err != nil {
				e.logger.Warnw("listenKey 续期失败", "error", err)
			}
		}
	}
}

// trackConn 登记活跃连接，便于 Close 时统一中断阻塞的读操作
func (e *LiveExchange) trackConn(conn *websocket.Conn) {
	e.mu.Lock()
	e.conns = append(e.conns, conn)
	e.mu.Unlock()
}

func (e *LiveExchange) untrackConn(conn *websocket.Conn) {
	e.mu.Lock()
	for i, c := range e.conns {
		if c == conn {
			e.conns = append(e.conns[:i], e.conns[i+1:]...)
			break
		}
	}
	e.mu.Unlock()
}

// runStream 维护一条 WebSocket 数据流：断线后按订阅错误的退避策略重连，
// 重试耗尽后放弃并触发整体关停。
func (e *LiveExchange) runStream(name string, connect func() (*websocket.Conn, error), handle func([]byte)) {
	defer e.wg.Done()

	policy := errs.KindSubscription.Retry()
	attempt := 0

	for {
		if e.ctx.Err() != nil {
			return
		}

		conn, err := connect()
		if err != nil {
			attempt++
			if !policy.ShouldRetry(attempt) {
				e.logger.Errorw("数据流重连次数耗尽，放弃", "stream", name, "error", err)
				// 让其余数据流一并退出，事件通道随后关闭
				e.cancel()
				return
			}
			delay := policy.DelayForAttempt(attempt)
			e.logger.Warnw("数据流连接失败，稍后重试", "stream", name, "attempt", attempt, "delay", delay, "error", err)
			select {
			case <-e.ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}

		attempt = 0
		e.trackConn(conn)
		e.logger.Infow("数据流已连接", "stream", name)

		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				if e.ctx.Err() == nil {
					e.logger.Warnw("数据流读取中断，准备重连", "stream", name, "error", err)
				}
				break
			}
			handle(msg)
		}

		e.untrackConn(conn)
		conn.Close()
	}
}

// runMarkPriceStream 订阅标记价格流，转换为中间价事件
func (e *LiveExchange) runMarkPriceStream() {
	connect := func() (*websocket.Conn, error) {
		wsURL := fmt.Sprintf("%s/ws/%s%s", e.wsBaseURL, strings.ToLower(e.symbol), markPriceStreamSuffix)
		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		if err != nil {
			return nil, errs.Wrap(errs.KindSubscription, "无法连接标记价格流", err)
		}
		return conn, nil
	}

	handle := func(msg []byte) {
		var ev models.MarkPriceEvent
		if err := json.Unmarshal(msg, &ev); err != nil || ev.EventType != "markPriceUpdate" {
			return
		}
		e.publish(models.MarketEvent{
			Type: models.EventMids,
			Time: time.UnixMilli(ev.EventTime),
			Mids: map[string]string{ev.Symbol: ev.MarkPrice},
		})
	}

	e.runStream("markPrice", connect, handle)
}

// runUserDataStream 订阅用户数据流，将订单成交转换为成交事件
func (e *LiveExchange) runUserDataStream() {
	connect := func() (*websocket.Conn, error) {
		// 每次重连都重新创建 listenKey，避免使用已过期的 key
		listenKey, err := e.createListenKey()
		if err != nil {
			return nil, err
		}
		wsURL := fmt.Sprintf("%s/ws/%s", e.wsBaseURL, listenKey)
		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		if err != nil {
			return nil, errs.Wrap(errs.KindSubscription, "无法连接用户数据流", err)
		}
		return conn, nil
	}

	handle := func(msg []byte) {
		var probe struct {
			EventType string `json:"e"`
		}
		if err := json.Unmarshal(msg, &probe); err != nil {
			return
		}
		if probe.EventType != "ORDER_TRADE_UPDATE" {
			return
		}

		var ev models.OrderUpdateEvent
		if err := json.Unmarshal(msg, &ev); err != nil {
			e.logger.Warnw("解析订单更新事件失败", "error", err)
			return
		}
		// 只关心发生实际成交的更新
		if ev.Order.ExecutionType != "TRADE" {
			return
		}

		e.publish(models.MarketEvent{
			Type: models.EventFills,
			Time: time.UnixMilli(ev.EventTime),
			Fills: []models.Fill{{
				OrderID:  ev.Order.OrderID,
				Symbol:   ev.Order.Symbol,
				Side:     ev.Order.Side,
				Price:    ev.Order.ExecutedPrice,
				Quantity: ev.Order.ExecutedQty,
				Time:     time.UnixMilli(ev.Order.TradeTime),
			}},
		})
	}

	e.runStream("userData", connect, handle)
}

// publish 将事件投递到事件通道，关停时丢弃
func (e *LiveExchange) publish(ev models.MarketEvent) {
	select {
	case e.events <- ev:
	case <-e.ctx.Done():
	}
}
