package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"crypto-live-dashboard/internal/model"
	"crypto-live-dashboard/internal/service"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const apiKeyHeader = "x-cg-demo-api-key"

// CoinGeckoClient CoinGecko 风格的行情 REST 客户端，请求经过令牌桶限速
type CoinGeckoClient struct {
	baseURL    string
	apiKey     string
	vsCurrency string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

func NewCoinGeckoClient(cfg service.MarketDataConfig, logger *zap.Logger) *CoinGeckoClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	vs := cfg.VsCurrency
	if vs == "" {
		vs = "usd"
	}

	return &CoinGeckoClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		vsCurrency: strings.ToLower(vs),
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(limit, burst),
		logger:     logger,
	}
}

// FetchHistoricalCandles coins/{id}/ohlc，每行 [ms, open, high, low, close]
func (c *CoinGeckoClient) FetchHistoricalCandles(ctx context.Context, assetID string, period model.PeriodConfig) ([]model.Candle, error) {
	params := url.Values{}
	params.Set("vs_currency", c.vsCurrency)
	params.Set("days", period.Days)
	params.Set("precision", "full")

	var rows [][]float64
	if err := c.get(ctx, "coins/"+url.PathEscape(assetID)+"/ohlc", params, &rows); err != nil {
		return nil, err
	}

	candles := make([]model.Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 5 {
			continue
		}
		candles = append(candles, model.Candle{
			Timestamp: int64(row[0]),
			Open:      row[1],
			High:      row[2],
			Low:       row[3],
			Close:     row[4],
		})
	}

	c.logger.Debug("Fetched historical candles",
		zap.String("asset", assetID), zap.String("days", period.Days), zap.Int("count", len(candles)))
	return candles, nil
}

type coinResponse struct {
	ID         string `json:"id"`
	Symbol     string `json:"symbol"`
	Name       string `json:"name"`
	MarketData struct {
		CurrentPrice                       map[string]float64 `json:"current_price"`
		TotalVolume                        map[string]float64 `json:"total_volume"`
		PriceChange24hInCurrency           map[string]float64 `json:"price_change_24h_in_currency"`
		PriceChangePercentage24hInCurrency map[string]float64 `json:"price_change_percentage_24h_in_currency"`
		PriceChangePercentage30dInCurrency map[string]float64 `json:"price_change_percentage_30d_in_currency"`
	} `json:"market_data"`
	LastUpdated time.Time `json:"last_updated"`
}

// FetchCoinSnapshot coins/{id}，取 vsCurrency 计价的价格和涨跌
func (c *CoinGeckoClient) FetchCoinSnapshot(ctx context.Context, assetID string) (model.CoinSnapshot, error) {
	params := url.Values{}
	params.Set("localization", "false")
	params.Set("tickers", "false")
	params.Set("community_data", "false")
	params.Set("developer_data", "false")

	var resp coinResponse
	if err := c.get(ctx, "coins/"+url.PathEscape(assetID), params, &resp); err != nil {
		return model.CoinSnapshot{}, err
	}

	md := resp.MarketData
	snap := model.CoinSnapshot{
		ID:             resp.ID,
		Symbol:         resp.Symbol,
		Name:           resp.Name,
		Price:          md.CurrentPrice[c.vsCurrency],
		Change24h:      md.PriceChangePercentage24hInCurrency[c.vsCurrency],
		PriceChange24h: md.PriceChange24hInCurrency[c.vsCurrency],
		Change30d:      md.PriceChangePercentage30dInCurrency[c.vsCurrency],
		Volume24h:      md.TotalVolume[c.vsCurrency],
	}
	if !resp.LastUpdated.IsZero() {
		snap.LastUpdated = resp.LastUpdated.UnixMilli()
	}
	if snap.ID == "" {
		snap.ID = assetID
	}
	return snap, nil
}

type errorBody struct {
	Error  string `json:"error"`
	Status struct {
		ErrorMessage string `json:"error_message"`
	} `json:"status"`
}

func (c *CoinGeckoClient) get(ctx context.Context, endpoint string, params url.Values, dest any) error {
	if c.baseURL == "" {
		return model.NewFeedError(model.ErrCodeConfigurationMissing, "market data base url is not configured", nil)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return model.NewFeedError(model.ErrCodeUpstreamUnavailable, "rate limiter wait", err)
	}

	fullURL := c.baseURL + "/" + strings.TrimLeft(endpoint, "/")
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return model.NewFeedError(model.ErrCodeUpstreamUnavailable, "request "+endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var eb errorBody
		msg := resp.Status
		if json.Unmarshal(body, &eb) == nil {
			if eb.Error != "" {
				msg = eb.Error
			} else if eb.Status.ErrorMessage != "" {
				msg = eb.Status.ErrorMessage
			}
		}
		return model.NewFeedError(model.ErrCodeUpstreamUnavailable, fmt.Sprintf("API Error %d: %s", resp.StatusCode, msg), nil)
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return model.NewFeedError(model.ErrCodeUpstreamUnavailable, "decode "+endpoint, err)
	}
	return nil
}
