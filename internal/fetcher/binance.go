package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"crypto-live-dashboard/internal/model"
	"crypto-live-dashboard/internal/service"

	"go.uber.org/zap"
)

// BinanceDirectory 通过 exchangeInfo 获取指定计价币下正在交易的交易对
type BinanceDirectory struct {
	baseURL    string
	quote      string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewBinanceDirectory(cfg service.DirectoryConfig, quoteAsset string, logger *zap.Logger) *BinanceDirectory {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &BinanceDirectory{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		quote:      strings.ToUpper(quoteAsset),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type exchangeInfo struct {
	Symbols []struct {
		Symbol     string `json:"symbol"`
		Status     string `json:"status"`
		BaseAsset  string `json:"baseAsset"`
		QuoteAsset string `json:"quoteAsset"`
	} `json:"symbols"`
}

// FetchSymbolDirectory 只保留 quoteAsset 匹配且 status 为 TRADING 的交易对，结果已排序
func (d *BinanceDirectory) FetchSymbolDirectory(ctx context.Context) ([]string, error) {
	if d.baseURL == "" {
		return nil, model.NewFeedError(model.ErrCodeConfigurationMissing, "symbol directory base url is not configured", nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"/exchangeInfo", nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, model.NewFeedError(model.ErrCodeUpstreamUnavailable, "request exchangeInfo", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, model.NewFeedError(model.ErrCodeUpstreamUnavailable,
			fmt.Sprintf("failed to fetch exchangeInfo: %s", resp.Status), nil)
	}

	var info exchangeInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, model.NewFeedError(model.ErrCodeUpstreamUnavailable, "decode exchangeInfo", err)
	}

	symbols := make([]string, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		if strings.EqualFold(s.QuoteAsset, d.quote) && s.Status == "TRADING" {
			symbols = append(symbols, strings.ToUpper(s.Symbol))
		}
	}
	sort.Strings(symbols)

	d.logger.Info("Fetched symbol directory", zap.String("quote", d.quote), zap.Int("symbols", len(symbols)))
	return symbols, nil
}
