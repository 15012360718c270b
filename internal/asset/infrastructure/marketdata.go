package infrastructure

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Gsaudx/Advision-sub000/internal/asset/domain"
	"github.com/Gsaudx/Advision-sub000/pkg/cache"
	"github.com/Gsaudx/Advision-sub000/pkg/logger"
)

// QuoteClient 上游报价服务客户端
type QuoteClient struct {
	baseURL string
	client  *http.Client
}

func NewQuoteClient(baseURL string, timeout time.Duration) *QuoteClient {
	return &QuoteClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type quoteResponse struct {
	Ticker string          `json:"ticker"`
	Price  decimal.Decimal `json:"price"`
}

type metadataResponse struct {
	Ticker           string          `json:"ticker"`
	Type             string          `json:"type"`
	OptionType       string          `json:"option_type"`
	ExerciseStyle    string          `json:"exercise_style"`
	StrikePrice      decimal.Decimal `json:"strike_price"`
	ExpirationDate   time.Time       `json:"expiration_date"`
	UnderlyingTicker string          `json:"underlying_ticker"`
	Greeks           map[string]decimal.Decimal `json:"greeks"`
}

func (q *QuoteClient) getJSON(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, q.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := q.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return domain.ErrPriceUnavailable
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("quote service returned %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(dest)
}

// FetchPrice 查询单个报价
func (q *QuoteClient) FetchPrice(ctx context.Context, ticker string) (decimal.Decimal, error) {
	var out quoteResponse
	if err := q.getJSON(ctx, "/v1/quotes/"+url.PathEscape(ticker), &out); err != nil {
		return decimal.Zero, err
	}
	return out.Price, nil
}

// FetchBatchPrices 批量查询报价，上游缺失的 ticker 不在返回值中
func (q *QuoteClient) FetchBatchPrices(ctx context.Context, tickers []string) (map[string]decimal.Decimal, error) {
	var out []quoteResponse
	path := "/v1/quotes?tickers=" + url.QueryEscape(strings.Join(tickers, ","))
	if err := q.getJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	prices := make(map[string]decimal.Decimal, len(out))
	for _, r := range out {
		prices[r.Ticker] = r.Price
	}
	return prices, nil
}

// GetMetadata 查询资产元数据
func (q *QuoteClient) GetMetadata(ctx context.Context, ticker string) (*domain.AssetMetadata, error) {
	var out metadataResponse
	if err := q.getJSON(ctx, "/v1/assets/"+url.PathEscape(ticker), &out); err != nil {
		return nil, err
	}
	return &domain.AssetMetadata{
		Ticker:           out.Ticker,
		Type:             domain.AssetType(out.Type),
		OptionType:       domain.OptionType(out.OptionType),
		ExerciseStyle:    domain.ExerciseStyle(out.ExerciseStyle),
		StrikePrice:      out.StrikePrice,
		ExpirationDate:   out.ExpirationDate,
		UnderlyingTicker: out.UnderlyingTicker,
		Greeks:           out.Greeks,
	}, nil
}

// CachedMarketData 带短 TTL Redis 缓存的行情适配器。
// 缓存或上游缺失的 ticker 按"价格未知"处理，调用方据此降级。
type CachedMarketData struct {
	quotes *QuoteClient
	cache  *cache.Client
	ttl    time.Duration
}

func NewCachedMarketData(quotes *QuoteClient, c *cache.Client, ttl time.Duration) *CachedMarketData {
	return &CachedMarketData{quotes: quotes, cache: c, ttl: ttl}
}

func priceKey(ticker string) string {
	return "price:" + ticker
}

func (m *CachedMarketData) GetPrice(ctx context.Context, ticker string) (decimal.Decimal, error) {
	var cached string
	if err := m.cache.Get(ctx, priceKey(ticker), &cached); err == nil {
		if p, perr := decimal.NewFromString(cached); perr == nil {
			return p, nil
		}
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		logger.Warn(ctx, "price cache read failed", "ticker", ticker, "error", err)
	}

	price, err := m.quotes.FetchPrice(ctx, ticker)
	if err != nil {
		return decimal.Zero, err
	}

	if err := m.cache.Set(ctx, priceKey(ticker), price.String(), m.ttl); err != nil {
		logger.Warn(ctx, "price cache write failed", "ticker", ticker, "error", err)
	}
	return price, nil
}

func (m *CachedMarketData) GetBatchPrices(ctx context.Context, tickers []string) (map[string]decimal.Decimal, error) {
	prices := make(map[string]decimal.Decimal, len(tickers))

	keys := make([]string, len(tickers))
	for i, t := range tickers {
		keys[i] = priceKey(t)
	}
	cached, err := m.cache.MGet(ctx, keys...)
	if err != nil {
		logger.Warn(ctx, "price cache batch read failed", "error", err)
		cached = map[string][]byte{}
	}

	var missing []string
	for _, t := range tickers {
		raw, ok := cached[priceKey(t)]
		if !ok {
			missing = append(missing, t)
			continue
		}
		var s string
		if jerr := json.Unmarshal(raw, &s); jerr != nil {
			missing = append(missing, t)
			continue
		}
		p, perr := decimal.NewFromString(s)
		if perr != nil {
			missing = append(missing, t)
			continue
		}
		prices[t] = p
	}

	if len(missing) > 0 {
		fresh, err := m.quotes.FetchBatchPrices(ctx, missing)
		if err != nil {
			// 上游整体失败时返回已命中的缓存部分，缺失按价格未知处理
			logger.Warn(ctx, "batch quote fetch failed", "error", err)
			return prices, nil
		}
		for t, p := range fresh {
			prices[t] = p
			if cerr := m.cache.Set(ctx, priceKey(t), p.String(), m.ttl); cerr != nil {
				logger.Warn(ctx, "price cache write failed", "ticker", t, "error", cerr)
			}
		}
	}

	return prices, nil
}
