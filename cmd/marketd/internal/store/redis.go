package store

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kimsuhan/cex-api/pkg/models"
)

const (
	detailKeyPrefix = "price:"
	latestKey       = "prices:latest"
	chartKeyPrefix  = "chart:"
)

// Compile-time check to ensure RedisStore implements PriceStore
var _ PriceStore = (*RedisStore)(nil)

type RedisStore struct {
	client    *redis.Client
	detailTTL time.Duration
}

func NewRedisStore(client *redis.Client, detailTTL time.Duration) *RedisStore {
	return &RedisStore{client: client, detailTTL: detailTTL}
}

func detailKey(symbol string) string { return detailKeyPrefix + symbol }
func chartKey(symbol string) string  { return chartKeyPrefix + symbol }

// SavePrice batches the detail upsert, the TTL refresh and the overview upsert
// into one pipeline. The batch is not transactional; a partial failure is left
// as-is and the next accepted observation overwrites it.
func (r *RedisStore) SavePrice(ctx context.Context, obs models.PriceObservation, ingestedAt int64) error {
	pipe := r.client.Pipeline()
	pipe.HSet(ctx, detailKey(obs.Symbol), map[string]interface{}{
		"price":     strconv.FormatFloat(obs.Price, 'f', -1, 64),
		"source":    string(obs.Source),
		"eventTime": strconv.FormatInt(obs.EventTime, 10),
		"timestamp": strconv.FormatInt(ingestedAt, 10),
	})
	pipe.Expire(ctx, detailKey(obs.Symbol), r.detailTTL)
	pipe.HSet(ctx, latestKey, obs.Symbol, strconv.FormatFloat(obs.Price, 'f', -1, 64))

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save price %s: %w", obs.Symbol, err)
	}
	return nil
}

func (r *RedisStore) LatestPrice(ctx context.Context, symbol string) (float64, bool, error) {
	val, err := r.client.HGet(ctx, detailKey(symbol), "price").Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read price %s: %w", symbol, err)
	}

	price, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, false, fmt.Errorf("parse price %s: %w", symbol, err)
	}
	return price, true, nil
}

func (r *RedisStore) AllPrices(ctx context.Context) ([]models.SymbolPrice, error) {
	fields, err := r.client.HGetAll(ctx, latestKey).Result()
	if err != nil {
		return nil, fmt.Errorf("read latest prices: %w", err)
	}

	prices := make([]models.SymbolPrice, 0, len(fields))
	for symbol, raw := range fields {
		price, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			continue // skip unparseable entries rather than failing the bulk read
		}
		prices = append(prices, models.SymbolPrice{Symbol: symbol, Price: price})
	}

	sort.Slice(prices, func(i, j int) bool { return prices[i].Symbol < prices[j].Symbol })
	return prices, nil
}

func (r *RedisStore) AppendChartPoints(ctx context.Context, ts int64, prices []models.SymbolPrice) error {
	if len(prices) == 0 {
		return nil
	}

	pipe := r.client.Pipeline()
	for _, p := range prices {
		pipe.ZAdd(ctx, chartKey(p.Symbol), redis.Z{
			Score:  float64(ts),
			Member: strconv.FormatFloat(p.Price, 'f', -1, 64),
		})
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append chart points: %w", err)
	}
	return nil
}

func (r *RedisStore) ChartRange(ctx context.Context, symbol string, from, to int64) ([]models.ChartPoint, error) {
	members, err := r.client.ZRangeByScoreWithScores(ctx, chartKey(symbol), &redis.ZRangeBy{
		Min: strconv.FormatInt(from, 10),
		Max: strconv.FormatInt(to, 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("read chart %s: %w", symbol, err)
	}

	points := make([]models.ChartPoint, 0, len(members))
	for _, m := range members {
		raw, ok := m.Member.(string)
		if !ok {
			continue
		}
		price, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			continue
		}
		points = append(points, models.ChartPoint{Price: price, Time: int64(m.Score)})
	}
	return points, nil
}

func (r *RedisStore) SweepChart(ctx context.Context, cutoff int64) error {
	keys, err := r.client.Keys(ctx, chartKeyPrefix+"*").Result()
	if err != nil {
		return fmt.Errorf("list chart keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}

	// Exclusive bound: points exactly at the cutoff are retained
	max := "(" + strconv.FormatInt(cutoff, 10)
	pipe := r.client.Pipeline()
	for _, key := range keys {
		pipe.ZRemRangeByScore(ctx, key, "-inf", max)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("sweep chart: %w", err)
	}
	return nil
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
