package writer

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	appconfig "arbflow/config"
	"arbflow/logger"
	"arbflow/models"

	"github.com/redis/go-redis/v9"
)

// TimeSeries is the subset of RedisTimeSeries used by RedisRecorder.
type TimeSeries interface {
	Exists(ctx context.Context, key string) (bool, error)
	Create(ctx context.Context, key string, labels map[string]string) error
	Add(ctx context.Context, key string, timestampMs int64, value float64) error
	LPush(ctx context.Context, key string, value interface{}) error
	Close() error
}

// RedisRecorder writes every depth price as a RedisTimeSeries sample.
type RedisRecorder struct {
	ts  TimeSeries
	log *logger.Entry

	mu      sync.Mutex
	created map[string]bool
}

func NewRedisRecorder(ts TimeSeries) *RedisRecorder {
	return &RedisRecorder{
		ts:      ts,
		created: make(map[string]bool),
		log:     logger.GetLogger().WithComponent("redis_recorder"),
	}
}

// DialRedis connects to Redis and checks the connection with a dummy write.
func DialRedis(ctx context.Context, cfg appconfig.RedisConfig) (*RedisRecorder, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	r := NewRedisRecorder(&goRedisTimeSeries{client: client})
	if err := r.CheckConnection(ctx); err != nil {
		client.Close()
		return nil, err
	}
	r.log.WithFields(logger.Fields{"addr": cfg.Addr, "db": cfg.DB}).Info("connected to redis")
	return r, nil
}

func (r *RedisRecorder) Name() string { return "redis" }

// CheckConnection pushes the current time onto recorder_connected_{host}.
func (r *RedisRecorder) CheckConnection(ctx context.Context) error {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	key := "recorder_connected_" + host
	if err := r.ts.LPush(ctx, key, float64(time.Now().UnixNano())/1e9); err != nil {
		return fmt.Errorf("redis connection check: %w", err)
	}
	return nil
}

// SeriesKey names the time series of one venue, market, side and depth.
func SeriesKey(exchange, market string, side models.Side, depth float64) string {
	base, quote := models.SplitMarket(market)
	return fmt.Sprintf("Orderbook depth: %s %s-%s %s at %g", exchange, base, quote, side, depth)
}

func (r *RedisRecorder) Record(ctx context.Context, timestampMs int64, records []models.DepthRecord) error {
	var firstErr error
	written, failed := 0, 0
	for _, rec := range records {
		for _, side := range []models.Side{models.SideAsk, models.SideBid} {
			levels := rec.AskLevels
			if side == models.SideBid {
				levels = rec.BidLevels
			}
			depths := make([]float64, 0, len(levels))
			for d := range levels {
				depths = append(depths, d)
			}
			sort.Float64s(depths)

			for _, depth := range depths {
				key := SeriesKey(rec.Exchange, rec.Market, side, depth)
				if err := r.writeSample(ctx, key, rec, side, depth, timestampMs, levels[depth]); err != nil {
					failed++
					if firstErr == nil {
						firstErr = err
					}
					continue
				}
				written++
			}
		}
	}
	logger.IncrementRecordsStored(written)
	if firstErr != nil {
		r.log.WithError(firstErr).WithFields(logger.Fields{
			"written": written,
			"failed":  failed,
		}).Warn("some depth samples were not recorded")
	}
	return firstErr
}

func (r *RedisRecorder) writeSample(ctx context.Context, key string, rec models.DepthRecord, side models.Side, depth float64, timestampMs int64, price float64) error {
	if err := r.ensureSeries(ctx, key, rec, side, depth); err != nil {
		return err
	}
	if err := r.ts.Add(ctx, key, timestampMs, price); err != nil && !isDuplicateSample(err) {
		return fmt.Errorf("record %s=%v at %d: %w", key, price, timestampMs, err)
	}
	return nil
}

func (r *RedisRecorder) ensureSeries(ctx context.Context, key string, rec models.DepthRecord, side models.Side, depth float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.created[key] {
		return nil
	}

	exists, err := r.ts.Exists(ctx, key)
	if err != nil {
		return fmt.Errorf("check series %s: %w", key, err)
	}
	if !exists {
		base, quote := models.SplitMarket(rec.Market)
		labels := map[string]string{
			"type":       "orderbook_depth",
			"exchange":   rec.Exchange,
			"base_pair":  base,
			"quote_pair": quote,
			"side":       string(side),
			"depth":      fmt.Sprintf("%g", depth),
		}
		if err := r.ts.Create(ctx, key, labels); err != nil {
			return fmt.Errorf("create series %s: %w", key, err)
		}
		r.log.WithFields(logger.Fields{"key": key}).Info("created redis key")
	}
	r.created[key] = true
	return nil
}

func (r *RedisRecorder) Close() error {
	return r.ts.Close()
}

// isDuplicateSample matches the error RedisTimeSeries returns for a sample
// already stored at the same timestamp.
func isDuplicateSample(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "update is not supported in BLOCK mode") ||
		strings.Contains(msg, "DUPLICATE_POLICY")
}

type goRedisTimeSeries struct {
	client *redis.Client
}

func (g *goRedisTimeSeries) Exists(ctx context.Context, key string) (bool, error) {
	n, err := g.client.Exists(ctx, key).Result()
	return n > 0, err
}

func (g *goRedisTimeSeries) Create(ctx context.Context, key string, labels map[string]string) error {
	args := []interface{}{"TS.CREATE", key, "LABELS"}
	names := make([]string, 0, len(labels))
	for k := range labels {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		args = append(args, k, labels[k])
	}
	return g.client.Do(ctx, args...).Err()
}

func (g *goRedisTimeSeries) Add(ctx context.Context, key string, timestampMs int64, value float64) error {
	return g.client.Do(ctx, "TS.ADD", key, timestampMs, value).Err()
}

func (g *goRedisTimeSeries) LPush(ctx context.Context, key string, value interface{}) error {
	return g.client.LPush(ctx, key, value).Err()
}

func (g *goRedisTimeSeries) Close() error {
	return g.client.Close()
}
