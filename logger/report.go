package logger

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

type channelStat struct {
	messages int64
	dropped  int64
}

var (
	levelCounts   sync.Map // map["component|level"]*int64
	fetchCounts   sync.Map // map[exchange]*int64
	alertsSent    int64
	recordsStored int64
	channels      sync.Map // map[string]*channelStat
)

func counter(m *sync.Map, key string) *int64 {
	v, _ := m.LoadOrStore(key, new(int64))
	return v.(*int64)
}

func recordLevel(component, level string) {
	atomic.AddInt64(counter(&levelCounts, component+"|"+level), 1)
}

// IncrementFetch counts one completed order book fetch for an exchange.
func IncrementFetch(exchange string) {
	atomic.AddInt64(counter(&fetchCounts, exchange), 1)
}

// IncrementAlertSent counts one alert notification handed to the notifier.
func IncrementAlertSent() {
	atomic.AddInt64(&alertsSent, 1)
}

// IncrementRecordsStored counts depth records persisted by a recorder.
func IncrementRecordsStored(n int) {
	atomic.AddInt64(&recordsStored, int64(n))
}

// RecordChannelMessage counts a message passing through a named channel.
func RecordChannelMessage(name string) {
	v, _ := channels.LoadOrStore(name, &channelStat{})
	atomic.AddInt64(&v.(*channelStat).messages, 1)
}

// RecordChannelDrop counts a message dropped because a named channel was full.
func RecordChannelDrop(name string) {
	v, _ := channels.LoadOrStore(name, &channelStat{})
	atomic.AddInt64(&v.(*channelStat).dropped, 1)
}

func snapshotCounters(m *sync.Map) map[string]int64 {
	out := map[string]int64{}
	m.Range(func(k, v any) bool {
		out[k.(string)] = atomic.LoadInt64(v.(*int64))
		return true
	})
	return out
}

func startReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

// StartReport begins periodic logging of runtime and pipeline statistics.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	if interval <= 0 {
		return
	}
	startReport(ctx, log, interval)
}

func logReport(ctx context.Context, log *Log) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	channelData := map[string]map[string]int64{}
	channels.Range(func(k, v any) bool {
		cs := v.(*channelStat)
		channelData[k.(string)] = map[string]int64{
			"messages": atomic.LoadInt64(&cs.messages),
			"dropped":  atomic.LoadInt64(&cs.dropped),
		}
		return true
	})

	fetches := snapshotCounters(&fetchCounts)
	levels := snapshotCounters(&levelCounts)
	sent := atomic.LoadInt64(&alertsSent)
	stored := atomic.LoadInt64(&recordsStored)

	log.WithComponent("report").WithFields(Fields{
		"goroutines":     runtime.NumGoroutine(),
		"heap_mb":        int64(mem.HeapAlloc) / 1024 / 1024,
		"fetches":        fetches,
		"log_levels":     levels,
		"alerts_sent":    sent,
		"records_stored": stored,
		"channels":       channelData,
	}).Info("runtime report")

	data := []cwtypes.MetricDatum{
		{MetricName: aws.String("Goroutines"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(runtime.NumGoroutine()))},
		{MetricName: aws.String("HeapMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(mem.HeapAlloc) / 1024 / 1024)},
		{MetricName: aws.String("AlertsSent"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(sent))},
		{MetricName: aws.String("RecordsStored"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(stored))},
	}

	exchanges := make([]string, 0, len(fetches))
	for name := range fetches {
		exchanges = append(exchanges, name)
	}
	sort.Strings(exchanges)
	for _, name := range exchanges {
		data = append(data, cwtypes.MetricDatum{
			MetricName: aws.String("Fetches"),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: []cwtypes.Dimension{{Name: aws.String("Exchange"), Value: aws.String(name)}},
			Value:      aws.Float64(float64(fetches[name])),
		})
	}

	for name, stats := range channelData {
		data = append(data,
			cwtypes.MetricDatum{
				MetricName: aws.String("ChannelMessages"),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Channel"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["messages"])),
			},
			cwtypes.MetricDatum{
				MetricName: aws.String("ChannelDropped"),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Channel"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["dropped"])),
			},
		)
	}

	publishMetrics(ctx, data)
}
