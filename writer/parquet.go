package writer

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	appconfig "arbflow/config"
	"arbflow/logger"
	"arbflow/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"
)

// DepthRow is one depth price in the parquet archive.
type DepthRow struct {
	Exchange  string  `parquet:"name=exchange, type=BYTE_ARRAY, convertedtype=UTF8"`
	Market    string  `parquet:"name=market, type=BYTE_ARRAY, convertedtype=UTF8"`
	Timestamp int64   `parquet:"name=timestamp, type=INT64"`
	Side      string  `parquet:"name=side, type=BYTE_ARRAY, convertedtype=UTF8"`
	Depth     float64 `parquet:"name=depth, type=DOUBLE"`
	Price     float64 `parquet:"name=price, type=DOUBLE"`
}

// ObjectPutter uploads archive files.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// memoryFile is an in-memory parquet target.
type memoryFile struct {
	buffer *bytes.Buffer
}

func newMemoryFile() *memoryFile {
	return &memoryFile{buffer: &bytes.Buffer{}}
}

func (m *memoryFile) Create(string) (source.ParquetFile, error) { return m, nil }
func (m *memoryFile) Open(string) (source.ParquetFile, error)   { return m, nil }
func (m *memoryFile) Seek(int64, int) (int64, error)            { return int64(m.buffer.Len()), nil }
func (m *memoryFile) Read(b []byte) (int, error)                { return m.buffer.Read(b) }
func (m *memoryFile) Write(b []byte) (int, error)               { return m.buffer.Write(b) }
func (m *memoryFile) Close() error                              { return nil }
func (m *memoryFile) Bytes() []byte                             { return m.buffer.Bytes() }

// ParquetRecorder buffers depth rows per venue and market and uploads them
// to S3 as parquet files when the buffer fills or on the flush interval.
type ParquetRecorder struct {
	client      ObjectPutter
	bucket      string
	version     string
	compression string
	scheme      string
	timeFormat  string
	maxSize     int
	interval    time.Duration
	now         func() time.Time
	log         *logger.Entry

	mu     sync.Mutex
	buffer map[string][]DepthRow
	stop   context.CancelFunc
	wg     sync.WaitGroup
}

func NewParquetRecorder(client ObjectPutter, cfg *appconfig.Config) *ParquetRecorder {
	timeFormat := cfg.Writer.Partitioning.TimeFormat
	if timeFormat == "" {
		timeFormat = "2006-01-02"
	}
	return &ParquetRecorder{
		client:      client,
		bucket:      cfg.Storage.S3.Bucket,
		version:     cfg.Arbflow.Version,
		compression: cfg.Writer.Formats.Parquet.Compression,
		scheme:      cfg.Writer.Partitioning.Scheme,
		timeFormat:  timeFormat,
		maxSize:     cfg.Writer.Buffer.MaxSize,
		interval:    cfg.Writer.Buffer.FlushInterval,
		now:         time.Now,
		buffer:      make(map[string][]DepthRow),
		log:         logger.GetLogger().WithComponent("parquet_recorder"),
	}
}

// NewS3Client builds an S3 client from the storage settings.
func NewS3Client(ctx context.Context, cfg appconfig.S3Config) (*s3.Client, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	}), nil
}

func (p *ParquetRecorder) Name() string { return "parquet" }

func bufferKey(exchange, market string) string {
	return exchange + "|" + market
}

func (p *ParquetRecorder) Record(ctx context.Context, timestampMs int64, records []models.DepthRecord) error {
	var full []string
	p.mu.Lock()
	for _, rec := range records {
		key := bufferKey(rec.Exchange, rec.Market)
		rows := p.buffer[key]
		rows = appendRows(rows, rec, models.SideAsk, rec.AskLevels, timestampMs)
		rows = appendRows(rows, rec, models.SideBid, rec.BidLevels, timestampMs)
		p.buffer[key] = rows
		if p.maxSize > 0 && len(rows) >= p.maxSize {
			full = append(full, key)
		}
	}
	taken := make(map[string][]DepthRow, len(full))
	for _, key := range full {
		taken[key] = p.buffer[key]
		delete(p.buffer, key)
	}
	p.mu.Unlock()

	return p.upload(ctx, taken, "size")
}

func appendRows(rows []DepthRow, rec models.DepthRecord, side models.Side, levels map[float64]float64, ts int64) []DepthRow {
	depths := make([]float64, 0, len(levels))
	for d := range levels {
		depths = append(depths, d)
	}
	sort.Float64s(depths)
	for _, d := range depths {
		rows = append(rows, DepthRow{
			Exchange:  rec.Exchange,
			Market:    rec.Market,
			Timestamp: ts,
			Side:      string(side),
			Depth:     d,
			Price:     levels[d],
		})
	}
	return rows
}

// Start flushes on the configured interval until Close is called. Cancelling
// ctx does not stop it, so rows recorded during shutdown are still archived.
func (p *ParquetRecorder) Start(ctx context.Context) {
	if p.interval <= 0 {
		return
	}
	ctx, p.stop = context.WithCancel(context.WithoutCancel(ctx))
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := p.Flush(ctx, "interval"); err != nil {
					p.log.WithError(err).Warn("interval flush failed")
				}
			}
		}
	}()
}

// Close stops the interval flusher and uploads what is left. Call it after
// the queue feeding the recorder has drained.
func (p *ParquetRecorder) Close() error {
	if p.stop != nil {
		p.stop()
	}
	p.wg.Wait()
	if err := p.Flush(context.Background(), "shutdown"); err != nil {
		p.log.WithError(err).Error("final flush failed")
		return err
	}
	return nil
}

// Flush uploads every buffered row.
func (p *ParquetRecorder) Flush(ctx context.Context, reason string) error {
	p.mu.Lock()
	taken := p.buffer
	p.buffer = make(map[string][]DepthRow)
	p.mu.Unlock()
	return p.upload(ctx, taken, reason)
}

func (p *ParquetRecorder) upload(ctx context.Context, buffers map[string][]DepthRow, reason string) error {
	if len(buffers) == 0 {
		return nil
	}
	keys := make([]string, 0, len(buffers))
	for k := range buffers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var firstErr error
	for _, k := range keys {
		rows := buffers[k]
		if len(rows) == 0 {
			continue
		}
		parts := strings.SplitN(k, "|", 2)
		objectKey := p.objectKey(parts[0], parts[1], p.now())
		data, err := p.encode(rows)
		if err == nil {
			err = p.put(ctx, objectKey, data)
		}
		log := p.log.WithFields(logger.Fields{
			"s3_key": objectKey,
			"rows":   len(rows),
			"reason": reason,
		})
		if err != nil {
			p.requeue(k, rows)
			log.WithError(err).WithEnv("S3_BUCKET").Error("failed to archive depth rows, kept for the next flush")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		logger.IncrementRecordsStored(len(rows))
		logger.LogDataFlowEntry(log, "depth_queue", "s3", len(rows), "depth_rows")
	}
	return firstErr
}

// requeue puts rows that failed to upload ahead of any recorded since.
func (p *ParquetRecorder) requeue(key string, rows []DepthRow) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.buffer[key] = append(rows, p.buffer[key]...)
}

// objectKey lays files out as exchange=/market=/date=/<file>.parquet, or
// date first with the date_exchange_market scheme.
func (p *ParquetRecorder) objectKey(exchange, market string, at time.Time) string {
	ex := "exchange=" + exchange
	mk := "market=" + strings.ReplaceAll(market, "/", "-")
	date := "date=" + at.UTC().Format(p.timeFormat)
	file := fmt.Sprintf("%s_depth_%s.parquet", at.UTC().Format("20060102150405"), uuid.New().String())
	if p.scheme == "date_exchange_market" {
		return path.Join(date, ex, mk, file)
	}
	return path.Join(ex, mk, date, file)
}

func (p *ParquetRecorder) encode(rows []DepthRow) ([]byte, error) {
	fw := newMemoryFile()
	pw, err := writer.NewParquetWriter(fw, new(DepthRow), 4)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}
	switch p.compression {
	case "snappy":
		pw.CompressionType = parquet.CompressionCodec_SNAPPY
	case "gzip":
		pw.CompressionType = parquet.CompressionCodec_GZIP
	default:
		pw.CompressionType = parquet.CompressionCodec_UNCOMPRESSED
	}

	for _, row := range rows {
		if err := pw.Write(row); err != nil {
			pw.WriteStop()
			return nil, fmt.Errorf("failed to write parquet row: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("failed to finalize parquet file: %w", err)
	}
	return fw.Bytes(), nil
}

func (p *ParquetRecorder) put(ctx context.Context, key string, data []byte) error {
	_, err := p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"content-type":    "parquet",
			"compression":     p.compression,
			"arbflow-version": p.version,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to upload to S3 bucket %s: %w", p.bucket, err)
	}
	return nil
}
