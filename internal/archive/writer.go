package archive

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	"gexflow/config"
	"gexflow/internal/models"
	"gexflow/logger"
)

// snapshotParquetRow is the archived representation of one persisted record.
type snapshotParquetRow struct {
	FeedID       string `parquet:"name=feed_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	SessionKey   string `parquet:"name=session_key, type=BYTE_ARRAY, convertedtype=UTF8"`
	TradingDay   string `parquet:"name=trading_day, type=BYTE_ARRAY, convertedtype=UTF8"`
	MinuteBucket int64  `parquet:"name=minute_bucket, type=INT64"`
	SubBucket    int64  `parquet:"name=sub_bucket, type=INT64"`
	Payload      string `parquet:"name=payload, type=BYTE_ARRAY, convertedtype=UTF8"`
	CapturedUTC  int64  `parquet:"name=captured_utc, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
}

// memFile adapts a byte buffer to the parquet source interface so files are
// assembled in memory before upload.
type memFile struct {
	buffer *bytes.Buffer
}

func newMemFile() *memFile {
	return &memFile{buffer: &bytes.Buffer{}}
}

func (m *memFile) Create(string) (source.ParquetFile, error) { return m, nil }
func (m *memFile) Open(string) (source.ParquetFile, error)   { return m, nil }
func (m *memFile) Seek(int64, int) (int64, error)            { return int64(m.buffer.Len()), nil }
func (m *memFile) Read([]byte) (int, error)                  { return 0, fmt.Errorf("read not supported") }
func (m *memFile) Write(b []byte) (int, error)               { return m.buffer.Write(b) }
func (m *memFile) Close() error                              { return nil }
func (m *memFile) Bytes() []byte                             { return m.buffer.Bytes() }

// Writer batches persisted snapshot records and uploads them to S3 as
// parquet objects under <prefix>/<feed>/<trading day>/<uuid>.parquet. It is
// a cold archive for downstream analytics, separate from the dedup store.
type Writer struct {
	cfg      config.S3Config
	s3Client *s3.Client
	log      *logger.Log

	mu      sync.Mutex
	pending []models.SnapshotRecord
	running bool

	input chan models.SnapshotRecord
	wg    sync.WaitGroup
}

// NewWriter builds the archive writer. It requires storage.s3.enabled.
func NewWriter(cfg config.S3Config) (*Writer, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("s3 storage disabled")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})

	maxBatch := cfg.MaxBatch
	if maxBatch <= 0 {
		maxBatch = 256
	}

	return &Writer{
		cfg:      cfg,
		s3Client: s3Client,
		log:      logger.GetLogger(),
		input:    make(chan models.SnapshotRecord, maxBatch*2),
	}, nil
}

// Enqueue hands a record to the archiver without blocking the poll loop. A
// full buffer drops the record for archival only; the store write already
// succeeded.
func (w *Writer) Enqueue(rec models.SnapshotRecord) {
	select {
	case w.input <- rec:
	default:
		w.log.WithComponent("archive").WithFields(logger.Fields{
			"feed": rec.FeedID,
		}).Warn("archive buffer full; dropping record from cold archive")
	}
}

// Start begins consuming and flushing records.
func (w *Writer) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("archive writer already running")
	}
	w.running = true
	w.mu.Unlock()

	interval := w.cfg.FlushInterval
	if interval <= 0 {
		interval = time.Minute
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case rec := <-w.input:
				w.mu.Lock()
				w.pending = append(w.pending, rec)
				full := len(w.pending) >= w.maxBatch()
				w.mu.Unlock()
				if full {
					w.flush(ctx)
				}
			case <-ticker.C:
				w.flush(ctx)
			case <-ctx.Done():
				w.drain()
				w.flush(context.Background())
				return
			}
		}
	}()

	w.log.WithComponent("archive").WithFields(logger.Fields{
		"bucket":         w.cfg.Bucket,
		"flush_interval": interval.String(),
	}).Info("archive writer started")
	return nil
}

// Stop waits for the final flush to complete.
func (w *Writer) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	w.wg.Wait()
	w.log.WithComponent("archive").Info("archive writer stopped")
}

func (w *Writer) maxBatch() int {
	if w.cfg.MaxBatch > 0 {
		return w.cfg.MaxBatch
	}
	return 256
}

func (w *Writer) drain() {
	for {
		select {
		case rec := <-w.input:
			w.mu.Lock()
			w.pending = append(w.pending, rec)
			w.mu.Unlock()
		default:
			return
		}
	}
}

// flush groups pending records by feed and trading day and uploads one
// parquet object per group.
func (w *Writer) flush(ctx context.Context) {
	w.mu.Lock()
	pending := w.pending
	w.pending = nil
	w.mu.Unlock()

	if len(pending) == 0 {
		return
	}

	groups := make(map[string][]models.SnapshotRecord)
	for _, rec := range pending {
		key := rec.FeedID + "/" + rec.TradingDay
		groups[key] = append(groups[key], rec)
	}

	for groupKey, recs := range groups {
		if err := w.uploadGroup(ctx, groupKey, recs); err != nil {
			w.log.WithComponent("archive").WithFields(logger.Fields{
				"group":   groupKey,
				"records": len(recs),
			}).WithError(err).Error("failed to upload archive batch")
			continue
		}
		w.log.WithComponent("archive").LogMetric("archive", "records_archived", int64(len(recs)), "counter", logger.Fields{
			"group": groupKey,
		})
	}
}

func (w *Writer) uploadGroup(ctx context.Context, groupKey string, recs []models.SnapshotRecord) error {
	mem := newMemFile()
	pw, err := writer.NewParquetWriter(mem, new(snapshotParquetRow), 1)
	if err != nil {
		return fmt.Errorf("create parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, rec := range recs {
		row := snapshotParquetRow{
			FeedID:       rec.FeedID,
			SessionKey:   rec.SessionKey,
			TradingDay:   rec.TradingDay,
			MinuteBucket: rec.MinuteBucket,
			SubBucket:    rec.SubBucket,
			Payload:      string(rec.Payload),
			CapturedUTC:  rec.CapturedUTC.UnixMilli(),
		}
		if err := pw.Write(row); err != nil {
			return fmt.Errorf("write parquet row: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("finalize parquet file: %w", err)
	}

	key := path.Join(w.cfg.Prefix, groupKey, uuid.NewString()+".parquet")
	if _, err := w.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(w.cfg.Bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(mem.Bytes()),
	}); err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}
