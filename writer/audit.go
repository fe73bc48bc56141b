package writer

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	appconfig "feeseller/config"
	auditchannel "feeseller/internal/channel/audit"
	"feeseller/logger"
	"feeseller/models"
)

// memoryFileWriter implements ParquetFile for in-memory writing
type memoryFileWriter struct {
	buffer *bytes.Buffer
}

func newMemoryFileWriter() *memoryFileWriter {
	return &memoryFileWriter{
		buffer: &bytes.Buffer{},
	}
}

func (mfw *memoryFileWriter) Create(name string) (source.ParquetFile, error) {
	return mfw, nil
}

func (mfw *memoryFileWriter) Open(name string) (source.ParquetFile, error) {
	return mfw, nil
}

func (mfw *memoryFileWriter) Seek(offset int64, whence int) (int64, error) {
	return int64(mfw.buffer.Len()), nil
}

func (mfw *memoryFileWriter) Read(b []byte) (int, error) {
	return mfw.buffer.Read(b)
}

func (mfw *memoryFileWriter) Write(b []byte) (int, error) {
	return mfw.buffer.Write(b)
}

func (mfw *memoryFileWriter) Close() error {
	return nil
}

func (mfw *memoryFileWriter) Bytes() []byte {
	return mfw.buffer.Bytes()
}

type auditWriter struct {
	config      *appconfig.Config
	records     <-chan models.AuditRecord
	s3Client    *s3.Client
	ctx         context.Context
	wg          *sync.WaitGroup
	mu          sync.RWMutex
	running     bool
	log         *logger.Log
	buffer      []models.AuditRecord
	flushTicker *time.Ticker
}

// AuditWriter batches audit records and flushes them to S3 as parquet files
// partitioned by network and day.
type AuditWriter = auditWriter

func newAuditWriter(cfg *appconfig.Config, ch *auditchannel.Channels) (*auditWriter, error) {
	log := logger.GetLogger()

	ctx := context.Background()

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Audit.S3.Region),
	}
	if cfg.Audit.S3.AccessKeyID != "" && cfg.Audit.S3.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.Audit.S3.AccessKeyID,
				cfg.Audit.S3.SecretAccessKey,
				"",
			),
		))
	}

	awsConfig, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		log.WithComponent("audit_writer").WithError(err).Warn("failed to load AWS configuration")
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	creds, err := awsConfig.Credentials.Retrieve(ctx)
	if err != nil || !creds.HasKeys() {
		return nil, fmt.Errorf("aws credentials not found")
	}

	s3Client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Audit.S3.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Audit.S3.Endpoint)
		}
	})

	aw := &auditWriter{
		config:   cfg,
		records:  ch.Records,
		s3Client: s3Client,
		wg:       &sync.WaitGroup{},
		log:      log,
	}

	log.WithComponent("audit_writer").WithFields(logger.Fields{
		"bucket":   cfg.Audit.S3.Bucket,
		"region":   cfg.Audit.S3.Region,
		"endpoint": cfg.Audit.S3.Endpoint,
	}).Info("audit writer initialized")

	return aw, nil
}

// NewAuditWriter constructs a new AuditWriter instance.
func NewAuditWriter(cfg *appconfig.Config, ch *auditchannel.Channels) (*AuditWriter, error) {
	return newAuditWriter(cfg, ch)
}

func (w *auditWriter) start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("audit writer already running")
	}
	w.running = true
	w.ctx = ctx
	w.mu.Unlock()

	log := w.log.WithComponent("audit_writer").WithFields(logger.Fields{"operation": "start"})
	log.Info("starting audit writer")

	w.buffer = nil
	w.flushTicker = time.NewTicker(w.config.Audit.S3.FlushInterval)

	w.wg.Add(1)
	go w.worker()

	log.Info("audit writer started successfully")
	return nil
}

func (w *auditWriter) stop() {
	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}

	w.log.WithComponent("audit_writer").Info("stopping audit writer")
	w.wg.Wait()
	w.log.WithComponent("audit_writer").Info("audit writer stopped")
}

func (w *auditWriter) worker() {
	defer w.wg.Done()

	log := w.log.WithComponent("audit_writer").WithFields(logger.Fields{"worker": "flush"})

	for {
		select {
		case <-w.ctx.Done():
			w.flush("shutdown")
			log.Info("worker stopped due to context cancellation")
			return
		case <-w.flushTicker.C:
			w.flush("interval")
		case record, ok := <-w.records:
			if !ok {
				w.flush("channel_closed")
				log.Info("audit channel closed, worker stopping")
				return
			}
			w.mu.Lock()
			w.buffer = append(w.buffer, record)
			w.mu.Unlock()
		}
	}
}

func (w *auditWriter) flush(reason string) {
	w.mu.Lock()
	records := w.buffer
	w.buffer = nil
	w.mu.Unlock()

	if len(records) == 0 {
		return
	}

	log := w.log.WithComponent("audit_writer").WithFields(logger.Fields{
		"record_count": len(records),
		"reason":       reason,
		"operation":    "flush",
	})
	log.Info("flushing audit records")

	now := time.Now().UTC()
	key := w.generateS3Key(records[0].Network, now)
	log = log.WithFields(logger.Fields{"s3_key": key})

	data, err := w.createParquetFile(records)
	if err != nil {
		log.WithError(err).Error("failed to create parquet file")
		return
	}

	if err := w.uploadToS3(key, data); err != nil {
		log.WithError(err).
			WithFields(logger.Fields{"bucket": w.config.Audit.S3.Bucket}).
			Error("failed to upload to S3")
		return
	}

	logger.IncrementAuditRows(len(records))
	log.WithFields(logger.Fields{"file_size": len(data)}).Info("audit records uploaded successfully")
}

func (w *auditWriter) generateS3Key(network string, ts time.Time) string {
	parts := []string{
		fmt.Sprintf("network=%s", network),
		fmt.Sprintf("year=%04d", ts.Year()),
		fmt.Sprintf("month=%02d", ts.Month()),
		fmt.Sprintf("day=%02d", ts.Day()),
		fmt.Sprintf("audit_%s.parquet", ts.Format("20060102150405")),
	}
	if prefix := w.config.Audit.S3.Prefix; prefix != "" {
		parts = append([]string{prefix}, parts...)
	}
	return filepath.ToSlash(filepath.Join(parts...))
}

func (w *auditWriter) createParquetFile(records []models.AuditRecord) ([]byte, error) {
	fw := newMemoryFileWriter()

	pw, err := writer.NewParquetWriter(fw, new(models.AuditRecord), 1)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, record := range records {
		if err := pw.Write(record); err != nil {
			pw.WriteStop()
			return nil, fmt.Errorf("failed to write parquet record: %w", err)
		}
	}

	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("failed to finalize parquet writing: %w", err)
	}

	return fw.Bytes(), nil
}

func (w *auditWriter) uploadToS3(key string, data []byte) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(w.config.Audit.S3.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"content-type": "parquet",
			"application":  w.config.FeeSeller.Name,
		},
	}

	ctx := context.WithoutCancel(w.ctx)
	if _, err := w.s3Client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("failed to upload to S3 bucket %s: %w", w.config.Audit.S3.Bucket, err)
	}
	return nil
}

// Start exposes the start method of auditWriter.
func (w *AuditWriter) Start(ctx context.Context) error { return w.start(ctx) }

// Stop exposes the stop method of auditWriter.
func (w *AuditWriter) Stop() { w.stop() }
