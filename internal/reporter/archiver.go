package reporter

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	appconfig "github.com/donorsync/reconcile-api/internal/config"
)

// Archiver copies a run's report artifacts to S3-compatible object storage.
// Archival is best effort: the local run directory is the source of truth
// and an upload failure never fails the pipeline.
type Archiver struct {
	client  *s3.Client
	bucket  string
	enabled bool
	logger  *slog.Logger
}

// NewArchiver creates an archiver from the process config. When no bucket
// is configured the archiver is a no-op.
func NewArchiver(cfg *appconfig.Config, logger *slog.Logger) (*Archiver, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "archiver")

	if !cfg.StorageEnabled {
		logger.Info("report archival disabled - no bucket configured")
		return &Archiver{enabled: false, logger: logger}, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(cfg.StorageRegion),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.StorageAccessKey,
			cfg.StorageSecretKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// Custom endpoint + path style for S3-compatible stores (Tigris, MinIO)
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.StorageEndpoint)
		o.UsePathStyle = true
	})

	logger.Info("report archival enabled", "bucket", cfg.StorageBucket, "endpoint", cfg.StorageEndpoint)

	return &Archiver{
		client:  client,
		bucket:  cfg.StorageBucket,
		enabled: true,
		logger:  logger,
	}, nil
}

// Enabled returns whether archival is configured.
func (a *Archiver) Enabled() bool {
	return a.enabled
}

// ArchiveRun uploads every file in the run directory under
// reports/<run-key>/. Returns the first upload error, if any.
func (a *Archiver) ArchiveRun(ctx context.Context, runDir string) error {
	if !a.enabled {
		return nil
	}

	entries, err := os.ReadDir(runDir)
	if err != nil {
		return fmt.Errorf("failed to read run dir: %w", err)
	}

	runKey := filepath.Base(runDir)
	uploaded := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		path := filepath.Join(runDir, entry.Name())
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", path, err)
		}

		key := fmt.Sprintf("reports/%s/%s", runKey, entry.Name())
		_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(a.bucket),
			Key:         aws.String(key),
			Body:        f,
			ContentType: aws.String(contentTypeFor(entry.Name())),
		})
		f.Close()
		if err != nil {
			return fmt.Errorf("failed to upload %s: %w", key, err)
		}
		uploaded++
	}

	a.logger.Info("archived run artifacts", "run", runKey, "files", uploaded)
	return nil
}

func contentTypeFor(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		return "text/csv"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
