// Package storage implements archive writers for timeline records along
// with the path router and rotation policy used by the recorder.
package storage

import (
	"fmt"
	"strings"
	"time"

	"github.com/jittakal/kaftimeline/internal/config/dto"
	"github.com/jittakal/kaftimeline/pkg/event"
	"github.com/jittakal/kaftimeline/pkg/storage"
)

var (
	_ storage.Router         = (*DefaultRouter)(nil)
	_ storage.RotationPolicy = (*CompositePolicy)(nil)
)

// DefaultRouter implements Hive-style date partitioning per timeline.
type DefaultRouter struct {
	protocol string
	bucket   string
	basePath string
}

// NewRouter creates a new storage router.
func NewRouter(protocol, bucket, basePath string) *DefaultRouter {
	return &DefaultRouter{
		protocol: protocol,
		bucket:   strings.Trim(bucket, "/"),
		basePath: strings.Trim(basePath, "/"),
	}
}

// NewRouterFor creates the router matching a storage backend. The file
// backend routes relative to its base path, which the FileWriter applies.
func NewRouterFor(cfg dto.StorageConfig) *DefaultRouter {
	switch cfg.Backend {
	case "s3":
		return NewRouter("s3", cfg.S3.Bucket, cfg.S3.BasePath)
	case "gcs":
		return NewRouter("gs", cfg.GCS.Bucket, cfg.GCS.BasePath)
	case "azure":
		return NewRouter("wasbs", cfg.Azure.Container, cfg.Azure.BasePath)
	default:
		return NewRouter("file", "", "")
	}
}

// Route returns protocol://bucket/basePath/<timeline>/dt=YYYY-MM-DD/ for the
// UTC date of timestamp (Unix seconds). Empty segments are omitted.
func (r *DefaultRouter) Route(timeline string, timestamp int64) string {
	date := time.Unix(timestamp, 0).UTC().Format("2006-01-02")

	segments := make([]string, 0, 4)
	for _, s := range []string{r.bucket, r.basePath, timeline, "dt=" + date} {
		if s != "" {
			segments = append(segments, s)
		}
	}
	return fmt.Sprintf("%s://%s/", r.protocol, strings.Join(segments, "/"))
}

// objectKey strips scheme://bucket/ from a routed path, leaving the key
// prefix inside the bucket.
func objectKey(path, scheme string) string {
	prefix := scheme + "://"
	if !strings.HasPrefix(path, prefix) {
		return strings.TrimPrefix(path, "/")
	}
	parts := strings.SplitN(strings.TrimPrefix(path, prefix), "/", 2)
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}

// Rotation strategies.
const (
	// StrategyAny rotates when any configured threshold is reached.
	StrategyAny = "any"
	// StrategyAll rotates only when every configured threshold is reached.
	StrategyAll = "all"
)

// CompositePolicy rotates on size, record count and age thresholds. A
// threshold of zero is not configured.
type CompositePolicy struct {
	maxSizeBytes int64
	maxRecords   int
	maxDuration  time.Duration
	requireAll   bool
	now          func() time.Time
}

// NewPolicy creates a rotation policy from configuration.
func NewPolicy(cfg dto.FileRotationConfig) *CompositePolicy {
	return &CompositePolicy{
		maxSizeBytes: cfg.MaxFileSizeMB * 1024 * 1024,
		maxRecords:   cfg.MaxRecordsPerFile,
		maxDuration:  time.Duration(cfg.MaxDurationSeconds) * time.Second,
		requireAll:   cfg.Strategy == StrategyAll,
		now:          time.Now,
	}
}

// ShouldRotate reports whether pending records described by stats should
// be written.
func (p *CompositePolicy) ShouldRotate(stats event.FileStats) bool {
	if stats.RecordCount == 0 {
		return false
	}

	var checks []bool
	if p.maxSizeBytes > 0 {
		checks = append(checks, stats.SizeBytes >= p.maxSizeBytes)
	}
	if p.maxRecords > 0 {
		checks = append(checks, stats.RecordCount >= p.maxRecords)
	}
	if p.maxDuration > 0 {
		checks = append(checks, !stats.FirstWriteTime.IsZero() && p.now().Sub(stats.FirstWriteTime) >= p.maxDuration)
	}
	if len(checks) == 0 {
		return true
	}

	for _, met := range checks {
		if met && !p.requireAll {
			return true
		}
		if !met && p.requireAll {
			return false
		}
	}
	return p.requireAll
}
