// Package logging provides zap logger helpers.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// New builds a zap.Logger configured for development or production.
func New(development bool) (*zap.Logger, error) {
	if development {
		cfg := zap.NewDevelopmentConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		logger, err := cfg.Build()
		if err != nil {
			return nil, fmt.Errorf("build dev logger: %w", err)
		}
		return logger, nil
	}
	cfg := zap.NewProductionConfig()
	cfg.DisableStacktrace = false
	cfg.EncoderConfig.TimeKey = "ts"
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build prod logger: %w", err)
	}
	return logger, nil
}

// OrNop returns logger, or a no-op logger when it is nil.
func OrNop(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}

// JobFields returns the standard fields attached to every job log line.
func JobFields(job crawler.ScrapeJob) []zap.Field {
	fields := []zap.Field{
		zap.String("job_id", job.ID),
		zap.String("target_type", string(job.TargetType)),
		zap.String("status", string(job.Status)),
	}
	if job.TargetURL != "" {
		fields = append(fields, zap.String("target_url", job.TargetURL))
	}
	if slug := job.Metadata.Text(crawler.MetaSlug); slug != "" {
		fields = append(fields, zap.String("slug", slug))
	}
	if query := job.Metadata.Text(crawler.MetaQuery); query != "" {
		fields = append(fields, zap.String("query", query))
	}
	return fields
}
