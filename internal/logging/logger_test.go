package logging

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

func TestNewDevelopmentLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(true)
	if err != nil {
		t.Fatalf("New(true) error = %v", err)
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush
	logger.Info("development logger ready")
}

func TestNewProductionLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(false)
	if err != nil {
		t.Fatalf("New(false) error = %v", err)
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush
	logger.Info("production logger ready")
}

func TestJobFields(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	logger := zap.New(core)
	job := crawler.ScrapeJob{
		ID:         "job-1",
		TargetType: crawler.TargetCategory,
		Status:     crawler.JobStatusPending,
		Metadata:   crawler.Metadata{crawler.MetaSlug: "adventure"},
	}
	logger.Info("job", JobFields(job)...)

	entry := logs.All()[0]
	ctx := entry.ContextMap()
	if ctx["job_id"] != "job-1" || ctx["slug"] != "adventure" || ctx["target_type"] != "CATEGORY" {
		t.Fatalf("unexpected fields %+v", ctx)
	}
	if _, ok := ctx["query"]; ok {
		t.Fatal("query field should be omitted when empty")
	}
}

func TestOrNop(t *testing.T) {
	t.Parallel()

	if OrNop(nil) == nil {
		t.Fatal("expected nop logger")
	}
}
