package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInitIdempotent(t *testing.T) {
	Init()
	Init()

	if jobsTotal == nil || productsIngestedTotal == nil || paginationStepsTotal == nil ||
		policyDecisionsTotal == nil || httpRequestsTotal == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveJob(t *testing.T) {
	before := testutil.ToFloat64(jobsCounter("CATEGORY", "COMPLETED"))
	ObserveJob("CATEGORY", "COMPLETED")
	if got := testutil.ToFloat64(jobsCounter("CATEGORY", "COMPLETED")); got != before+1 {
		t.Fatalf("expected job counter to grow by 1, got %f -> %f", before, got)
	}
}

func TestObserveIngestIgnoresZero(t *testing.T) {
	Init()
	before := testutil.ToFloat64(productsIngestedTotal.WithLabelValues("duplicate"))
	ObserveIngest("duplicate", 0)
	ObserveIngest("duplicate", 3)
	if got := testutil.ToFloat64(productsIngestedTotal.WithLabelValues("duplicate")); got != before+3 {
		t.Fatalf("expected +3 duplicates, got %f -> %f", before, got)
	}
}

func TestObservePolicyDecision(t *testing.T) {
	Init()
	allowed := testutil.ToFloat64(policyDecisionsTotal.WithLabelValues("allowed"))
	denied := testutil.ToFloat64(policyDecisionsTotal.WithLabelValues("denied"))
	ObservePolicyDecision(true)
	ObservePolicyDecision(false)
	ObservePolicyDecision(false)
	if got := testutil.ToFloat64(policyDecisionsTotal.WithLabelValues("allowed")); got != allowed+1 {
		t.Fatalf("allowed: got %f", got)
	}
	if got := testutil.ToFloat64(policyDecisionsTotal.WithLabelValues("denied")); got != denied+2 {
		t.Fatalf("denied: got %f", got)
	}
}

func TestGauges(t *testing.T) {
	Init()
	base := testutil.ToFloat64(browserSessions)
	IncBrowserSessions()
	IncBrowserSessions()
	DecBrowserSessions()
	if got := testutil.ToFloat64(browserSessions); got != base+1 {
		t.Fatalf("expected one open session, got %f", got)
	}
}

func jobsCounter(targetType, status string) prometheus.Counter {
	Init()
	return jobsTotal.WithLabelValues(targetType, status)
}
