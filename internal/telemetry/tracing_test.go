package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestInitTracerProviderWithoutExporter(t *testing.T) {
	tp, err := InitTracerProvider(context.Background(), Config{ServiceName: "catalog-crawler-test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	_, span := otel.Tracer("test").Start(context.Background(), "job")
	require.True(t, span.SpanContext().IsValid())
	span.End()
	require.NotNil(t, otel.GetTextMapPropagator())
}
