package testcord

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/metric"
)

func TestInstrumenterWithZeroMeterIsNoop(t *testing.T) {
	ins := newInstrumenter("testBot", metric.Meter{})

	assert.Equal(t, "testBot", ins.appName)

	ctx := context.Background()
	ins.coreMetrics.msgsInjected.Add(ctx, 1)
	ins.coreMetrics.msgsCaptured.Add(ctx, 1)
	ins.coreMetrics.processingTimeMillis.Record(ctx, 42)
}

func TestMeasureReportsElapsedTime(t *testing.T) {
	d := measure(func() {
		time.Sleep(2 * time.Millisecond)
	})

	assert.GreaterOrEqual(t, d, 2*time.Millisecond)
}
