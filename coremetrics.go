package testcord

import (
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// instrumenter holds data for core instrumentation
type instrumenter struct {
	appName     string
	coreMetrics coreMetrics
	meter       metric.Meter
}

// coreMetrics holds core testcord metrics
type coreMetrics struct {
	msgsInjected         metric.BoundInt64Counter
	msgsCaptured         metric.BoundInt64Counter
	processingTimeMillis metric.BoundInt64ValueRecorder
}

// newInstrumenter creates a new core instrumenter. A zero-value meter yields no-op
// instruments, so recording is always safe
func newInstrumenter(appName string, meter metric.Meter) (ins *instrumenter) {
	ins = new(instrumenter)
	mt := metric.Must(meter)

	defaultLabels := attribute.String("name", appName)

	ins.coreMetrics = coreMetrics{
		msgsInjected:         mt.NewInt64Counter("msgsInjected").Bind(defaultLabels),
		msgsCaptured:         mt.NewInt64Counter("msgsCaptured").Bind(defaultLabels),
		processingTimeMillis: mt.NewInt64ValueRecorder("msgProcessingTimeMillis").Bind(defaultLabels),
	}

	ins.appName = appName
	ins.meter = meter

	return ins
}

type timed func()

// measure returns the execution duration of a timed function
func measure(operation timed) (d time.Duration) {
	before := time.Now()

	operation()

	return time.Now().Sub(before)
}
