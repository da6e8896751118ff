// Package telemetry turns engine observer callbacks into Prometheus
// metrics and OpenTelemetry spans.
//
// Both types implement engine.Observer and are attached with
// lemon.WithObserver (or engine.WithObserver):
//
//	reg := prometheus.NewRegistry()
//	e := lemon.NewEngine(lemon.WithObserver(
//		telemetry.NewMetrics(reg),
//		telemetry.NewTracer(otel.GetTracerProvider()),
//	))
//
// Observers run synchronously on the engine goroutine, like the engine
// itself.
package telemetry
