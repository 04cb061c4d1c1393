// Package telemetry wires OpenTelemetry exporters and meters for the rule
// engine service.
//
// It centralises trace provider setup, applies service resource attributes,
// and offers enrichment helpers that attach rule decision outcomes to spans
// and meters so operators can correlate enforcement decisions with traffic
// behaviour without leaking captured contents.
package telemetry
