// Package infra contains technical adapters: the MQTT telemetry and
// offer client and the Prometheus/InfluxDB metric sinks. These packages
// should depend only on the interfaces defined in the core packages.
package infra
