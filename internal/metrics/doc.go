// Package metrics defines all Prometheus metrics for the media vault service.
//
// Metrics are registered with the default registry via promauto at package
// initialization and exposed by the metrics HTTP endpoint configured in main.
// They cover the HTTP command adapter, the database layer, the import
// pipeline, the tag graph, media probing, and the event bus.
package metrics
