// Package api is the HTTP/JSON transport adapter over the catalog command
// layer: decode, call, encode. It also serves health probes, Prometheus
// metrics, and a server-sent event stream of bus events.
package api
