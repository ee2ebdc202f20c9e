// Package server exposes the HTTP surface of the broker: the streaming
// download endpoint, one-time file delivery, a status snapshot, Prometheus
// metrics, and the embedded front page.
package server
