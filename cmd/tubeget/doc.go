// Package main hosts the tubeget CLI entrypoint and command graph.
//
// The Cobra-based command tree wires the serve loop (HTTP broker plus
// downloader supervision), a status command that queries a running broker
// over its HTTP API, and configuration scaffolding. Heavy lifting lives in
// the internal packages; commands stay declarative.
package main
