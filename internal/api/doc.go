// Package api defines the wire payload types shared between the HTTP server
// and its clients (the browser page and the CLI status command).
package api
