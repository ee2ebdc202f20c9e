// Package download implements the job broker: it gates submitted URLs,
// drives the yt-dlp client, stages produced files in the token registry and
// translates tool output into the typed events the HTTP layer streams to
// the browser.
package download
