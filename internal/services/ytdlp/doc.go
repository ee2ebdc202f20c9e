// Package ytdlp wraps invocation of the external yt-dlp downloader. It
// resolves the invocation form once from configuration, supervises one
// subprocess per job under a hard timeout, and turns the tool's
// line-oriented progress output into structured updates.
//
// The produced file paths are taken from yt-dlp's own completion output
// (--print after_move:filepath); scanning the staging directory is kept only
// as a deprecated fallback because it is unreliable when concurrent jobs
// share one directory.
package ytdlp
