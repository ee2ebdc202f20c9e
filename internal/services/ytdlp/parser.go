package ytdlp

import (
	"bytes"
	"math"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Progress captures one parsed yt-dlp progress line.
type Progress struct {
	Percent         float64
	DownloadedBytes int64
	TotalBytes      int64
	Speed           string
	ETA             string
}

// progressRe matches lines like:
//
//	[download]  45.0% of 120.50MiB at 2.10MiB/s ETA 00:32
//
// Speed and ETA may be reported as N/A while yt-dlp is still estimating.
var progressRe = regexp.MustCompile(`\[download\]\s+(\d+(?:\.\d+)?)%\s+of\s+~?\s*([\d.]+)([KMGTP]iB|B)\s+at\s+(\S+/s|N/A|Unknown)\s+ETA\s+([0-9:]+|N/A|Unknown)`)

var destinationRe = regexp.MustCompile(`\[download\]\s+Destination:\s+(.+)`)

var unitMultipliers = map[string]int64{
	"B":   1,
	"KiB": 1 << 10,
	"MiB": 1 << 20,
	"GiB": 1 << 30,
	"TiB": 1 << 40,
	"PiB": 1 << 50,
}

// UnitToBytes converts a human-readable IEC size to a byte count. Unknown
// units fall back to a multiplier of one rather than failing.
func UnitToBytes(value float64, unit string) int64 {
	multiplier, ok := unitMultipliers[unit]
	if !ok {
		multiplier = 1
	}
	return int64(math.Round(value * float64(multiplier)))
}

// ProgressParser consumes raw stderr bytes incrementally and emits
// structured updates. Chunks need not align with line boundaries; partial
// lines are buffered until completed. Repeated percentages are suppressed
// so a chatty subprocess cannot flood the event stream.
type ProgressParser struct {
	onProgress    func(Progress)
	onDestination func(string)
	onLine        func(string)

	buf         []byte
	lastPercent float64
}

// NewProgressParser builds a parser. Any callback may be nil. onLine, when
// set, receives every raw line (debug mode).
func NewProgressParser(onProgress func(Progress), onDestination func(string), onLine func(string)) *ProgressParser {
	return &ProgressParser{
		onProgress:    onProgress,
		onDestination: onDestination,
		onLine:        onLine,
		lastPercent:   -1,
	}
}

// Write implements io.Writer so the parser can sit directly on the
// subprocess stderr pipe.
func (p *ProgressParser) Write(chunk []byte) (int, error) {
	p.buf = append(p.buf, chunk...)
	for {
		idx := bytes.IndexAny(p.buf, "\r\n")
		if idx < 0 {
			return len(chunk), nil
		}
		line := string(p.buf[:idx])
		p.buf = p.buf[idx+1:]
		p.parseLine(line)
	}
}

// Flush processes any trailing partial line. Call once after the stream ends.
func (p *ProgressParser) Flush() {
	if len(p.buf) == 0 {
		return
	}
	line := string(p.buf)
	p.buf = nil
	p.parseLine(line)
}

func (p *ProgressParser) parseLine(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	if p.onLine != nil {
		p.onLine(line)
	}

	if m := progressRe.FindStringSubmatch(line); m != nil {
		percent, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return
		}
		if percent == p.lastPercent {
			return
		}
		total, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			return
		}
		totalBytes := UnitToBytes(total, m[3])
		p.lastPercent = percent
		if p.onProgress != nil {
			p.onProgress(Progress{
				Percent:         percent,
				DownloadedBytes: int64(math.Round(percent / 100 * float64(totalBytes))),
				TotalBytes:      totalBytes,
				Speed:           m[4],
				ETA:             m[5],
			})
		}
		return
	}

	if m := destinationRe.FindStringSubmatch(line); m != nil {
		if p.onDestination != nil {
			p.onDestination(filepath.Base(strings.TrimSpace(m[1])))
		}
		return
	}

	// Everything else is expected noise (extractor banners, merge notices,
	// truncated lines) and is dropped.
}
