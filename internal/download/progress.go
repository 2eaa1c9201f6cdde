package download

import (
	"context"
	"fmt"
	"io"
	"time"
)

const (
	DefaultChunkSize      = 10 * 1024
	DefaultReportInterval = time.Second
)

// Reporter receives progress lines.
type Reporter interface {
	Info(msg string) error
}

// Progress is the mutable state of one transfer.
type Progress struct {
	BytesDownloaded int64
	TotalBytes      int64 // -1 when unknown
	LastReport      time.Time
}

// Emitter copies a transfer in fixed-size chunks and reports progress at most
// once per Interval of wall-clock time, regardless of chunk size or speed.
type Emitter struct {
	ChunkSize int
	Interval  time.Duration
	Now       func() time.Time
}

func (e Emitter) chunkSize() int {
	if e.ChunkSize > 0 {
		return e.ChunkSize
	}
	return DefaultChunkSize
}

func (e Emitter) interval() time.Duration {
	if e.Interval > 0 {
		return e.Interval
	}
	return DefaultReportInterval
}

func (e Emitter) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Copy reads src into dst. total is the declared length, or -1 if unknown.
// When total is known an "Expecting N byte(s)" line is reported first.
func (e Emitter) Copy(ctx context.Context, dst io.Writer, src io.Reader, total int64, rep Reporter) (Progress, error) {
	p := Progress{TotalBytes: total, LastReport: e.now()}
	if total >= 0 {
		_ = rep.Info(fmt.Sprintf("Expecting %d byte(s)", total))
	}

	buf := make([]byte, e.chunkSize())
	interval := e.interval()
	for {
		if err := ctx.Err(); err != nil {
			return p, err
		}
		n, readErr := io.ReadFull(src, buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return p, fmt.Errorf("write chunk: %w", err)
			}
			p.BytesDownloaded += int64(n)

			now := e.now()
			if now.Sub(p.LastReport) > interval {
				_ = rep.Info(p.String())
				p.LastReport = now
			}
		}
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			return p, nil
		}
		if readErr != nil {
			return p, fmt.Errorf("read chunk: %w", readErr)
		}
	}
}

// String renders a progress line: a whole percentage when the total is known,
// otherwise the raw byte count.
func (p Progress) String() string {
	if p.TotalBytes > 0 {
		return fmt.Sprintf("%d%%", p.BytesDownloaded*100/p.TotalBytes)
	}
	return fmt.Sprintf("Bytes downloaded: %d", p.BytesDownloaded)
}
