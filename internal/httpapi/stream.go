package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/example/speech-trainer/api-go/internal/joblog"
)

// streamLog copies a job log to w as text/plain, one line per record,
// flushing after each. It returns at the end marker, when timeout elapses,
// or when the client goes away. In the last two cases the log is detached
// and the job keeps running unobserved.
func streamLog(w http.ResponseWriter, r *http.Request, l *joblog.Log, timeout time.Duration) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	_ = rc.Flush()

	ctx := r.Context()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	for {
		var (
			rec joblog.Record
			err = ctx.Err()
		)
		if err == nil {
			rec, err = l.Pull(ctx)
		}
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			l.Detach()
			if r.Context().Err() == nil {
				_, _ = fmt.Fprintf(w, "ERROR: stream timed out after %s\n", timeout)
				_ = rc.Flush()
			}
			return
		}
		if _, err := io.WriteString(w, rec.Line()+"\n"); err != nil {
			l.Detach()
			return
		}
		if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
			l.Detach()
			return
		}
	}
}
