// Package link feeds command text from a host connection (serial port,
// stdin, any io.Reader) into the command channel.
package link

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cjeanneret/PanTilt/internal/command"
	"github.com/cjeanneret/PanTilt/internal/debug"
	"github.com/cjeanneret/PanTilt/internal/logic/dispatch"
)

// DefaultRetry is how long Feed waits before retrying a full channel.
const DefaultRetry = 10 * time.Millisecond

// Feeder moves lines from a reader into a channel.
type Feeder struct {
	Channel *command.Channel
	// Notify is called after each accepted command (typically Runner.Wake).
	Notify func()
	// Retry is the back-off while the channel is full. 0 = DefaultRetry.
	Retry time.Duration
}

// Feed reads one command per line until EOF or ctx is cancelled. Blank
// lines are ignored. Each line gets a reply on w: "ok" once queued, or
// "error: ..." when it does not parse. A full channel blocks the reader
// instead of dropping the line, which pushes back on the host.
func (f *Feeder) Feed(ctx context.Context, r io.Reader, w io.Writer) error {
	retry := f.Retry
	if retry <= 0 {
		retry = DefaultRetry
	}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if _, err := dispatch.Parse(line); err != nil {
			debug.Live("Link rejected %q: %v", line, err)
			if _, werr := fmt.Fprintf(w, "error: %v\n", err); werr != nil {
				return werr
			}
			continue
		}
		if err := f.put(ctx, line, retry); err != nil {
			return err
		}
		if f.Notify != nil {
			f.Notify()
		}
		if _, err := io.WriteString(w, "ok\n"); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// Feed is Feeder.Feed without a notifier.
func Feed(ctx context.Context, r io.Reader, w io.Writer, ch *command.Channel) error {
	return (&Feeder{Channel: ch}).Feed(ctx, r, w)
}

func (f *Feeder) put(ctx context.Context, line string, retry time.Duration) error {
	for {
		switch st := f.Channel.PutString(line); st {
		case command.Success:
			return nil
		case command.Full:
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retry):
			}
		default:
			return st.Err()
		}
	}
}
