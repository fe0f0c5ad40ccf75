package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/charmbracelet/log"
	"github.com/muesli/reflow/truncate"

	"github.com/dgnsrekt/narrate/internal/playback"
	"github.com/dgnsrekt/narrate/internal/session"
)

// runHeadless plays from start to the end of the chapter without a UI,
// printing each paragraph as it begins. Paragraphs that fail to generate are
// reported and skipped.
func runHeadless(ctx context.Context, sess *session.Session, start int) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	return narrate(ctx, sess, start, os.Stdout)
}

func narrate(ctx context.Context, sess *session.Session, start int, w io.Writer) error {
	updates, unsubscribe := sess.Controller.Subscribe()
	defer unsubscribe()

	if err := sess.Start(start, true); err != nil {
		return err //nolint:wrapcheck
	}

	var (
		announced = -1
		skipped   = -1
		failures  int
	)
	for {
		select {
		case <-ctx.Done():
			log.Info("interrupted", "paragraph", announced)
			return nil
		case st, ok := <-updates:
			if !ok {
				return nil
			}

			if st.ActiveIndex != announced && st.ActiveIndex >= 0 && st.State != playback.Idle {
				announced = st.ActiveIndex
				printParagraph(w, sess, st)
			}
			if st.State != playback.Idle {
				continue
			}

			if st.Err != nil {
				if st.ActiveIndex == skipped {
					continue
				}
				skipped = st.ActiveIndex
				failures++
				fmt.Fprintln(w, failed(fmt.Sprintf("  skipped: %v", st.Err)))
				log.Warn("paragraph skipped", "index", st.ActiveIndex, "err", st.Err)
				if st.ActiveIndex+1 < st.Total {
					if err := sess.Start(st.ActiveIndex+1, true); err != nil {
						return err //nolint:wrapcheck
					}
					continue
				}
			} else if st.ActiveIndex < st.Total-1 {
				continue
			}

			if failures > 0 {
				return fmt.Errorf("%d paragraphs could not be read", failures)
			}
			return nil
		}
	}
}

func printParagraph(w io.Writer, sess *session.Session, st playback.Status) {
	text := ""
	if ps := sess.Chapter().Paragraphs; st.ActiveIndex < len(ps) {
		text = ps[st.ActiveIndex].Text
	}
	counter := faint(fmt.Sprintf("[%d/%d]", st.ActiveIndex+1, st.Total))
	fmt.Fprintln(w, counter, truncate.StringWithTail(text, 72, "…"))
}
