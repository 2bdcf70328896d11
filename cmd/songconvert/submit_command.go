package main

import (
	"errors"
	"fmt"
	"io"
	"net"
	"path/filepath"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"songconvert/internal/daemonctl"
	"songconvert/internal/wire"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "submit <song-folder>...",
		Short: "Queue song folders for splitting and re-encoding",
		Long: "Queue one or more song folders. The daemon is started in the background " +
			"if it is not running. Progress is printed until every folder finishes; " +
			"the command fails if any folder fails.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sup, err := ctx.supervisor(true)
			if err != nil {
				return err
			}
			stdout := cmd.OutOrStdout()

			locations := make([]string, 0, len(args))
			for _, arg := range args {
				abs, err := filepath.Abs(arg)
				if err != nil {
					return fmt.Errorf("resolve %s: %w", arg, err)
				}
				locations = append(locations, abs)
			}

			// Connect serially so at most one daemon is launched.
			conns := make([]net.Conn, 0, len(locations))
			defer func() {
				for _, conn := range conns {
					_ = conn.Close()
				}
			}()
			for range locations {
				conn, launched, err := sup.Connect(cmd.Context())
				if err != nil {
					return err
				}
				if launched {
					fmt.Fprintln(stdout, "Daemon not running, launched in background")
				}
				conns = append(conns, conn)
			}

			out := &lineWriter{w: stdout}
			var failed []string
			var failedMu sync.Mutex
			var g errgroup.Group
			for i, location := range locations {
				conn := conns[i]
				prefix := ""
				if len(locations) > 1 {
					prefix = "[" + filepath.Base(location) + "] "
				}
				g.Go(func() error {
					err := daemonctl.Exchange(cmd.Context(), conn, location, func(line string) {
						out.println(prefix + line)
					})
					switch {
					case err == nil:
						out.println(prefix + "Done.")
						return nil
					case errors.Is(err, wire.ErrTerminalError):
						out.println(prefix + "Failed.")
						failedMu.Lock()
						failed = append(failed, location)
						failedMu.Unlock()
						return nil
					default:
						return fmt.Errorf("%s: %w", location, err)
					}
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}
			if len(failed) > 0 {
				return fmt.Errorf("%d of %d songs failed; see `songconvert history` or the daemon log", len(failed), len(locations))
			}
			return nil
		},
	}
}

// lineWriter serializes whole lines from concurrent exchanges.
type lineWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lineWriter) println(line string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintln(l.w, line)
}
