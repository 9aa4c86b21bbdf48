package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/alexisbeaulieu97/devopsctl/internal/logger"
)

const defaultDebounce = 2 * time.Second

type watchOptions struct {
	ConfigPath string
	Values     []string
	Debounce   time.Duration
}

var watchCmdRunner = runWatch

func newWatchCmd(app *appContext) *cobra.Command {
	opts := watchOptions{}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Apply a manifest and re-apply it whenever the file changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return watchCmdRunner(ctx, app, cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "", "Path to the manifest")
	cmd.Flags().StringArrayVar(&opts.Values, "set", nil, "Template value as key=value (repeatable)")
	cmd.Flags().DurationVar(&opts.Debounce, "debounce", defaultDebounce, "Quiet period after a change before re-applying")
	cmd.MarkFlagRequired("config") //nolint:errcheck

	return cmd
}

func runWatch(ctx context.Context, app *appContext, out io.Writer, opts watchOptions) error {
	if err := validateConfigPath(opts.ConfigPath); err != nil {
		return err
	}
	log, err := app.newLogger(os.Stderr, false)
	if err != nil {
		return err
	}

	apply := func(ctx context.Context) {
		// A broken manifest is reported and the watch continues.
		if err := runApply(ctx, app, out, applyOptions{ConfigPath: opts.ConfigPath, Values: opts.Values}); err != nil {
			log.Error(err, "apply failed")
			return
		}
		log.Info("apply finished")
	}

	apply(ctx)

	w := &manifestWatcher{path: opts.ConfigPath, debounce: opts.Debounce, log: log, onChange: apply}
	fmt.Fprintf(out, "Watching %s for changes (ctrl+c to stop)\n", opts.ConfigPath)
	return w.Run(ctx)
}

// manifestWatcher calls onChange once per burst of writes to path.
type manifestWatcher struct {
	path     string
	debounce time.Duration
	log      *logger.Logger
	onChange func(ctx context.Context)
}

// Run watches until ctx is done. The parent directory is watched so editors
// that replace the file by renaming are still seen.
func (w *manifestWatcher) Run(ctx context.Context) error {
	abs, err := filepath.Abs(w.path)
	if err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	debounce := w.debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}

	var (
		mu    sync.Mutex
		timer *time.Timer
		wg    sync.WaitGroup
	)
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
		wg.Wait()
	}()

	// runs serializes onChange calls.
	runs := make(chan struct{}, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-runs:
				w.onChange(ctx)
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watch error: " + err.Error())
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs || !event.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			w.log.WithFields(map[string]any{"file": event.Name, "op": event.Op.String()}).Debug("manifest changed")

			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, func() {
				select {
				case runs <- struct{}{}:
				default:
				}
			})
			mu.Unlock()
		}
	}
}
