// Package main provides the CLI entrypoint for skillcast.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/verte-zerg/skillcast/internal/config"
	"github.com/verte-zerg/skillcast/internal/engine"
	"github.com/verte-zerg/skillcast/internal/event"
	"github.com/verte-zerg/skillcast/internal/logging"
	"github.com/verte-zerg/skillcast/internal/model"
	"github.com/verte-zerg/skillcast/internal/profile"
	"github.com/verte-zerg/skillcast/internal/screen/robot"
	"github.com/verte-zerg/skillcast/internal/store"
	"github.com/verte-zerg/skillcast/internal/tui"
)

const eventBuffer = 256

var (
	flagDocument string
	flagProfile  string
	flagVerbose  bool

	flagTolerance  int
	flagTickMs     int
	flagMinDelayMs int
	flagSettleMs   int
	flagTrigger    string
	flagToggle     string
	flagDisplay    int
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	rootCmd := newRootCmd()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "skillcast",
		Short:         "Pixel-driven skill rotation automation",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE:          runDashboardCmd,
	}
	rootCmd.PersistentFlags().StringVar(&flagDocument, "document", config.DefaultDocumentPath(), "profile document path")
	rootCmd.PersistentFlags().StringVar(&flagProfile, "profile", config.DefaultProfileName, "profile to use")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")
	addLoopFlags(rootCmd)

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the automation dashboard",
		Args:  cobra.NoArgs,
		RunE:  runDashboardCmd,
	}
	addLoopFlags(runCmd)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(newCalibrateCmd())
	rootCmd.AddCommand(newProfileCmd())
	rootCmd.AddCommand(newSkillCmd())
	rootCmd.AddCommand(newStatsCmd())
	rootCmd.AddCommand(newConfigCmd())
	return rootCmd
}

func addLoopFlags(cmd *cobra.Command) {
	cmd.Flags().IntVar(&flagTolerance, "tolerance", config.DefaultTolerance, "per-channel color tolerance (1-255)")
	cmd.Flags().IntVar(&flagTickMs, "tick-ms", config.DefaultTickMs, "pause between ticks in milliseconds")
	cmd.Flags().IntVar(&flagMinDelayMs, "min-delay-ms", config.DefaultMinDelayMs, "minimum pause after a cast in milliseconds")
	cmd.Flags().StringVar(&flagToggle, "toggle", config.DefaultToggleKey, "global start/stop hotkey")
	addCalibrateFlags(cmd)
}

func addCalibrateFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&flagTrigger, "trigger", config.DefaultTriggerKey, "calibration capture hotkey")
	cmd.Flags().IntVar(&flagSettleMs, "settle-ms", config.DefaultSettleMs, "pause after each calibration capture in milliseconds")
	cmd.Flags().IntVar(&flagDisplay, "display", -1, "display index for pixel sampling (-1 = main)")
}

// resolveSettings layers built-in defaults, the TOML file and explicitly set
// flags, in that order.
func resolveSettings(cmd *cobra.Command) (model.Settings, error) {
	fileCfg, err := config.LoadConfig(config.DefaultConfigPath())
	if err != nil {
		return model.Settings{}, fmt.Errorf("failed to load config: %w", err)
	}
	settings := fileCfg.Apply(config.DefaultSettings())
	applyIntFlag(cmd, "tolerance", &settings.Tolerance, flagTolerance)
	applyMillisFlag(cmd, "tick-ms", &settings.Tick, flagTickMs)
	applyMillisFlag(cmd, "min-delay-ms", &settings.MinDelay, flagMinDelayMs)
	applyMillisFlag(cmd, "settle-ms", &settings.Settle, flagSettleMs)
	applyStringFlag(cmd, "trigger", &settings.TriggerKey, flagTrigger)
	applyStringFlag(cmd, "toggle", &settings.ToggleKey, flagToggle)
	applyStringFlag(cmd, "document", &settings.DocumentPath, flagDocument)
	applyStringFlag(cmd, "profile", &settings.DefaultProfile, flagProfile)
	if err := config.Validate(settings); err != nil {
		return model.Settings{}, err
	}
	return settings, nil
}

// runtime holds what every command that touches the document needs.
type runtime struct {
	settings model.Settings
	logger   *zap.Logger
	profiles *profile.Store
}

func openRuntime(cmd *cobra.Command, stderrLog bool) (*runtime, error) {
	settings, err := resolveSettings(cmd)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(logging.Options{
		Path:    config.DefaultLogPath(),
		Verbose: flagVerbose,
		Stderr:  stderrLog && flagVerbose,
	})
	if err != nil {
		return nil, err
	}
	profiles, err := profile.Load(settings.DocumentPath, settings.DefaultProfile, logger)
	if err != nil {
		// The store is still usable in memory; the next save retries the write.
		logger.Warn("profile document not created", zap.String("path", settings.DocumentPath), zap.Error(err))
		if stderrLog {
			logErrf("Warning: profile document not created: %v\n", err)
		}
	}
	return &runtime{settings: settings, logger: logger, profiles: profiles}, nil
}

func (rt *runtime) close() {
	// Best-effort flush; stderr sync fails on some terminals.
	_ = rt.logger.Sync()
}

func openJournal() (*store.Store, error) {
	st, err := store.Open(config.DefaultDBPath())
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	return st, nil
}

func closeJournal(st *store.Store) {
	if cerr := st.Close(); cerr != nil {
		logErrf("failed to close db: %v\n", cerr)
	}
}

func runDashboardCmd(cmd *cobra.Command, _ []string) error {
	rt, err := openRuntime(cmd, false)
	if err != nil {
		return err
	}
	defer rt.close()

	journal, err := openJournal()
	if err != nil {
		return err
	}
	defer closeJournal(journal)

	screenIO := robot.New(flagDisplay)
	hotkeys := robot.NewHotkeys(rt.logger)
	eng, err := engine.New(rt.settings, engine.Deps{
		Store:    rt.profiles,
		Sampler:  screenIO,
		Pointer:  screenIO,
		Keyboard: screenIO,
		Trigger:  hotkeys.Trigger(rt.settings.TriggerKey),
		Bus:      event.NewBus(),
		Journal:  journal,
		Logger:   rt.logger,
	})
	if err != nil {
		return err
	}
	defer eng.Close()
	hotkeys.Register(rt.settings.ToggleKey, eng.Toggle)

	events, unsubscribe := eng.Bus().Subscribe(eventBuffer)
	defer unsubscribe()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return hotkeys.Start(gctx)
	})
	g.Go(func() error {
		defer cancel()
		dashboard := tui.NewModel(eng, events, len(rt.profiles.Coords()))
		program := tea.NewProgram(dashboard, tea.WithAltScreen(), tea.WithContext(gctx))
		if _, err := program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
			return fmt.Errorf("failed to run TUI: %w", err)
		}
		return nil
	})
	return g.Wait()
}

func newCalibrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calibrate",
		Short: "Capture skill bar geometry without the dashboard",
		Args:  cobra.NoArgs,
		RunE:  runCalibrateCmd,
	}
	addCalibrateFlags(cmd)
	return cmd
}

func runCalibrateCmd(cmd *cobra.Command, _ []string) error {
	rt, err := openRuntime(cmd, true)
	if err != nil {
		return err
	}
	defer rt.close()

	screenIO := robot.New(flagDisplay)
	hotkeys := robot.NewHotkeys(rt.logger)
	eng, err := engine.New(rt.settings, engine.Deps{
		Store:   rt.profiles,
		Pointer: screenIO,
		Trigger: hotkeys.Trigger(rt.settings.TriggerKey),
		Bus:     event.NewBus(),
		Logger:  rt.logger,
	})
	if err != nil {
		return err
	}
	defer eng.Close()

	events, unsubscribe := eng.Bus().Subscribe(eventBuffer)
	defer unsubscribe()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return hotkeys.Start(gctx)
	})
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case ev, ok := <-events:
				if !ok {
					return nil
				}
				printWizardEvent(ev)
			}
		}
	})
	g.Go(func() error {
		defer cancel()
		if err := eng.RunCalibration(gctx); err != nil {
			return fmt.Errorf("calibration failed: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}
	logErrf("Saved %d slots to %s\n", len(rt.profiles.Coords()), rt.profiles.Path())
	return nil
}

func printWizardEvent(ev event.Event) {
	switch {
	case ev.Kind == event.KindLog:
		logErrln(ev.Message)
	case ev.Kind == event.KindOverlay && ev.Color == event.ColorComplete:
		logErrln(ev.Text)
	}
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Create/open config file",
		Args:  cobra.NoArgs,
		RunE:  runConfigCmd,
	}
}

func runConfigCmd(_ *cobra.Command, _ []string) error {
	path := config.DefaultConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to stat config: %w", err)
		}
		if err := os.WriteFile(path, []byte(defaultConfigTemplate()), 0o644); err != nil {
			return fmt.Errorf("failed to write config: %w", err)
		}
	}

	editor := strings.TrimSpace(os.Getenv("EDITOR"))
	if editor == "" {
		editor = "vi"
	}
	parts := strings.Fields(editor)
	if len(parts) == 0 {
		return fmt.Errorf("editor command is empty")
	}
	cmd := exec.Command(parts[0], append(parts[1:], path)...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to open editor: %w", err)
	}
	return nil
}

func defaultConfigTemplate() string {
	return fmt.Sprintf(`# skillcast configuration
# Uncomment a value to enable it. CLI flags override config values.

[detect]
# tolerance = %d            # Per-channel color tolerance (1-255)

[calibrate]
# bearing = %.1f            # Offset point bearing in degrees
# radius-ratio = %.2f       # Offset radius as a fraction of the half slot width
# settle-ms = %d            # Pause after each capture
# trigger = %q              # Capture hotkey

[loop]
# tick-ms = %d               # Pause between ticks
# idle-ms = %d              # Pause while the profile is empty
# min-delay-ms = %d          # Minimum pause after a cast

[hotkeys]
# toggle = %q              # Global start/stop hotkey

[profile]
# default = %q
# document = %q
`,
		config.DefaultTolerance,
		config.DefaultBearingDeg,
		config.DefaultRadiusRatio,
		config.DefaultSettleMs,
		config.DefaultTriggerKey,
		config.DefaultTickMs,
		config.DefaultIdleMs,
		config.DefaultMinDelayMs,
		config.DefaultToggleKey,
		config.DefaultProfileName,
		config.DefaultDocumentPath(),
	)
}

func applyStringFlag(cmd *cobra.Command, name string, target *string, value string) {
	if !cmd.Flags().Changed(name) {
		return
	}
	*target = value
}

func applyIntFlag(cmd *cobra.Command, name string, target *int, value int) {
	if !cmd.Flags().Changed(name) {
		return
	}
	*target = value
}

func applyMillisFlag(cmd *cobra.Command, name string, target *time.Duration, value int) {
	if !cmd.Flags().Changed(name) {
		return
	}
	*target = time.Duration(value) * time.Millisecond
}

func logErrf(format string, args ...any) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		// Best-effort logging to stderr.
		_ = err
	}
}

func logErrln(args ...any) {
	if _, err := fmt.Fprintln(os.Stderr, args...); err != nil {
		// Best-effort logging to stderr.
		_ = err
	}
}
