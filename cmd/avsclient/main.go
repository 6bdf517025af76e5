// avsclient is a voice-service client for the terminal.
//
// Usage:
//
//	avsclient [-config avsclient.yaml] [-verbose] [-quiet] [-log-file path]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	stdlog "log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/hammamikhairi/avsclient/internal/audio"
	"github.com/hammamikhairi/avsclient/internal/config"
	"github.com/hammamikhairi/avsclient/internal/controller"
	"github.com/hammamikhairi/avsclient/internal/display"
	"github.com/hammamikhairi/avsclient/internal/domain"
	"github.com/hammamikhairi/avsclient/internal/listen"
	"github.com/hammamikhairi/avsclient/internal/logger"
	"github.com/hammamikhairi/avsclient/internal/retry"
	"github.com/hammamikhairi/avsclient/internal/storage"
	"github.com/hammamikhairi/avsclient/internal/transport"
	"github.com/hammamikhairi/avsclient/internal/wakeword"
)

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", "", "path to the YAML config file")
	verbose := flag.Bool("verbose", false, "enable verbose/debug logging")
	quiet := flag.Bool("quiet", false, "disable all logging")
	logFile := flag.String("log-file", "", "file to write logs to (use \"stderr\" to log to console; overrides the config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	logLevel, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v (using normal)\n", err)
	}
	if *verbose {
		logLevel = logger.LevelVerbose
	}
	if *quiet {
		logLevel = logger.LevelOff
	}

	if *logFile != "" {
		cfg.Log.File = *logFile
	}

	// Logs go to a file by default so the prompt stays clean.
	var logOut io.Writer = os.Stderr
	if cfg.Log.File != "" && cfg.Log.File != "stderr" {
		dir := filepath.Dir(cfg.Log.File)
		if dir != "" && dir != "." {
			os.MkdirAll(dir, 0o755)
		}
		f, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: could not open log file %s: %v (falling back to stderr)\n", cfg.Log.File, err)
		} else {
			logOut = f
			defer f.Close()
		}
	}

	// Third-party libraries log through the standard logger.
	stdlog.SetOutput(logOut)
	stdlog.SetFlags(stdlog.Ltime)

	var logOpts []logger.Option
	if cfg.Log.OTel {
		logOpts = append(logOpts, logger.WithOTel("github.com/hammamikhairi/avsclient"))
	}
	log := logger.New(logLevel, logOut, logOpts...)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("%v", err)
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// ── Audio ────────────────────────────────────────────────────
	out, err := audio.NewOtoOutput(log.Named("output"))
	if err != nil {
		return fmt.Errorf("audio output: %w", err)
	}
	device := audio.NewDevice(out, log.Named("device"),
		audio.WithVolume(cfg.Device.Volume),
		audio.WithStreamCache(audio.NewStreamCache(cfg.Device.CacheDir, log.Named("cache"))),
	)

	capture, err := audio.NewCapture(log.Named("capture"))
	if err != nil {
		return fmt.Errorf("audio capture: %w", err)
	}
	defer capture.Close()

	// ── Storage ──────────────────────────────────────────────────
	var store domain.AlertStore
	if cfg.Alerts.File != "" {
		store = storage.NewFileStore(cfg.Alerts.File, log.Named("store"))
	} else {
		store = storage.NewMemoryStore(log.Named("store"))
	}

	// ── Transport ────────────────────────────────────────────────
	// The controller needs the transport to send events and the transport
	// needs the controller to deliver directives.
	var ctrl *controller.Controller
	client := transport.NewClient(cfg.Transport.URL,
		transport.DirectiveSinkFunc(func(d *domain.Directive) {
			if err := ctrl.Dispatch(ctx, d); err != nil {
				log.Error("dispatch: %v", err)
			}
		}),
		log.Named("transport"),
		transport.WithConnectPolicy(retry.Linear{
			Attempts: cfg.Transport.ConnectAttempts,
			Delay:    cfg.Transport.ConnectDelay,
			OnRetry: func(attempt int, err error) {
				log.Warn("connect attempt %d failed: %v", attempt, err)
			},
		}),
		transport.WithParseFailureHandler(transport.ParseFailureFunc(func(raw string) {
			ctrl.OnParsingFailed(raw)
		})),
	)
	defer client.Close()

	// ── Wake word ────────────────────────────────────────────────
	ctrlOpts := []controller.Option{
		controller.WithAlertStore(store),
		controller.WithLocale(cfg.Locale),
		controller.WithInactivityPeriod(cfg.Activity.ReportPeriod),
		controller.WithReleasePolicy(cfg.WakeWord.ReleaseTries, cfg.WakeWord.ReleaseDelay),
	}

	var engine *wakeword.Client
	if cfg.WakeWord.Enabled {
		engine = wakeword.NewClient(cfg.WakeWord.Addr(), log.Named("wakeword"))
		if err := engine.Connect(ctx); err != nil {
			log.Error("wake word engine unavailable, talk with the prompt only: %v", err)
			engine = nil
		} else {
			defer engine.Close()
			ctrlOpts = append(ctrlOpts, controller.WithWakeWordEngine(engine))
		}
	}

	// ── Control ──────────────────────────────────────────────────
	ctrl = controller.New(client, device, capture, log.Named("controller"), ctrlOpts...)
	device.SetListener(ctrl)
	if cfg.AccessToken != "" {
		ctrl.OnAccessTokenReceived(cfg.AccessToken)
	}

	session := listen.New(ctrl, device, log.Named("listen"))
	defer session.Close()
	ctrl.AddExpectSpeechListener(session)
	ctrl.AddStopCaptureListener(session)
	ctrl.SetWakeWordHandler(session)
	device.AddSpeechStateListener(session)

	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connecting to %s: %w", cfg.Transport.URL, err)
	}
	go serve(ctx, client, log)

	if engine != nil {
		engine.SetDetectedHandler(ctrl.WakeWordDetector())
		go func() {
			if err := engine.Run(ctx); err != nil {
				log.Error("wake word engine: %v", err)
			}
		}()
	}

	done := make(chan error, 1)
	go func() { done <- ctrl.Run(ctx) }()
	defer ctrl.Close()

	if cfg.Path != "" {
		go func() {
			err := config.Watch(ctx, cfg.Path, log.Named("config"), func(next *config.Config) {
				if err := ctrl.SetLocale(next.Locale); err != nil {
					log.Error("applying locale: %v", err)
				}
				if lvl, err := logger.ParseLevel(next.Log.Level); err == nil {
					log.SetLevel(lvl)
				}
			})
			if err != nil {
				log.Error("config watch: %v", err)
			}
		}()
	}

	// ── Console ──────────────────────────────────────────────────
	ui := display.NewUI(display.StatusFunc(func() display.Status {
		return display.Status{
			Session:  strings.ToLower(session.State().String()),
			Speaking: device.IsSpeaking(),
			Playing:  device.IsPlaying(),
			Locale:   ctrl.Locale(),
			Alerts:   ctrl.Alerts(),
		}
	}))

	fmt.Println(display.RenderBanner())
	fmt.Println(display.BannerStyle.Render("  Type 'talk' to speak, 'help' for commands, 'quit' to exit."))
	fmt.Println()

	app := &console{ctrl: ctrl, session: session, device: device, ui: ui, log: log}
	go func() {
		ui.WaitReady()
		app.run(ctx)
		ui.Quit()
	}()
	go func() {
		select {
		case <-ctx.Done():
		case err := <-done:
			if err != nil {
				log.Error("controller: %v", err)
			}
		}
		ui.Quit()
	}()

	// Bubble Tea owns the terminal until quit.
	if err := ui.Run(); err != nil {
		log.Error("display: %v", err)
	}
	return nil
}

// serve keeps the transport connected until ctx is cancelled.
func serve(ctx context.Context, client *transport.Client, log *logger.Logger) {
	for {
		err := client.Run(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Error("connection lost: %v", err)
		} else {
			log.Warn("service closed the connection")
		}

		if err := client.Connect(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			log.Error("reconnect failed: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(30 * time.Second):
			}
		}
	}
}

type console struct {
	ctrl    *controller.Controller
	session *listen.Session
	device  *audio.Device
	ui      *display.UI
	log     *logger.Logger
}

func (a *console) run(ctx context.Context) {
	input := a.ui.InputChan()
	for {
		var line string
		select {
		case <-ctx.Done():
			return
		case line = <-input:
		}

		cmd, err := display.ParseCommand(line)
		if err != nil {
			a.ui.PrintHint(err.Error())
			continue
		}
		if cmd.Kind == display.CmdQuit {
			return
		}
		a.handle(ctx, cmd)
	}
}

func (a *console) handle(ctx context.Context, cmd display.Command) {
	switch cmd.Kind {
	case display.CmdTalk:
		a.session.Toggle()
	case display.CmdPlay:
		a.ctrl.HandlePlaybackAction(domain.PlaybackPlay)
	case display.CmdPause:
		a.ctrl.HandlePlaybackAction(domain.PlaybackPause)
	case display.CmdNext:
		a.ctrl.HandlePlaybackAction(domain.PlaybackNext)
	case display.CmdPrevious:
		a.ctrl.HandlePlaybackAction(domain.PlaybackPrevious)
	case display.CmdStopAlerts:
		a.ctrl.StopAlerts()
	case display.CmdVolume:
		v, err := strconv.ParseInt(cmd.Arg, 10, 64)
		if err != nil {
			a.ui.PrintUrgent(fmt.Sprintf("bad volume %q", cmd.Arg))
			return
		}
		a.ctrl.OnUserActivity()
		if err := a.device.HandleSetVolume(ctx, &domain.VolumePayload{Volume: v}); err != nil {
			a.ui.PrintUrgent(err.Error())
		}
	case display.CmdLocale:
		if err := a.ctrl.SetLocale(cmd.Arg); err != nil {
			a.ui.PrintUrgent(err.Error())
			return
		}
		a.ui.PrintInfo("locale set to " + cmd.Arg)
	case display.CmdStatus:
		a.status()
	case display.CmdHelp:
		for _, l := range strings.Split(display.HelpText, "\n") {
			a.ui.PrintInfo(l)
		}
	}
}

func (a *console) status() {
	a.ui.PrintInfo("session: " + strings.ToLower(a.session.State().String()))
	a.ui.PrintInfo("locale:  " + a.ctrl.Locale())

	vol := a.device.VolumeState()
	a.ui.PrintInfo(fmt.Sprintf("volume:  %d (muted=%v)", vol.Volume, vol.Muted))

	alerts := a.ctrl.Alerts()
	if len(alerts.AllAlerts) == 0 {
		a.ui.PrintHint("alerts:  none")
		return
	}
	for _, al := range alerts.AllAlerts {
		a.ui.PrintInfo(fmt.Sprintf("%s %s at %s", strings.ToLower(string(al.Type)), al.Token, al.ScheduledTime))
	}
}
