package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgnsrekt/tabgain/internal/api"
	"github.com/dgnsrekt/tabgain/internal/audio"
	"github.com/dgnsrekt/tabgain/internal/audit"
	"github.com/dgnsrekt/tabgain/internal/browser"
	"github.com/dgnsrekt/tabgain/internal/bus"
	"github.com/dgnsrekt/tabgain/internal/config"
	"github.com/dgnsrekt/tabgain/internal/coordinator"
	"github.com/dgnsrekt/tabgain/internal/netutil"
	"github.com/dgnsrekt/tabgain/internal/notify"
	"github.com/dgnsrekt/tabgain/internal/processor"
	"github.com/dgnsrekt/tabgain/internal/rules"
	"github.com/dgnsrekt/tabgain/internal/service"
	"github.com/dgnsrekt/tabgain/internal/tabcap"
	"github.com/dgnsrekt/tabgain/internal/types"
	"github.com/gopxl/beep/v2"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if err := setupLogger(cfg.LogLevel, cfg.LogFile); err != nil {
		_, _ = io.WriteString(os.Stderr, "logger setup failed: "+err.Error()+"\n")
		os.Exit(1)
	}

	slog.Info("config loaded",
		"bind_addr", cfg.BindAddr,
		"cdp_url", cfg.CDPURL(),
		"rules_path", cfg.RulesPath,
		"sample_rate", cfg.SampleRate,
		"launch_browser", cfg.LaunchBrowser,
		"log_level", cfg.LogLevel,
		"log_file", cfg.LogFile,
	)

	if cfg.LaunchBrowser {
		launcher := browser.NewLauncher(browser.Config{
			CDPAddress: cfg.CDPAddress,
			CDPPort:    cfg.CDPPort,
			ProfileDir: cfg.ProfileDir,
		})
		if err := launcher.Launch(context.Background()); err != nil {
			slog.Error("failed to launch browser", "error", err)
			os.Exit(1)
		}
		defer launcher.Stop()
	}

	bindAddr, err := netutil.SelectBindAddr(cfg.BindAddr, cfg.PortCandidates, cfg.PortAutoFallback)
	if err != nil {
		slog.Error("failed to select bind address", "preferred", cfg.BindAddr, "error", err)
		os.Exit(1)
	}

	auditLog, err := audit.NewWriter(cfg.AuditDir, cfg.AuditBufferSize, cfg.AuditMaxSizeMB)
	if err != nil {
		slog.Error("failed to open audit log", "dir", cfg.AuditDir, "error", err)
		os.Exit(1)
	}
	defer func() { _ = auditLog.Close() }()

	ruleStore, err := rules.NewStore(cfg.RulesPath)
	if err != nil {
		slog.Error("failed to open rules store", "path", cfg.RulesPath, "error", err)
		os.Exit(1)
	}
	if err := ruleStore.Watch(); err != nil {
		slog.Warn("rules file watch unavailable, external edits need a restart", "error", err)
	}
	defer func() { _ = ruleStore.Close() }()

	tabs := tabcap.NewClient(cfg.CDPURL())

	// The audio pipeline starts lazily on the first capture; until then no
	// speaker device is opened.
	format := beep.Format{
		SampleRate:  beep.SampleRate(cfg.SampleRate),
		NumChannels: 2,
		Precision:   2,
	}
	tau := time.Duration(cfg.RampTimeMS) * time.Millisecond
	host := processor.NewHost(func() (*bus.Inbox, error) {
		output, err := audio.NewSpeakerOutput(format.SampleRate, time.Duration(cfg.SpeakerBufMS)*time.Millisecond)
		if err != nil {
			return nil, err
		}
		provider := &audio.PipeProvider{Dir: cfg.CapturePipeDir, Format: format}
		inbox := bus.NewInbox("processor", 64)
		proc := processor.New(inbox, provider, output.NewSink, tau)
		go proc.Run()
		return inbox, nil
	})

	notifier := notify.New(cfg.NotifyEndpoint, nil)

	coordInbox := bus.NewInbox("coordinator", 64)
	coord := coordinator.New(coordInbox, host, tabs, coordinator.Options{
		Recorder: auditLog,
		OnCaptureDenied: func(tab types.TabID, err error) {
			info, _ := tabs.Lookup(tab)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if nerr := notifier.CaptureDenied(ctx, tab, info.URL); nerr != nil {
				slog.Warn("capture denial alert failed", "tab", tab, "error", nerr)
			}
		},
	})
	go coord.Run()
	defer coordInbox.Close()

	tabs.OnTabClosed(func(id types.TabID) {
		coordInbox.Send(bus.TabClosed{Target: id})
	})
	if err := tabs.Connect(context.Background()); err != nil {
		slog.Error("failed to connect CDP", "cdp_url", cfg.CDPURL(), "error", err)
		os.Exit(1)
	}
	defer func() { _ = tabs.Close() }()

	svc := service.New(coordInbox, tabs, ruleStore)
	h := api.NewServer(svc)

	srv := &http.Server{Addr: bindAddr, Handler: h}

	go func() {
		slog.Info("tabgaind listening", "addr", bindAddr, "docs", "http://"+bindAddr+"/docs")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown failed", "error", err)
	}

	if inbox, ok := host.Started(); ok {
		inbox.Close()
	}
}

func setupLogger(level, filename string) error {
	if err := os.MkdirAll("logs", 0o755); err != nil {
		return err
	}

	logWriter := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    25,
		MaxBackups: 10,
		MaxAge:     14,
		Compress:   true,
	}

	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	h := slog.NewTextHandler(io.MultiWriter(os.Stdout, logWriter), &slog.HandlerOptions{Level: slogLevel})
	slog.SetDefault(slog.New(h))
	return nil
}
