package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/exelr/roomcast"
	"github.com/exelr/roomcast/internal/config"
	"github.com/exelr/roomcast/internal/gateway"
	"github.com/exelr/roomcast/internal/logging"
	"github.com/exelr/roomcast/internal/transcript"
	"github.com/exelr/roomcast/internal/tui"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

func main() {
	var configFlag = flag.String("config", "", "path to config file")
	var replay = flag.String("replay", "", "print a transcript file and exit")
	flag.Parse()

	if *replay != "" {
		if err := printTranscript(*replay); err != nil {
			log.Fatal(err)
		}
		return
	}

	cfg, err := config.Load(config.DetermineConfigPath(*configFlag))
	if err != nil {
		log.Fatal(err)
	}
	if cfg.TUI && cfg.Log.File == "" {
		cfg.Log.File = "roomcast.log"
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Error("roomcast stopped", zap.Error(err))
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	var reg = prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	var metrics = roomcast.NewMetrics(reg)

	serializer, err := roomcast.SerializerByName(cfg.Server.Serializer)
	if err != nil {
		return err
	}
	var channelOpts = []roomcast.ChannelOption{
		roomcast.WithSerializer(serializer),
		roomcast.WithChannelLogger(logger.Named("udp")),
		roomcast.WithChannelMetrics(metrics),
		roomcast.WithOutboxSize(cfg.Server.OutboxSize),
	}
	if cfg.Transcript.Path != "" {
		rec, err := transcript.Create(cfg.Transcript.Path, logger)
		if err != nil {
			return err
		}
		defer func() { _ = rec.Close() }()
		channelOpts = append(channelOpts, roomcast.WithTap(rec))
	}
	channel, err := roomcast.DialUDP(cfg.Server.Address(), channelOpts...)
	if err != nil {
		return err
	}

	var presenters []roomcast.Presenter
	var ui *tui.ChatUI
	if cfg.TUI {
		if ui, err = tui.New(cfg.Username, cfg.Server.Address(), logger.Named("tui")); err != nil {
			_ = channel.Close()
			return err
		}
		defer ui.Close()
		presenters = append(presenters, ui)
	}
	var gw *gateway.Gateway
	if cfg.Gateway.Enabled {
		gw = gateway.New(gateway.WithLogger(logger.Named("gateway")), gateway.WithGatherer(reg))
		presenters = append(presenters, gw.Presenter())
	}

	var session = roomcast.NewSession(cfg.Username, channel,
		roomcast.WithLogger(logger),
		roomcast.WithMetrics(metrics),
		roomcast.WithPresenter(roomcast.Fanout(presenters...)),
		roomcast.WithAutoJoin(cfg.Session.AutoJoin),
		roomcast.WithOptimisticJoin(cfg.Session.OptimisticJoin),
		roomcast.WithInboxSize(cfg.Session.InboxSize),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if gw != nil {
		gw.Bind(session)
		go func() {
			if err := gw.Listen(cfg.Gateway.Address); err != nil {
				logger.Error("gateway stopped", zap.Error(err))
			}
		}()
		defer func() {
			var shutdownCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = gw.Shutdown(shutdownCtx)
		}()
	}

	if err := session.Start(ctx); err != nil {
		return err
	}
	logger.Info("session started",
		zap.String("server", cfg.Server.Address()),
		zap.String("serializer", serializer.Name()),
	)

	if ui != nil {
		ui.Bind(session)
		var uiDone = make(chan error, 1)
		go func() { uiDone <- ui.Run() }()
		select {
		case err = <-uiDone:
		case <-ctx.Done():
			ui.Stop()
			err = <-uiDone
		}
	} else {
		<-ctx.Done()
	}

	var shutdownCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if shutdownErr := session.Shutdown(shutdownCtx); shutdownErr != nil {
		logger.Warn("shutdown incomplete", zap.Error(shutdownErr))
	}
	return err
}

func printTranscript(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	entries, err := transcript.Read(f)
	if err != nil {
		return err
	}
	for _, e := range entries {
		msg, err := e.Message()
		if err != nil {
			fmt.Printf("%s %-3s %s\n", e.At.Format(time.RFC3339), e.Direction, e.Kind)
			continue
		}
		fmt.Printf("%s %-3s %s\n", e.At.Format(time.RFC3339), e.Direction, msg)
	}
	return nil
}
