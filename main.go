package main

import (
	"context"
	"flag"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

func main() {
	debug := flag.Bool("debug", false, "enable debug logging")
	pprofAddr := flag.String("pprof", "", "serve pprof on this address (e.g. localhost:6060)")
	configPath := flag.String("config", "", "config file path (default: per-OS config dir)")
	follow := flag.String("follow", "", "start following a source: screen or audio")
	target := flag.String("target", "all", "command target: all, group:<label> or a device serial")
	flag.Parse()

	level := zerolog.InfoLevel
	if *debug {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).
		With().Timestamp().Logger()

	if *pprofAddr != "" {
		go func() {
			if err := http.ListenAndServe(*pprofAddr, nil); err != nil {
				log.Warn().Err(err).Msg("pprof server stopped")
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := NewApp(log, *configPath)
	if err := app.Startup(ctx); err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}

	switch *follow {
	case "":
	case "screen":
		if err := app.FollowScreen(*target); err != nil {
			log.Fatal().Err(err).Str("target", *target).Msg("cannot follow screen")
		}
	case "audio":
		if err := app.FollowAudio(*target); err != nil {
			log.Fatal().Err(err).Str("target", *target).Msg("cannot follow audio")
		}
	default:
		log.Fatal().Str("follow", *follow).Msg("unknown follow source")
	}

	<-ctx.Done()
	app.Shutdown()
}
