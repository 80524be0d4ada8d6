package main

import (
	"context"
	"flag"
	"log/slog"
	"os"

	"github.com/dm-vev/adamant/server"
	"github.com/dm-vev/adamant/server/console"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to the TOML or YAML configuration file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	uc, err := server.ReadUserConfig(*configPath)
	if err != nil {
		log.Error("read config: " + err.Error())
		os.Exit(1)
	}
	conf, err := uc.Config(log)
	if err != nil {
		log.Error("load config: " + err.Error())
		os.Exit(1)
	}

	srv := conf.New()
	srv.CloseOnProgramEnd()
	if err := srv.Listen(); err != nil {
		log.Error(err.Error())
		_ = srv.Close()
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go console.New(srv, log).Run(ctx)
	srv.Wait()
}
