// Command ircmuc-demo connects to one IRC network, auto-joins the
// channels named in its configuration file, and logs every MUC channel
// event through the standard logger (stderr).
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/dalnet/ircmuc/internal/config"
	"github.com/dalnet/ircmuc/internal/handle"
	"github.com/dalnet/ircmuc/internal/ircconn"
	"github.com/dalnet/ircmuc/internal/muc"
)

var (
	version   = "dev"
	buildDate = "unknown"
	gitCommit = "unknown"
)

func main() {
	configPath := flag.String("c", "./config.yaml", "Path to configuration file")
	showVersion := flag.Bool("v", false, "Show version information and exit")
	showVersionLong := flag.Bool("version", false, "Show version information and exit")
	flag.Parse()

	if *showVersion || *showVersionLong {
		fmt.Printf("ircmuc-demo version %s\n", version)
		fmt.Printf("Built: %s\n", buildDate)
		fmt.Printf("Commit: %s\n", gitCommit)
		os.Exit(0)
	}

	run(*configPath)
}

func run(configPath string) {
	if !filepath.IsAbs(configPath) {
		if wd, err := os.Getwd(); err == nil {
			configPath = filepath.Join(wd, configPath)
		}
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	reg := handle.NewRegistry()

	mgr := ircconn.NewManager(ircconn.Settings{
		Server:    cfg.Server,
		Port:      cfg.Port,
		Nick:      cfg.Nick,
		Alternate: cfg.Alternate,
		NickPass:  cfg.NickPass,
		User:      cfg.Username,
		RealName:  cfg.IRCName,
		Password:  cfg.ServerPass,
		UseTLS:    cfg.UseTLS,
		MaxMsgLen: cfg.MaxMsgLen,
		OperNick:  cfg.OperNick,
		OperPass:  cfg.OperPass,
	}, reg, log.Default(), func(channelName string) muc.EventSink {
		return &logSink{channel: channelName, reg: reg}
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Printf("received signal %v, shutting down", sig)
		mgr.Quit("shutting down")
		os.Exit(0)
	}()

	log.Printf("connecting to %s:%d...", cfg.Server, cfg.Port)
	if err := mgr.Connect(); err != nil {
		log.Fatalf("failed to connect: %v", err)
	}

	for _, ch := range cfg.Channels {
		log.Printf("joining %s", ch.Name)
		mgr.JoinChannel(ch.Name, ch.Key)
	}

	log.Println("connected, entering main loop...")
	mgr.Loop()
}
