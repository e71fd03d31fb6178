package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/caronc/ircnotify/internal/config"
	"github.com/caronc/ircnotify/internal/irc"
	"github.com/caronc/ircnotify/internal/notify"
)

// Version information - set at build time via ldflags
var (
	version   = "dev"
	buildDate = "unknown"
	gitCommit = "unknown"
)

func main() {
	configPath := flag.String("c", "./config.yaml", "Path to configuration file")
	title := flag.String("t", "", "Notification title")
	message := flag.String("m", "", "Notification body (reads stdin when empty)")
	showVersion := flag.Bool("v", false, "Show version information and exit")
	showVersionLong := flag.Bool("version", false, "Show version information and exit")
	flag.Parse()

	if *showVersion || *showVersionLong {
		fmt.Printf("ircnotify version %s\n", version)
		fmt.Printf("Built: %s\n", buildDate)
		fmt.Printf("Commit: %s\n", gitCommit)
		os.Exit(0)
	}

	if err := run(*configPath, *title, *message); err != nil {
		log.Errorf("%v", err)
		os.Exit(1)
	}
}

func run(configPath, title, body string) error {
	// Make config path absolute
	if !filepath.IsAbs(configPath) {
		wd, _ := os.Getwd()
		configPath = filepath.Join(wd, configPath)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	log.SetLevel(level)

	mode, err := irc.ParseAuthMode(cfg.AuthMode)
	if err != nil {
		return err
	}

	if body == "" {
		data, err := readStdin()
		if err != nil {
			return fmt.Errorf("failed to read message from stdin: %w", err)
		}
		body = data
	}
	if body == "" {
		return fmt.Errorf("nothing to send; use -m or pipe a message on stdin")
	}

	svc, err := notify.New(notify.Options{
		Host:       cfg.Server,
		Port:       cfg.Port,
		Secure:     cfg.Secure,
		SkipVerify: cfg.SkipVerify,
		Nickname:   cfg.Nick,
		FullName:   cfg.FullName,
		Password:   cfg.Password,
		AuthMode:   mode,
		Join:       cfg.JoinChannels(),
		Targets:    cfg.Targets,
		Timeout:    cfg.Timeout(),
		Retries:    cfg.Retries,
	})
	if err != nil {
		return err
	}

	log.Infof("Notifying %s via %s", cfg.Targets, cfg.Server)
	return svc.Send(title, body)
}

func readStdin() (string, error) {
	stat, err := os.Stdin.Stat()
	if err != nil || stat.Mode()&os.ModeCharDevice != 0 {
		// Interactive terminal; nothing piped.
		return "", nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(data), "\r\n"), nil
}
