package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	flag "github.com/spf13/pflag"

	"hooklog/internal/app"
	"hooklog/internal/config"
	kit "hooklog/internal/transport"
	logx "hooklog/pkg/logx"
)

const stopTimeout = 10 * time.Second

func main() {
	var (
		cfgPath    string
		level      string
		stdin      bool
		stdinLevel string
		check      bool
		slogLevel  string
	)
	flag.StringVarP(&cfgPath, "config", "c", "./hooklog.yaml", "path to config (json, jsonc or yaml)")
	flag.StringVar(&level, "level", "", "override logging.level")
	flag.BoolVar(&stdin, "stdin", false, "forward each stdin line as a record; exit on EOF")
	flag.StringVar(&stdinLevel, "stdin-level", "info", "severity of records read from stdin")
	flag.BoolVar(&check, "check", false, "validate the config and exit")
	flag.StringVar(&slogLevel, "slog", "", "forward the process log/slog default at or above this level (debug, info, warn, error); empty disables")
	flag.Parse()

	var slogMin *slog.Level
	if slogLevel != "" {
		var lvl slog.Level
		if err := lvl.UnmarshalText([]byte(slogLevel)); err != nil {
			fmt.Fprintln(os.Stderr, "invalid --slog:", err)
			os.Exit(2)
		}
		slogMin = &lvl
	}

	if check {
		if _, err := config.NewManager(cfgPath).Parse(); err != nil {
			fmt.Fprintln(os.Stderr, "invalid config:", err)
			os.Exit(1)
		}
		fmt.Println("config ok:", cfgPath)
		return
	}

	os.Exit(run(cfgPath, level, stdin, kit.ParseSeverity(stdinLevel, kit.SeverityInfo), slogMin))
}

func run(cfgPath, level string, stdin bool, sev kit.Severity, slogMin *slog.Level) int {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(cfgPath, app.WithLevel(level))
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		return 1
	}
	if err := a.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		return 1
	}
	if slogMin != nil {
		prev := slog.Default()
		slog.SetDefault(slog.New(a.SlogHandler(*slogMin)))
		defer slog.SetDefault(prev)
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	eof := make(chan struct{})
	if stdin {
		go func() {
			defer close(eof)
			forward(os.Stdin, a, sev)
		}()
	}

	var reason app.StopReason
	select {
	case sig := <-sigs:
		reason = app.StopSIGTERM
		if sig == os.Interrupt {
			reason = app.StopSIGINT
		}
	case <-eof:
		reason = app.StopInputEOF
	case <-a.Done():
		reason = app.StopFatalError
	}
	cause := a.Err()

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
	defer stopCancel()
	if err := a.Stop(stopCtx, reason); err != nil {
		fmt.Fprintln(os.Stderr, "stop:", err)
		return 1
	}
	if cause != nil {
		fmt.Fprintln(os.Stderr, "fatal:", cause)
		return 1
	}
	return 0
}

// forward offers every non-empty line of r to the dispatcher. Lines rejected
// by a full queue are counted as drops by the dispatcher.
func forward(r io.Reader, a *app.App, sev kit.Severity) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64<<10), 1<<20)
	for sc.Scan() {
		if line := sc.Text(); line != "" {
			a.Forward(sev, line)
		}
	}
	if err := sc.Err(); err != nil {
		a.Logger().Local().Warn("stdin read failed", logx.Err(err))
	}
}
