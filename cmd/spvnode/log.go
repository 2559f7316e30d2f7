package main

import (
	"os"

	"github.com/decred/slog"
	"github.com/jrick/logrotate/rotator"
)

// logWriter fans every log line out to stdout and the rotating log file,
// matching the writer shape decred/slog.Backend expects.
type logWriter struct {
	rotator *rotator.Rotator
}

func (w logWriter) Write(p []byte) (int, error) {
	os.Stdout.Write(p)
	return w.rotator.Write(p)
}

// subsystem loggers, tagged to match btcd/dcrd convention.
type subsystemLoggers struct {
	peer   slog.Logger
	pool   slog.Logger
	ctrl   slog.Logger
	store  slog.Logger
	wallet slog.Logger
}

// initLogging opens logPath under a 10MiB rolling rotator and derives one
// tagged slog.Logger per subsystem from a single backend.
func initLogging(logPath string) (*subsystemLoggers, func() error, error) {
	r, err := rotator.New(logPath, 10*1024, false, 3)
	if err != nil {
		return nil, nil, err
	}
	backend := slog.NewBackend(logWriter{rotator: r})

	loggers := &subsystemLoggers{
		peer:   backend.Logger("PEER"),
		pool:   backend.Logger("POOL"),
		ctrl:   backend.Logger("CTRL"),
		store:  backend.Logger("STOR"),
		wallet: backend.Logger("WLLT"),
	}
	for _, l := range []slog.Logger{loggers.peer, loggers.pool, loggers.ctrl, loggers.store, loggers.wallet} {
		l.SetLevel(slog.LevelInfo)
	}
	return loggers, r.Close, nil
}
