// Package logging points the standard logger at the auditor's log sinks: a
// size-rotated local file, the central syslog server, and stderr when a
// person is watching.
package logging

import (
	"fmt"
	"io"
	"log"
	"log/syslog"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"github.com/mattn/go-isatty"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options selects the log sinks.
type Options struct {
	Name         string // program name, used for the file name and syslog tag
	Dir          string // directory of the rotated log file, empty to disable
	MaxSizeMB    int
	MaxBackups   int
	SyslogServer string // empty to disable
	SyslogPort   int
	Stderr       bool // also log to stderr even when it is not a terminal
}

// Setup installs the sinks on the standard logger and returns a function that
// releases them.
func Setup(opts Options) (func(), error) {
	var writers []io.Writer
	var closers []io.Closer

	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		file := &lumberjack.Logger{
			Filename:   filepath.Join(opts.Dir, opts.Name+".log"),
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
		}
		writers = append(writers, file)
		closers = append(closers, file)
	}

	if opts.SyslogServer != "" {
		port := opts.SyslogPort
		if port == 0 {
			port = 514
		}
		addr := net.JoinHostPort(opts.SyslogServer, strconv.Itoa(port))
		w, err := syslog.Dial("udp", addr, syslog.LOG_INFO|syslog.LOG_LOCAL0, opts.Name)
		if err != nil {
			// Local logging still works; report and carry on.
			log.Printf("[WARN] Failed to connect to syslog server %s: %v", addr, err)
		} else {
			writers = append(writers, w)
			closers = append(closers, w)
		}
	}

	if opts.Stderr || isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()) || len(writers) == 0 {
		writers = append(writers, os.Stderr)
	}

	log.SetOutput(io.MultiWriter(writers...))
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.SetPrefix(opts.Name + ": ")

	return func() {
		log.SetOutput(os.Stderr)
		for _, c := range closers {
			_ = c.Close() //nolint:errcheck // Best effort
		}
	}, nil
}
