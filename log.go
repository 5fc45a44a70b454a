package negwallet

import (
	"github.com/decred/negwallet/build"
	"github.com/decred/negwallet/coinselect"
	"github.com/decred/negwallet/gateway"
	"github.com/decred/negwallet/keykeeper"
	"github.com/decred/negwallet/txbuilder"
	"github.com/decred/negwallet/txnego"
	"github.com/decred/negwallet/txparam"
	"github.com/decred/negwallet/wallet"
	"github.com/decred/slog"
)

// replaceableLogger is a thin wrapper around a logger that is used so the
// logger can be replaced easily once the root logger is ready.
type replaceableLogger struct {
	slog.Logger
	subsystem string
}

var (
	// pkgLoggers is the list of all top-level package loggers that must
	// be replaced once SetupLoggers runs with the final root logger.
	pkgLoggers []*replaceableLogger

	addPkgLogger = func(subsystem string) *replaceableLogger {
		l := &replaceableLogger{
			Logger:    build.NewSubLogger(subsystem, nil),
			subsystem: subsystem,
		}
		pkgLoggers = append(pkgLoggers, l)
		return l
	}

	// rctrLog registers the RCTR subsystem; the Reactor (C10) itself logs
	// through the txnego package logger.
	rctrLog = addPkgLogger("RCTR")
)

// SetupLoggers initializes all package-level logger variables against root,
// following the same "replaceable placeholder, then wire once ready"
// sequencing as the rest of the dependent packages.
func SetupLoggers(root *build.RotatingLogWriter) {
	for _, l := range pkgLoggers {
		l.Logger = build.NewSubLogger(l.subsystem, root.GenSubLogger)
		SetSubLogger(root, l.subsystem, l.Logger)
	}

	AddSubLogger(root, "TXPM", txparam.UseLogger)
	AddSubLogger(root, "TXNG", txnego.UseLogger)
	AddSubLogger(root, "TXBD", txbuilder.UseLogger)
	AddSubLogger(root, "KKPR", keykeeper.UseLogger)
	AddSubLogger(root, "CSEL", coinselect.UseLogger)
	AddSubLogger(root, "GWAY", gateway.UseLogger)
	AddSubLogger(root, "WLET", wallet.UseLogger)
}

// AddSubLogger creates and registers the logger for one or more sub systems.
func AddSubLogger(root *build.RotatingLogWriter, subsystem string,
	useLoggers ...func(slog.Logger)) {

	logger := build.NewSubLogger(subsystem, root.GenSubLogger)
	SetSubLogger(root, subsystem, logger, useLoggers...)
}

// SetSubLogger registers logger for subsystem and feeds it to every
// useLogger callback supplied.
func SetSubLogger(root *build.RotatingLogWriter, subsystem string,
	logger slog.Logger, useLoggers ...func(slog.Logger)) {

	root.RegisterSubLogger(subsystem, logger)
	for _, useLogger := range useLoggers {
		useLogger(logger)
	}
}

// logClosure defers an expensive-to-compute log line until the logger
// actually decides to emit it.
type logClosure func() string

func (c logClosure) String() string {
	return c()
}

func newLogClosure(c func() string) logClosure {
	return logClosure(c)
}
