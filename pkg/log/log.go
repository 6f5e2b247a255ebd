// Package log provides a small leveled logger built directly on the
// standard library's log.Logger. There is one logger per level so that
// any level can be silenced independently by swapping its writer for
// io.Discard; no level is ever completely compiled out.
package log

import (
	"fmt"
	"io"
	"log"
	"os"
)

var withDate bool

var (
	debugW io.Writer = os.Stderr
	infoW  io.Writer = os.Stderr
	warnW  io.Writer = os.Stderr
	errW   io.Writer = os.Stderr
)

var (
	debugLog = log.New(debugW, "[DEBUG] ", 0)
	infoLog  = log.New(infoW, "[INFO]  ", 0)
	warnLog  = log.New(warnW, "[WARN]  ", log.Lshortfile)
	errLog   = log.New(errW, "[ERROR] ", log.Llongfile)
)

// SetLevel silences every logger below lvl by routing it to io.Discard.
// Valid values, from quietest to loudest: "err", "warn", "info", "debug".
func SetLevel(lvl string) {
	switch lvl {
	case "err", "fatal":
		warnW = io.Discard
		fallthrough
	case "warn":
		infoW = io.Discard
		fallthrough
	case "info":
		debugW = io.Discard
	case "debug":
	default:
		fmt.Fprintf(os.Stderr, "pkg/log: unknown level %q, defaulting to debug\n", lvl)
	}
	rebuild()
}

// SetWithDate toggles a date/time prefix on every log line. Off by
// default because most deployments run under a supervisor that already
// timestamps stdout/stderr.
func SetWithDate(v bool) {
	withDate = v
	rebuild()
}

func rebuild() {
	extra := 0
	if withDate {
		extra = log.LstdFlags
	}
	debugLog = log.New(debugW, "[DEBUG] ", extra)
	infoLog = log.New(infoW, "[INFO]  ", extra)
	warnLog = log.New(warnW, "[WARN]  ", extra|log.Lshortfile)
	errLog = log.New(errW, "[ERROR] ", extra|log.Llongfile)
}

func Debug(v ...any) {
	if debugW != io.Discard {
		debugLog.Output(2, fmt.Sprint(v...))
	}
}

func Debugf(format string, v ...any) {
	if debugW != io.Discard {
		debugLog.Output(2, fmt.Sprintf(format, v...))
	}
}

func Info(v ...any) {
	if infoW != io.Discard {
		infoLog.Output(2, fmt.Sprint(v...))
	}
}

func Infof(format string, v ...any) {
	if infoW != io.Discard {
		infoLog.Output(2, fmt.Sprintf(format, v...))
	}
}

func Warn(v ...any) {
	if warnW != io.Discard {
		warnLog.Output(2, fmt.Sprint(v...))
	}
}

func Warnf(format string, v ...any) {
	if warnW != io.Discard {
		warnLog.Output(2, fmt.Sprintf(format, v...))
	}
}

func Error(v ...any) {
	if errW != io.Discard {
		errLog.Output(2, fmt.Sprint(v...))
	}
}

func Errorf(format string, v ...any) {
	if errW != io.Discard {
		errLog.Output(2, fmt.Sprintf(format, v...))
	}
}

// Fatal logs at error level then terminates the process. Reserved for
// startup failures in cmd/storeserver; library code must never call it.
func Fatal(v ...any) {
	Error(v...)
	os.Exit(1)
}

func Fatalf(format string, v ...any) {
	Errorf(format, v...)
	os.Exit(1)
}
