package monitoring

import (
	"fmt"
	"log"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Level orders the tagged helpers below.
type Level int

const (
	LevelStatus Level = iota
	LevelInfo
	LevelWarning
)

func (l Level) String() string {
	switch l {
	case LevelStatus:
		return "STATUS"
	case LevelInfo:
		return "INFO"
	case LevelWarning:
		return "WARNING"
	default:
		return fmt.Sprintf("LEVEL(%d)", int(l))
	}
}

// Tags used across the sweep.
const (
	TagEvolution      = "evolution"
	TagDigDeep        = "digdeep"
	TagProcessBundles = "processBundles"
	TagFirstState     = "firstState"
	TagGenerator      = "generator"
	TagStore          = "store"
	TagAPI            = "api"
)

// minLevel drops messages below it. Not goroutine safe; set during startup.
var minLevel = LevelStatus

// SetLevel sets the lowest level that reaches Logf.
func SetLevel(l Level) { minLevel = l }

func logTagged(l Level, tag, format string, v ...interface{}) {
	if l < minLevel {
		return
	}
	Logf("[%s] [%s] %s", l, tag, fmt.Sprintf(format, v...))
}

// Statusf logs progress of a long running sweep.
func Statusf(tag, format string, v ...interface{}) { logTagged(LevelStatus, tag, format, v...) }

// Infof logs details useful when tracing a single sweep.
func Infof(tag, format string, v ...interface{}) { logTagged(LevelInfo, tag, format, v...) }

// Warnf logs recoverable problems such as unresolved merges.
func Warnf(tag, format string, v ...interface{}) { logTagged(LevelWarning, tag, format, v...) }
