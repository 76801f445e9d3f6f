// Package logx is the project logger: tagged, leveled lines on a single
// writer, with consecutive duplicates collapsed.
package logx

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/mgutz/ansi"
)

type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "dbg"
	case Info:
		return "inf"
	case Warn:
		return "wrn"
	case Error:
		return "err"
	}
	return "???"
}

var levelColors = map[Level]string{
	Debug: ansi.ColorCode("black+h"),
	Info:  ansi.ColorCode("default"),
	Warn:  ansi.ColorCode("yellow"),
	Error: ansi.ColorCode("red"),
}

type Logger struct {
	mu    sync.Mutex
	out   io.Writer
	min   Level
	color bool

	lastLine string
	repeats  int
}

func New(out io.Writer) *Logger {
	return &Logger{out: out, min: Info}
}

func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	l.out = w
	l.mu.Unlock()
}

func (l *Logger) SetLevel(min Level) {
	l.mu.Lock()
	l.min = min
	l.mu.Unlock()
}

func (l *Logger) SetColor(on bool) {
	l.mu.Lock()
	l.color = on
	l.mu.Unlock()
}

func (l *Logger) Logf(level Level, tag, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if level < l.min || l.out == nil {
		return
	}
	line := fmt.Sprintf("[%s] %s", tag, fmt.Sprintf(format, args...))
	if line == l.lastLine {
		l.repeats++
		return
	}
	if l.repeats > 0 {
		fmt.Fprintf(l.out, "%s (last line repeated %d times)\n", time.Now().Format("15:04:05.000"), l.repeats)
		l.repeats = 0
	}
	l.lastLine = line
	if l.color {
		line = levelColors[level] + line + ansi.Reset
	}
	fmt.Fprintf(l.out, "%s %s %s\n", time.Now().Format("15:04:05.000"), level, line)
}

var std = New(os.Stderr)

func SetOutput(w io.Writer) { std.SetOutput(w) }
func SetLevel(min Level)    { std.SetLevel(min) }
func SetColor(on bool)      { std.SetColor(on) }

func Debugf(tag, format string, args ...interface{}) { std.Logf(Debug, tag, format, args...) }
func Infof(tag, format string, args ...interface{})  { std.Logf(Info, tag, format, args...) }
func Warnf(tag, format string, args ...interface{})  { std.Logf(Warn, tag, format, args...) }
func Errorf(tag, format string, args ...interface{}) { std.Logf(Error, tag, format, args...) }
