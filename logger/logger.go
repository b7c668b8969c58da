// Copyright 2015 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/btdht/mldht/logger/glog"
)

// LogLevel is the verbosity of a single log line, compatible with glog.Level
// so callers can write glog.V(logger.Info) directly.
type LogLevel = glog.Level

const (
	Silence LogLevel = iota
	Error
	Warn
	Info
	Debug
	Detail
)

// LogSystem is a backend that consumes formatted log lines.
type LogSystem interface {
	LogPrint(level LogLevel, msg string)
}

var (
	systemsMu sync.Mutex
	systems   []LogSystem
)

// AddLogSystem registers a LogSystem as an additional output sink.
func AddLogSystem(sys LogSystem) {
	systemsMu.Lock()
	systems = append(systems, sys)
	systemsMu.Unlock()
}

func broadcast(level LogLevel, msg string) {
	systemsMu.Lock()
	defer systemsMu.Unlock()
	for _, sys := range systems {
		sys.LogPrint(level, msg)
	}
}

type stdLogSystem struct {
	w        io.Writer
	flags    int
	minLevel LogLevel
	mu       sync.Mutex
}

// NewStdLogSystem returns a LogSystem writing plain lines to w, dropping
// anything below minLevel.
func NewStdLogSystem(w io.Writer, flags int, minLevel LogLevel) LogSystem {
	return &stdLogSystem{w: w, flags: flags, minLevel: minLevel}
}

func (s *stdLogSystem) LogPrint(level LogLevel, msg string) {
	if level > s.minLevel {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.w, msg)
}

type mlogSystem struct {
	stdLogSystem
	withTimestamp bool
}

// NewMLogSystem returns a LogSystem tailored to emitting mlog lines: one
// event per line, optionally timestamped.
func NewMLogSystem(w io.Writer, flags int, minLevel LogLevel, withTimestamp bool) LogSystem {
	return &mlogSystem{stdLogSystem: stdLogSystem{w: w, flags: flags, minLevel: minLevel}, withTimestamp: withTimestamp}
}

func (s *mlogSystem) LogPrint(level LogLevel, msg string) {
	if level > s.minLevel {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.withTimestamp {
		fmt.Fprintf(s.w, "%s %s\n", time.Now().UTC().Format(time.RFC3339Nano), msg)
		return
	}
	fmt.Fprintln(s.w, msg)
}

type jsonLogSystem struct {
	w  io.Writer
	mu sync.Mutex
}

// NewJsonLogSystem returns a LogSystem that wraps each line as a JSON object.
func NewJsonLogSystem(w io.Writer) LogSystem {
	return &jsonLogSystem{w: w}
}

func (s *jsonLogSystem) LogPrint(level LogLevel, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	enc := json.NewEncoder(s.w)
	enc.Encode(map[string]interface{}{
		"ts":    time.Now().UTC(),
		"level": int(level),
		"msg":   msg,
	})
}

// Logger is a named emitter of mlog lines, one per mlogComponent.
type Logger struct {
	name string
}

// NewLogger returns a Logger tagged with name, used as the Receiver prefix
// for every line it sends.
func NewLogger(name string) *Logger {
	return &Logger{name: name}
}

// Sendf formats and dispatches a log line to every registered LogSystem at
// Info level. calldepth is accepted for interface parity with glog but is
// not otherwise used since mlog lines are pre-formatted by the caller.
func (l *Logger) Sendf(calldepth int, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	broadcast(Info, "["+l.name+"] "+msg)
}

// Infoln implements the small subset of the stdlib-logger surface mlog_file.go uses.
func (l *Logger) Infoln(args ...interface{}) {
	broadcast(Info, "["+l.name+"] "+fmt.Sprintln(args...))
}
