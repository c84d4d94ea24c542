package main

import (
	"io"
	"os"
	"strings"

	glog "github.com/goliatone/go-logger/glog"
)

// newLogger builds the JSON logger handed to the engine as both logger and
// provider. Fatal only logs so runtime closers still run on the way out.
func newLogger(w io.Writer, level string) *glog.BaseLogger {
	if w == nil {
		w = os.Stderr
	}
	return glog.NewLogger(
		glog.WithName("billingsync"),
		glog.WithLevel(strings.TrimSpace(level)),
		glog.WithWriter(w),
		glog.WithLoggerTypeJSON(),
		glog.WithFatalBehavior(glog.FatalBehaviorLogOnly),
	)
}
