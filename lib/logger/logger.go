/*
Copyright 2024 Gravitational, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package logger

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/gravitational/trace"
	log "github.com/sirupsen/logrus"
)

// Config holds the logging section of the configuration file.
type Config struct {
	// Output is "stdout", "stderr" or a file path.
	Output string `toml:"output"`
	// Severity is one of logrus level names.
	Severity string `toml:"severity"`
	// Format is "text" or "json".
	Format string `toml:"format"`
}

type contextKey struct{}

// Fields is a logger bound to a set of fields.
type Fields = log.FieldLogger

var extraFields = []string{log.FieldKeyLevel, log.FieldKeyTime, log.FieldKeyMsg}

// Init sets up logging for a typical CLI scenario until the configuration
// file is parsed.
func Init() {
	log.SetFormatter(&log.TextFormatter{
		DisableTimestamp: true,
		SortingFunc:      sortFields,
	})
	log.SetOutput(os.Stderr)
	log.SetLevel(log.WarnLevel)
}

// Setup applies the logging configuration to the standard logger.
func Setup(conf Config) error {
	var out io.Writer
	switch conf.Output {
	case "", "stderr", "error", "2":
		out = os.Stderr
	case "stdout", "out", "1":
		out = os.Stdout
	default:
		// assume it's a file path:
		logFile, err := os.OpenFile(conf.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return trace.Wrap(err, "failed to create the log file")
		}
		out = logFile
	}
	log.SetOutput(out)

	switch strings.ToLower(conf.Format) {
	case "", "text":
		log.SetFormatter(&log.TextFormatter{SortingFunc: sortFields})
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	default:
		return trace.BadParameter("unsupported log format %q", conf.Format)
	}

	if conf.Severity == "" {
		log.SetLevel(log.InfoLevel)
		return nil
	}
	level, err := log.ParseLevel(conf.Severity)
	if err != nil {
		return trace.BadParameter("unsupported logger severity: %q", conf.Severity)
	}
	log.SetLevel(level)
	return nil
}

// Standard returns the process-wide logger.
func Standard() Fields {
	return log.StandardLogger()
}

// WithLogger returns a context carrying the given logger.
func WithLogger(ctx context.Context, logger Fields) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// WithField returns a context carrying a logger with an additional field.
func WithField(ctx context.Context, key string, value interface{}) (context.Context, Fields) {
	logger := Get(ctx).WithField(key, value)
	return WithLogger(ctx, logger), logger
}

// WithFields returns a context carrying a logger with additional fields.
func WithFields(ctx context.Context, fields log.Fields) (context.Context, Fields) {
	logger := Get(ctx).WithFields(fields)
	return WithLogger(ctx, logger), logger
}

// Get returns the logger stored in the context or the standard one.
func Get(ctx context.Context) Fields {
	if logger, ok := ctx.Value(contextKey{}).(Fields); ok && logger != nil {
		return logger
	}
	return Standard()
}

// sortFields keeps level, time and message first.
func sortFields(keys []string) {
	rank := func(key string) int {
		for i, extra := range extraFields {
			if key == extra {
				return i
			}
		}
		return len(extraFields)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0; j-- {
			ri, rj := rank(keys[j-1]), rank(keys[j])
			if ri < rj || (ri == rj && keys[j-1] <= keys[j]) {
				break
			}
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
}
