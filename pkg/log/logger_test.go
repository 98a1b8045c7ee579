// Structured logging tests
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package log

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type jsonLine struct {
	Timestamp string         `json:"timestamp"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields"`
}

func capture(format OutputFormat) (*Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	l := New("test")
	l.SetWriter(buf)
	l.SetFormat(format)
	l.SetLevel(DEBUG)
	l.SetColorize(false)
	return l, buf
}

func decode(t *testing.T, buf *bytes.Buffer) jsonLine {
	t.Helper()
	var line jsonLine
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line), "output: %s", buf.String())
	return line
}

func TestTextOutput(t *testing.T) {
	l, buf := capture(FormatText)

	l.Info("belt at %.1f mm", 120.0)
	out := buf.String()
	assert.Contains(t, out, "[INFO ]")
	assert.Contains(t, out, "test:")
	assert.Contains(t, out, "belt at 120.0 mm")

	// no args, no formatting
	buf.Reset()
	l.Info("belt at 100%")
	assert.Contains(t, buf.String(), "belt at 100%")

	buf.Reset()
	l.WithFields(Fields{"segment": 2, "belt": "purge_belt_stepper"}).Info("with fields")
	assert.Contains(t, buf.String(), "{belt=purge_belt_stepper, segment=2}")
}

func TestLevelFiltering(t *testing.T) {
	l, buf := capture(FormatText)
	l.SetLevel(WARN)
	assert.Equal(t, WARN, l.GetLevel())

	l.Debug("debug message")
	l.Info("info message")
	assert.Zero(t, buf.Len(), "DEBUG and INFO should be filtered")

	l.Warn("warn message")
	assert.Contains(t, buf.String(), "warn message")

	buf.Reset()
	l.Error("error message")
	assert.Contains(t, buf.String(), "[ERROR]")
}

func TestJSONOutput(t *testing.T) {
	l, buf := capture(FormatJSON)

	l.WithFields(Fields{"phase": "EXTRUDE", "length": 50.0}).Info("phase done")
	line := decode(t, buf)
	assert.Equal(t, "info", line.Level)
	assert.Equal(t, "phase done", line.Message)
	assert.NotEmpty(t, line.Timestamp)
	assert.Equal(t, "test", line.Fields["logger"])
	assert.Equal(t, "EXTRUDE", line.Fields["phase"])
	assert.Equal(t, 50.0, line.Fields["length"])

	buf.Reset()
	l.WithError(errors.New("belt stalled")).Error("cycle failed")
	assert.Equal(t, "belt stalled", decode(t, buf).Fields["error"])

	buf.Reset()
	l.WithField("a", 1).WithField("b", 2).WithFields(Fields{"c": 3}).Infof("chained %d", 3)
	line = decode(t, buf)
	assert.Equal(t, "chained 3", line.Message)
	// a, b, c and the logger prefix
	assert.Len(t, line.Fields, 4)
}

func TestChildSharesLevel(t *testing.T) {
	l, buf := capture(FormatText)
	child := l.WithPrefix("beltsync")
	child.Info("synced")
	assert.Contains(t, buf.String(), "beltsync:")

	buf.Reset()
	l.SetLevel(ERROR)
	child.Info("filtered")
	assert.Zero(t, buf.Len())
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]LogLevel{
		"DEBUG":   DEBUG,
		"debug":   DEBUG,
		"INFO":    INFO,
		"WARN":    WARN,
		"WARNING": WARN,
		"error":   ERROR,
		"invalid": INFO,
		"":        INFO,
	} {
		assert.Equal(t, want, ParseLevel(in), "ParseLevel(%q)", in)
	}
	assert.Equal(t, "WARN", WARN.String())
	assert.Equal(t, "UNKNOWN", LogLevel(99).String())
}

func TestGetLogger(t *testing.T) {
	l := GetLogger("purge")
	require.NotNil(t, l)
	assert.Equal(t, "purge", l.Prefix())
}

func TestConfigureFromEnv(t *testing.T) {
	t.Setenv("PURGEBELT_LOG_LEVEL", "error")
	t.Setenv("PURGEBELT_LOG_FORMAT", "json")

	buf := &bytes.Buffer{}
	l := New("env")
	l.SetWriter(buf)
	ConfigureFromEnv(l)

	assert.Equal(t, ERROR, l.GetLevel())
	l.Error("boom")
	assert.Equal(t, "boom", decode(t, buf).Message)
}

func BenchmarkFilteredInfo(b *testing.B) {
	l := New("bench")
	l.SetWriter(&bytes.Buffer{})
	l.SetLevel(ERROR)
	for i := 0; i < b.N; i++ {
		l.Info("filtered %d", i)
	}
}
