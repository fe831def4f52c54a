// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultLoggerDoesNotPanic(t *testing.T) { //nolint:paralleltest // mutates singleton
	assert.NotPanics(t, func() {
		Info("message before Initialize")
	})
}

func TestInitializeRespectsDebugSetting(t *testing.T) { //nolint:paralleltest // mutates singleton
	viper.Set("debug", true)
	t.Cleanup(func() { viper.Set("debug", false) })

	Initialize()
	t.Cleanup(Initialize)

	var buf bytes.Buffer
	Set(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	Debugw("debug message", "key", "value")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "debug message", entry["msg"])
	assert.Equal(t, "value", entry["key"])
}

func TestSugaredHelpers(t *testing.T) { //nolint:paralleltest // mutates singleton
	var buf bytes.Buffer
	Set(slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(Initialize)

	Infof("hello %s", "world")
	Warnw("warned", "count", 3)
	Errorw("failed", "error", "boom")

	out := buf.String()
	assert.Contains(t, out, "hello world")
	assert.Contains(t, out, "warned")
	assert.Contains(t, out, "boom")
}
