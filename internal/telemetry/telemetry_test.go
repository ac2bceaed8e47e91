/*
Copyright 2025 Jordi Gil.

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

package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithNoOTLPEndpointReturnsNoOpProviders(t *testing.T) {
	providers, err := New(context.Background(), Config{ServiceName: "knhk-kernel", LogLevel: "info", LogFormat: "json"})
	require.NoError(t, err)
	assert.NotNil(t, providers.TracerProvider)
	assert.NotNil(t, providers.MeterProvider)
	assert.NoError(t, providers.Shutdown(context.Background()))
}

func TestNewBuildsAConsoleLoggerWithoutError(t *testing.T) {
	providers, err := New(context.Background(), Config{LogLevel: "debug", LogFormat: "console"})
	require.NoError(t, err)
	providers.Log.Info("telemetry smoke test")
}

func TestAdmissionSpanAndExecutorSpanStartAndEndCleanly(t *testing.T) {
	providers, err := New(context.Background(), Config{})
	require.NoError(t, err)

	_, span := AdmissionSpan(context.Background(), providers.TracerProvider)
	span.End()

	_, span = ExecutorSpan(context.Background(), providers.TracerProvider)
	span.End()
}
