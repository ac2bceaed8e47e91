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

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
)

func TestRecordAdmissionIncrementsTheLabeledCounterAndObservesLatency(t *testing.T) {
	before := testutil.ToFloat64(AdmissionRequestsTotal.WithLabelValues("rejected", "shape_validation"))
	RecordAdmission("rejected", "shape_validation", 10*time.Millisecond)
	after := testutil.ToFloat64(AdmissionRequestsTotal.WithLabelValues("rejected", "shape_validation"))
	assert.Equal(t, before+1, after)

	metric := &dto.Metric{}
	require := AdmissionLatencySeconds
	_ = require.Write(metric)
	assert.True(t, metric.GetHistogram().GetSampleCount() > 0)
}

func TestRecordTickBudgetBreachIncrementsByStratum(t *testing.T) {
	before := testutil.ToFloat64(TickBudgetBreachesTotal.WithLabelValues("hot"))
	RecordTickBudgetBreach("hot")
	after := testutil.ToFloat64(TickBudgetBreachesTotal.WithLabelValues("hot"))
	assert.Equal(t, before+1, after)
}

func TestRecordReceiptAppendedLabelsBySuccess(t *testing.T) {
	beforeTrue := testutil.ToFloat64(ReceiptsAppendedTotal.WithLabelValues("true"))
	beforeFalse := testutil.ToFloat64(ReceiptsAppendedTotal.WithLabelValues("false"))

	RecordReceiptAppended(true)
	RecordReceiptAppended(false)

	assert.Equal(t, beforeTrue+1, testutil.ToFloat64(ReceiptsAppendedTotal.WithLabelValues("true")))
	assert.Equal(t, beforeFalse+1, testutil.ToFloat64(ReceiptsAppendedTotal.WithLabelValues("false")))
}

func TestSetAndonStatePublishesTheGauge(t *testing.T) {
	SetAndonState(2)
	assert.Equal(t, float64(2), testutil.ToFloat64(AndonState))
}

func TestRecordMAPEKCycleIncrementsTheCounter(t *testing.T) {
	before := testutil.ToFloat64(MAPEKCyclesTotal)
	RecordMAPEKCycle()
	assert.Equal(t, before+1, testutil.ToFloat64(MAPEKCyclesTotal))
}

func TestRecordProposerRateLimitRejectionIncrementsTheCounter(t *testing.T) {
	before := testutil.ToFloat64(ProposerRateLimitRejectionsTotal)
	RecordProposerRateLimitRejection()
	assert.Equal(t, before+1, testutil.ToFloat64(ProposerRateLimitRejectionsTotal))
}
