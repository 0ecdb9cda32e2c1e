package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/competition-discovery/internal/discovery"
	"github.com/JakeFAU/competition-discovery/internal/progress"
)

func runBatch() []progress.Event {
	now := time.Unix(1_700_000_000, 0)
	return []progress.Event{
		{SessionID: "s1", TS: now, Stage: progress.StageRunStart},
		{
			SessionID: "s1", TS: now, Stage: progress.StageProbeDone,
			Key: "A/2018/1/default", Status: discovery.StatusConfirmedExists,
			HTTPStatus: 200, Bytes: 2048, Dur: 300 * time.Millisecond,
		},
		{
			SessionID: "s1", TS: now, Stage: progress.StageProbeDone,
			Key: "A/2018/2/default", Status: discovery.StatusTransientError,
			Note: "timeout",
		},
		{SessionID: "s1", TS: now, Stage: progress.StageRunDone, State: discovery.SessionCompleted, Dur: time.Minute},
	}
}

func TestPrometheusSinkRecordsRunAndProbes(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	require.NoError(t, sink.Consume(context.Background(), runBatch()))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsStarted))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsActive))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("completed")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.probes.WithLabelValues("confirmed_exists", "200")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.probes.WithLabelValues("transient_error", "none")))
	require.InDelta(t, 2048.0, testutil.ToFloat64(sink.probeBytes), 1e-9)
	require.Equal(t, 1, testutil.CollectAndCount(sink.probeDuration, "discovery_probe_duration_seconds"))

	_, err = NewPrometheusSink(reg)
	require.Error(t, err, "duplicate registration must fail")
	require.NoError(t, sink.Close(context.Background()))
}

func TestLogSinkLevels(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.DebugLevel)
	sink := NewLogSink(zap.New(core))
	batch := append(runBatch(), progress.Event{
		SessionID: "s1", TS: time.Now(), Stage: progress.StageRunError,
		State: discovery.SessionAuthFailed, Note: "credential rejected",
	})
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1, logs.FilterMessage("run started").Len())
	require.Equal(t, 2, logs.FilterMessage("probe done").Len())
	require.Equal(t, 1, logs.FilterMessage("run done").Len())
	errs := logs.FilterMessage("run ended with error").All()
	require.Len(t, errs, 1)
	require.Equal(t, zap.WarnLevel, errs[0].Level)
	require.NoError(t, sink.Close(context.Background()))
}
