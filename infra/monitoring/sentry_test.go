package monitoring

import (
	"testing"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/routesync/config"
	"github.com/kilianp07/routesync/core/errs"
	coremon "github.com/kilianp07/routesync/core/monitoring"
)

func TestNewSentryMonitorWithoutDSN(t *testing.T) {
	m, err := NewSentryMonitor(config.SentryConfig{})
	require.NoError(t, err)
	assert.Equal(t, coremon.NopMonitor{}, m)
}

func TestCaptureTagsKind(t *testing.T) {
	var events []*sentry.Event
	client, err := sentry.NewClient(sentry.ClientOptions{
		BeforeSend: func(e *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			events = append(events, e)
			return nil
		},
	})
	require.NoError(t, err)
	m := &sentryMonitor{hub: sentry.NewHub(client, sentry.NewScope())}

	m.CaptureException(errs.E(errs.DownstreamDegraded, "kpi sink down"), map[string]string{"component": "kpi_accumulator"})
	m.CaptureException(nil, nil)

	require.Len(t, events, 1)
	assert.Equal(t, "DownstreamDegraded", events[0].Tags["error_kind"])
	assert.Equal(t, "kpi_accumulator", events[0].Tags["component"])
}
