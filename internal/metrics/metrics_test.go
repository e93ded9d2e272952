package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandler_ExposesCollectors(t *testing.T) {
	LearnerUpdates.WithLabelValues("node").Inc()
	Selections.WithLabelValues("scored").Inc()
	Formations.WithLabelValues(Degraded(true)).Inc()
	QueueDepth.Set(3)

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	assert.Contains(t, text, `wayfinder_learner_updates_total{kind="node"}`)
	assert.Contains(t, text, `wayfinder_selections_total{reason="scored"}`)
	assert.Contains(t, text, `wayfinder_formations_total{degraded="true"}`)
	assert.Contains(t, text, "wayfinder_engine_queue_depth 3")
}
