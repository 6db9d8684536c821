package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterIsIdempotent(t *testing.T) {
	assert.NotPanics(t, func() {
		Register()
		Register()
	})
}

func TestHandlerExposesCollectors(t *testing.T) {
	ImagesStoredTotal.Inc()
	WebhooksTotal.WithLabelValues("accepted").Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "traffic_images_stored_total")
	assert.Contains(t, string(body), `traffic_webhooks_total{outcome="accepted"}`)
}

func TestCounterVecLabels(t *testing.T) {
	CameraErrorsTotal.WithLabelValues("north", "timeout").Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Contains(t, rec.Body.String(), `traffic_camera_errors_total{arm="north",kind="timeout"}`)
}

func TestObserveLiveClients(t *testing.T) {
	n := 3
	ObserveLiveClients(func() int { return n })
	ObserveLiveClients(func() int { return 99 })

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "traffic_live_clients 3")
}
