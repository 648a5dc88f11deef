package clients

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestResponseMessage(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"message field", http.StatusBadRequest, `{"message":"bad isbn"}`, "bad isbn"},
		{"error string", http.StatusBadRequest, `{"error":"bad isbn"}`, "bad isbn"},
		{"error object", http.StatusBadRequest, `{"error":{"code":"X","message":"bad isbn"}}`, "bad isbn"},
		{"plain text", http.StatusBadGateway, "  gateway down\n", "gateway down"},
		{"json without message", http.StatusConflict, `{"code":1}`, "Conflict"},
		{"empty", http.StatusServiceUnavailable, "", "Service Unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &response{status: tt.status, body: []byte(tt.body)}
			assert.Equal(t, tt.want, r.message())
		})
	}
}

func TestResponseEmpty(t *testing.T) {
	assert.True(t, (&response{body: []byte(" \n\t")}).empty())
	assert.False(t, (&response{body: []byte("{}")}).empty())
}

func TestNewTransportTrimsBaseURL(t *testing.T) {
	tr, err := newTransport(" http://library.example/ ")
	require.NoError(t, err)
	assert.Equal(t, "http://library.example", tr.baseURL)
}

func TestExecCountsCallsByOutcome(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	srv, _ := fakeService(t, http.StatusNotFound, `{"message":"no such library"}`)
	c := newCirculationClient(t, srv.URL, WithMeterProvider(mp))

	_, _ = c.ListHoldings(context.Background(), libraryID)
	_, _ = c.ListHoldings(context.Background(), libraryID)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	require.Len(t, rm.ScopeMetrics, 1)
	require.Len(t, rm.ScopeMetrics[0].Metrics, 1)

	m := rm.ScopeMetrics[0].Metrics[0]
	assert.Equal(t, "librarylink.client.calls", m.Name)
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, sum.DataPoints, 1)
	assert.Equal(t, int64(2), sum.DataPoints[0].Value)
	outcome, _ := sum.DataPoints[0].Attributes.Value("outcome")
	assert.Equal(t, "NOT_FOUND", outcome.AsString())
}
