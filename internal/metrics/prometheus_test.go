package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitIsIdempotentAndExposesCollectors(t *testing.T) {
	Init()
	Init()

	Uploads.WithLabelValues("complete").Inc()
	assert.GreaterOrEqual(t, testutil.ToFloat64(Uploads.WithLabelValues("complete")), 1.0)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "sourcebook_uploads_total")
}
