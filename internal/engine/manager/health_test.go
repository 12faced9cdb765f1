package manager

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/health/grpc_health_v1"
)

func TestHealthFollowsReadyNodes(t *testing.T) {
	f := newFixture(t, 4, 3)
	h := NewHealthReporter(f.m)
	check := func() grpc_health_v1.HealthCheckResponse_ServingStatus {
		resp, err := h.Server().Check(context.Background(), &grpc_health_v1.HealthCheckRequest{Service: HealthService})
		require.NoError(t, err)
		return resp.GetStatus()
	}
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING, check())

	a := f.node(t, "a")
	a.register(t)
	h.Update()
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, check())

	a.crash(t)
	h.Update()
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING, check())
}
