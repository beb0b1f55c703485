// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package nats

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// NewTestContainer starts a NATS server in a container for the duration of
// the test and returns a Connector for it.
// The test is skipped in short mode or when no container provider is
// available.
func NewTestContainer(t *testing.T) Connector {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping NATS container in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	natsC, err := testcontainers.Run(
		t.Context(), "nats:2.10-alpine",
		testcontainers.WithExposedPorts("4222/tcp"),
		testcontainers.WithWaitStrategy(
			wait.ForListeningPort("4222/tcp"),
			wait.ForLog("Server is ready"),
		),
	)
	testcontainers.CleanupContainer(t, natsC)
	require.NoError(t, err)

	endpoint, err := natsC.PortEndpoint(t.Context(), "4222/tcp", "nats")
	require.NoError(t, err)
	t.Logf("nats endpoint: %s", endpoint)
	return ConnectURL(endpoint)
}
