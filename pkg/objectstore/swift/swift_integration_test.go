//go:build integration

package swift

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ottervault/backup/pkg/objectstore"
)

// swiftAIOHelper manages a single-node Swift-all-in-one container for
// integration tests, or connects to an externally configured cloud.
type swiftAIOHelper struct {
	container testcontainers.Container
	authURL   string
}

// newSwiftAIOHelper starts a Swift all-in-one container, unless
// OS_AUTH_URL is already set in the environment.
func newSwiftAIOHelper(t *testing.T) *swiftAIOHelper {
	t.Helper()
	ctx := context.Background()

	if authURL := os.Getenv("OS_AUTH_URL"); authURL != "" {
		return &swiftAIOHelper{authURL: authURL}
	}

	req := testcontainers.ContainerRequest{
		Image:        "bouncestorage/swift-aio:latest",
		ExposedPorts: []string{"8080/tcp"},
		WaitingFor:   wait.ForListeningPort("8080/tcp").WithStartupTimeout(90 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "8080")
	require.NoError(t, err)

	authURL := fmt.Sprintf("http://%s:%s/auth/v1.0", host, port.Port())
	os.Setenv("OS_AUTH_URL", authURL)
	os.Setenv("OS_USERNAME", "test:tester")
	os.Setenv("OS_PASSWORD", "testing")
	os.Setenv("OS_IDENTITY_API_VERSION", "1")

	return &swiftAIOHelper{container: container, authURL: authURL}
}

func (h *swiftAIOHelper) cleanup() {
	if h.container != nil {
		_ = h.container.Terminate(context.Background())
	}
}

func TestClientPutGetListAgainstSwiftAIO(t *testing.T) {
	helper := newSwiftAIOHelper(t)
	defer helper.cleanup()

	container := fmt.Sprintf("backup-test-%d", time.Now().UnixNano())
	client, err := New(Options{Container: container})
	require.NoError(t, err)

	ctx := context.Background()
	content := []byte("swift integration payload")
	require.NoError(t, client.Put(ctx, "data/OBJECT1", bytes.NewReader(content), int64(len(content))))

	var buf bytes.Buffer
	require.NoError(t, client.Get(ctx, "data/OBJECT1", &buf))
	assert.Equal(t, content, buf.Bytes())

	entries, err := client.List(ctx, "data/")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "data/OBJECT1", entries[0].Name)
	assert.Equal(t, int64(len(content)), entries[0].Bytes)

	err = client.Get(ctx, "data/MISSING", io.Discard)
	assert.ErrorIs(t, err, objectstore.ErrNotFound)
}

func TestClientPutWithProgressReportsBytes(t *testing.T) {
	helper := newSwiftAIOHelper(t)
	defer helper.cleanup()

	container := fmt.Sprintf("backup-test-%d", time.Now().UnixNano())
	client, err := New(Options{Container: container})
	require.NoError(t, err)

	ctx := context.Background()
	content := bytes.Repeat([]byte("x"), 4096)

	var seen int64
	err = client.PutWithProgress(ctx, "data/OBJECT2", bytes.NewReader(content), int64(len(content)), func(n int64) {
		seen += n
	})
	require.NoError(t, err)
	assert.Equal(t, int64(len(content)), seen)
}
