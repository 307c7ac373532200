package archive

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"github.com/NHIT-open/Citizen-Connect-ACS/lib/telemetry"
	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupMinio(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:archive")
	t.Cleanup(cleanup)

	testcontainers.Logger = log.New(io.Discard, "", 0)
	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "minio/minio:RELEASE.2024-06-13T22-53-53Z",
			Cmd:          []string{"server", "/data"},
			ExposedPorts: []string{"9000:9000"},
			Env: map[string]string{
				"MINIO_ROOT_USER":     "minioadmin",
				"MINIO_ROOT_PASSWORD": "minioadmin",
			},
			WaitingFor: wait.ForLog("API:"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		err := container.Terminate(context.Background())
		if err != nil {
			t.Log("failed to terminate minio container:", err)
		}
	})
}

func testConfig() Config {
	return Config{
		Endpoint:  "127.0.0.1:9000",
		AccessKey: "minioadmin",
		SecretKey: "minioadmin",
		UseSSL:    false,
		Bucket:    "citizen-connect-test",
		Prefix:    "runs",
	}
}

func TestPut(t *testing.T) {
	setupMinio(t)
	ctx := context.Background()

	store, err := NewStore(testConfig())
	require.NoError(t, err)

	csv := []byte("source,year\nACS5,2018\n")
	runTime := time.Date(2026, 8, 23, 4, 30, 0, 0, time.UTC)
	key, err := store.Put(ctx, "acs5", runTime, csv)
	require.NoError(t, err)
	require.Equal(t, "runs/acs5/2026-08-23T04:30:00Z.csv", key)

	obj, err := store.client.GetObject(
		ctx, "citizen-connect-test", key,
		minio.GetObjectOptions{},
	)
	require.NoError(t, err)
	defer obj.Close()
	got, err := io.ReadAll(obj)
	require.NoError(t, err)
	require.Equal(t, csv, got)

	{
		// second run on the same day must not clobber the first
		later, err := store.Put(ctx, "acs5", runTime.Add(time.Hour), csv)
		require.NoError(t, err)
		require.NotEqual(t, key, later)
	}
}

func TestEnabled(t *testing.T) {
	require.False(t, Config{}.Enabled())
	require.True(t, testConfig().Enabled())
}
