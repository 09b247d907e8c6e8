package saferun

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestPostgresArtifactStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("saferun"),
		tcpostgres.WithUsername("saferun"),
		tcpostgres.WithPassword("saferun"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, testcontainers.TerminateContainer(container))
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := OpenPostgres(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store, err := NewPostgresArtifactStore(ctx, db)
	require.NoError(t, err)

	// Round trip
	content := []byte(`{"agent_memory":{"topic":"go"}}`)
	uri, err := store.CreateArtifact(ctx, content, map[string]string{"workflow_id": "wf_test"})
	require.NoError(t, err)
	require.Contains(t, uri, "artifact://postgres/")

	data, err := store.GetArtifact(ctx, uri)
	require.NoError(t, err)
	require.Equal(t, content, data)

	// Re-storing identical content is idempotent
	again, err := store.CreateArtifact(ctx, content, nil)
	require.NoError(t, err)
	require.Equal(t, uri, again)

	// Unknown URIs surface as not found
	_, err = store.GetArtifact(ctx, "artifact://postgres/missing")
	require.True(t, IsKind(err, ErrKindNotFound))

	// The store works as the capture backend end to end
	capture := NewStateCapture(store, nil)
	snapshot, err := capture.Capture(ctx, "wf_test", CheckpointConfig{ID: "draft"}, 0, sampleState())
	require.NoError(t, err)
	restored, err := capture.Restore(ctx, &CheckpointSnapshot{
		SnapshotID:  snapshot.SnapshotID,
		ArtifactURI: snapshot.ArtifactURI,
	})
	require.NoError(t, err)
	require.Equal(t, snapshot.State, restored)
}
