//go:build integration

package mongo_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"

	"github.com/PabloGalante/chatsum/internal/adapters/storage/mongo"
	"github.com/PabloGalante/chatsum/internal/adapters/storage/storetest"
	"github.com/PabloGalante/chatsum/internal/domain"
)

func TestMongoStore(t *testing.T) {
	ctx := context.Background()

	ctr, err := mongodb.Run(ctx, "mongo:7")
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	uri, err := ctr.ConnectionString(ctx)
	require.NoError(t, err)

	storetest.Run(t, func(t *testing.T) domain.Store {
		store, err := mongo.NewStore(ctx, uri, "chatsum_"+uuid.NewString()[:8])
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close(context.Background()) })
		return store
	})
}
