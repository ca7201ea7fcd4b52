package firestore_test

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/chatsum/internal/adapters/storage/firestore"
	"github.com/PabloGalante/chatsum/internal/adapters/storage/storetest"
	"github.com/PabloGalante/chatsum/internal/domain"
)

func TestFirestoreStore(t *testing.T) {
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}

	storetest.Run(t, func(t *testing.T) domain.Store {
		// the emulator isolates data per project
		store, err := firestore.NewStore(context.Background(), "chatsum-test-"+uuid.NewString()[:8])
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close(context.Background()) })
		return store
	})
}

func TestNewStoreRequiresProject(t *testing.T) {
	_, err := firestore.NewStore(context.Background(), "")
	require.Error(t, err)
}
