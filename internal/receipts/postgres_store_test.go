//go:build integration

package receipts

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/interpay/internal/testutil"
)

func TestPostgresStore(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	svc := NewService(store, NewSigner(testSecret)).WithClock(func() time.Time { return testNow })
	ctx := context.Background()

	r, err := svc.Issue(ctx, testSession("sess-pg"), testOutgoing("op-pg", false))
	require.NoError(t, err)

	got, err := store.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.Signature, got.Signature)
	assert.Equal(t, "tacos", got.Concept)
	assert.Empty(t, got.CauseID)

	resp, err := svc.Verify(ctx, r.ID)
	require.NoError(t, err)
	assert.True(t, resp.Valid, "signature survives a database round trip")

	byWallet, err := store.List(ctx, testRecipient)
	require.NoError(t, err)
	assert.Len(t, byWallet, 1)

	none, err := store.List(ctx, "https://ilp.test/nobody")
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = store.Get(ctx, "rcpt_missing")
	assert.ErrorIs(t, err, ErrReceiptNotFound)
}
