package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/ticket-engine/engine"
	"github.com/warp/ticket-engine/engine/store"
	"github.com/warp/ticket-engine/engine/storetest"
)

func TestMemory_Contract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) engine.TxRepository {
		return store.NewMemory()
	})
}

func TestMemory_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	require.NoError(t, m.SaveShow(ctx, engine.Show{ID: "s1", AgentIDs: []engine.UserID{"a"}}))

	got, err := m.GetShow(ctx, "s1")
	require.NoError(t, err)
	got.AgentIDs[0] = "mutated"

	again, err := m.GetShow(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, engine.UserID("a"), again.AgentIDs[0])
}

func TestMemory_Reset(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	require.NoError(t, m.SaveUser(ctx, engine.User{ID: "u1", Role: engine.RoleAgent}))

	require.NoError(t, m.Reset(ctx))

	_, err := m.GetUser(ctx, "u1")
	assert.ErrorIs(t, err, engine.ErrUserNotFound)
}
