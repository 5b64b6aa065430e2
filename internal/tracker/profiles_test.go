package tracker

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/2beens/gymlog/internal/backend"
	"github.com/2beens/gymlog/internal/backend/backendmock"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestProfiles_FetchWithoutProfile(t *testing.T) {
	profiles := NewProfiles(newTestStore(t), userResolver("u1"))

	profile, err := profiles.Fetch(context.Background())
	require.NoError(t, err)
	assert.Nil(t, profile)

	st := profiles.State()
	assert.Empty(t, st.Err)
	assert.Nil(t, st.Value)
}

func TestProfiles_FetchUnauthenticated(t *testing.T) {
	profiles := NewProfiles(newTestStore(t), userResolver(""))

	profile, err := profiles.Fetch(context.Background())
	assert.Nil(t, profile)
	require.ErrorIs(t, err, ErrUnauthenticated)
	assert.Equal(t, "Usuario no autenticado", profiles.State().Err)
}

func TestProfiles_UpdateConverges(t *testing.T) {
	store := newTestStore(t)
	profiles := NewProfiles(store, userResolver("u1"))
	ctx := context.Background()

	first, err := profiles.Update(ctx, ProfileFields{BornDate: "1990-05-01", Weight: 80, Height: 180, Gender: "male"})
	require.NoError(t, err)
	second, err := profiles.Update(ctx, ProfileFields{BornDate: "1990-05-01", Weight: 78.5, Height: 180, Gender: "male"})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "u1", second.UserID)
	assert.Equal(t, 78.5, second.Weight)
	assert.Len(t, store.Rows(tableProfile), 1)

	fetched, err := profiles.Fetch(ctx)
	require.NoError(t, err)
	require.NotNil(t, fetched)
	assert.Equal(t, first.ID, fetched.ID)
	assert.Equal(t, 78.5, fetched.Weight)
	assert.Equal(t, "1990-05-01", fetched.BornDate)
	assert.Equal(t, fetched, profiles.State().Value)
}

func TestProfiles_ConcurrentFirstSaves(t *testing.T) {
	store := newTestStore(t)
	profiles := NewProfiles(store, userResolver("u1"))
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make([]int64, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := profiles.Update(ctx, ProfileFields{Weight: float64(70 + i)})
			if assert.NoError(t, err) {
				ids[i] = p.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Len(t, store.Rows(tableProfile), 1)
}

func TestProfiles_UpdateCheckThenAct(t *testing.T) {
	store := newTestStore(t)
	profiles := NewProfiles(store, userResolver("u1"))
	ctx := context.Background()

	created, err := profiles.UpdateCheckThenAct(ctx, ProfileFields{Weight: 80, Height: 180, Gender: "female"})
	require.NoError(t, err)
	assert.Equal(t, "u1", created.UserID)

	updated, err := profiles.UpdateCheckThenAct(ctx, ProfileFields{Weight: 82, Height: 180, Gender: "female"})
	require.NoError(t, err)
	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, float64(82), updated.Weight)
	assert.Len(t, store.Rows(tableProfile), 1)

	// a second writer inserting behind our back hits the unique constraint
	other := NewProfiles(store, userResolver("u1"))
	err = other.client.Insert(ctx, tableProfile, profileRow{UserID: "u1"}, nil)
	require.Error(t, err)
	assert.True(t, backend.HasCode(err, backend.CodeUniqueViolation))
}

func TestProfiles_OwnershipMismatch(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := backendmock.NewMockClient(ctrl)

	client.EXPECT().
		SelectSingle(gomock.Any(), backend.From(tableProfile).Eq("user_id", "u1"), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ backend.Query, dest any) error {
			*(dest.(*Profile)) = Profile{ID: 7, UserID: "u2"}
			return nil
		})
	client.EXPECT().
		Upsert(gomock.Any(), tableProfile, gomock.Any(), "user_id", gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, _ any, _ string, dest any) error {
			*(dest.(*Profile)) = Profile{ID: 7, UserID: "u2"}
			return nil
		})

	profiles := NewProfiles(client, userResolver("u1"))
	ctx := context.Background()

	profile, err := profiles.Fetch(ctx)
	assert.Nil(t, profile)
	require.ErrorIs(t, err, ErrProfileOwnership)
	assert.Equal(t, "El perfil no pertenece al usuario actual", profiles.State().Err)
	assert.Nil(t, profiles.State().Value)

	profile, err = profiles.Update(ctx, ProfileFields{Weight: 80})
	assert.Nil(t, profile)
	require.ErrorIs(t, err, ErrProfileOwnership)
}

func TestProfiles_FetchFailurePropagates(t *testing.T) {
	store := newTestStore(t)
	profiles := NewProfiles(store, userResolver("u1"))
	ctx := context.Background()

	_, err := profiles.Update(ctx, ProfileFields{Weight: 80})
	require.NoError(t, err)
	_, err = profiles.Fetch(ctx)
	require.NoError(t, err)
	require.NotNil(t, profiles.State().Value)

	storeErr := errors.New("timeout")
	store.SetFailure(storeErr)

	profile, err := profiles.Fetch(ctx)
	assert.Nil(t, profile)
	require.ErrorIs(t, err, storeErr)
	assert.Equal(t, MsgLoadProfile, profiles.State().Err)
	assert.Nil(t, profiles.State().Value)

	_, err = profiles.Update(ctx, ProfileFields{Weight: 81})
	require.ErrorIs(t, err, storeErr)
	assert.Equal(t, MsgSaveProfile, profiles.State().Err)
}
