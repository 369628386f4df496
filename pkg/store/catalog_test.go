package store_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/takeoffworks/estimator/pkg/types"
)

func TestPriceListActiveAdmin_PrefersHighestStableSemver(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	older := &types.PriceList{ID: uuid.NewString(), Name: "Rate card", Version: "1.2.0", Active: true, IsAdmin: true}
	require.NoError(t, s.PriceListCreate(ctx, older))

	prerelease := &types.PriceList{ID: uuid.NewString(), Name: "Rate card", Version: "2.0.0-rc1", Active: true, IsAdmin: true}
	require.NoError(t, s.PriceListCreate(ctx, prerelease))

	newer := &types.PriceList{ID: uuid.NewString(), Name: "Rate card", Version: "1.5.0", Active: true, IsAdmin: true}
	require.NoError(t, s.PriceListCreate(ctx, newer))

	got, err := s.PriceListActiveAdmin(ctx)
	require.NoError(t, err)
	require.Equal(t, newer.ID, got.ID, "should pick 1.5.0 over the older stable and the higher-numbered prerelease")
}

func TestPriceListActiveAdmin_FallsBackWhenVersionsUnparseable(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	pl := &types.PriceList{ID: uuid.NewString(), Name: "Rate card", Version: "not-a-version", Active: true, IsAdmin: true}
	require.NoError(t, s.PriceListCreate(ctx, pl))

	got, err := s.PriceListActiveAdmin(ctx)
	require.NoError(t, err)
	require.Equal(t, pl.ID, got.ID)
}

func TestPriceListActiveAdmin_NoneActive(t *testing.T) {
	s := newTestStore(t)
	_, err := s.PriceListActiveAdmin(context.Background())
	require.Error(t, err)
}
