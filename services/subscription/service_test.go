package subscription

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pixelforge/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func TestActiveForUser(t *testing.T) {
	db := testutil.NewTestDB(t, &Subscription{})
	svc := &Service{db: db}
	ctx := context.Background()

	sub, err := svc.ActiveForUser(ctx, "user-1")
	require.NoError(t, err)
	require.Nil(t, sub)

	require.NoError(t, db.Create(&Subscription{
		ID: "sub-old", UserID: "user-1", Tier: "basic", Status: StatusActive,
		CreatedAt: time.Now().Add(-time.Hour),
	}).Error)
	require.NoError(t, db.Create(&Subscription{
		ID: "sub-new", UserID: "user-1", Tier: "pro", Status: StatusActive,
		CreatedAt: time.Now(),
	}).Error)
	require.NoError(t, db.Create(&Subscription{
		ID: "sub-other", UserID: "user-2", Tier: "free", Status: StatusActive,
	}).Error)

	sub, err = svc.ActiveForUser(ctx, "user-1")
	require.NoError(t, err)
	require.NotNil(t, sub)
	require.Equal(t, "sub-new", sub.ID)
	require.Equal(t, "pro", sub.Tier)
}

func TestActiveForUserIgnoresInactive(t *testing.T) {
	db := testutil.NewTestDB(t, &Subscription{})
	svc := &Service{db: db}

	require.NoError(t, db.Create(&Subscription{
		ID: "sub-1", UserID: "user-1", Tier: "pro", Status: "canceled",
	}).Error)

	sub, err := svc.ActiveForUser(context.Background(), "user-1")
	require.NoError(t, err)
	require.Nil(t, sub)
}

func TestQuotaIncrementAndDecrement(t *testing.T) {
	db := testutil.NewTestDB(t, &Subscription{})
	svc := &Service{db: db}
	ctx := context.Background()

	require.NoError(t, db.Create(&Subscription{
		ID: "sub-1", UserID: "user-1", Tier: "basic", Status: StatusActive, QuotaLimit: 100,
	}).Error)

	require.NoError(t, svc.IncrementQuota(ctx, "sub-1"))
	require.NoError(t, svc.IncrementQuota(ctx, "sub-1"))

	var sub Subscription
	require.NoError(t, db.First(&sub, "id = ?", "sub-1").Error)
	require.EqualValues(t, 2, sub.QuotaUsed)

	require.NoError(t, svc.DecrementQuota(ctx, "sub-1"))
	require.NoError(t, db.First(&sub, "id = ?", "sub-1").Error)
	require.EqualValues(t, 1, sub.QuotaUsed)
}

func TestDecrementQuotaNeverGoesNegative(t *testing.T) {
	db := testutil.NewTestDB(t, &Subscription{})
	svc := &Service{db: db}
	ctx := context.Background()

	require.NoError(t, db.Create(&Subscription{
		ID: "sub-1", UserID: "user-1", Tier: "free", Status: StatusActive,
	}).Error)

	require.NoError(t, svc.DecrementQuota(ctx, "sub-1"))

	var sub Subscription
	require.NoError(t, db.First(&sub, "id = ?", "sub-1").Error)
	require.EqualValues(t, 0, sub.QuotaUsed)
}
