package friend

import (
	"context"
	"sync"
	"testing"

	"github.com/kasuganosora/mmosocial/game/apperr"
	"github.com/kasuganosora/mmosocial/model"
	"github.com/kasuganosora/mmosocial/notify"
	"github.com/kasuganosora/mmosocial/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db   *gorm.DB
	svc  *Service
	rec  *notify.Recorder
	a, b *model.Player
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db := testutil.SetupTestDB(t)
	rec := &notify.Recorder{}
	return &fixture{
		db:  db,
		svc: NewService(db, rec, nil, zap.NewNop()),
		rec: rec,
		a:   testutil.CreatePlayer(t, db, "alice"),
		b:   testutil.CreatePlayer(t, db, "bob"),
	}
}

func (f *fixture) links(t *testing.T) map[int64]model.FriendLink {
	t.Helper()
	var rows []model.FriendLink
	require.NoError(t, f.db.Scopes(pairScope(f.a.ID, f.b.ID)).Find(&rows).Error)
	out := make(map[int64]model.FriendLink, len(rows))
	for _, r := range rows {
		out[r.OwnerID] = r
	}
	return out
}

func TestSend_CreatesPair(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	require.NoError(t, f.svc.Send(ctx, f.a.ID, f.b.ID))

	links := f.links(t)
	require.Len(t, links, 2)
	assert.Equal(t, model.FriendPendingSent, links[f.a.ID].Status)
	assert.Equal(t, model.FriendPendingReceived, links[f.b.ID].Status)
	assert.Equal(t, int64(1), links[f.a.ID].FriendVersion)
	assert.Equal(t, int64(1), links[f.b.ID].FriendVersion)

	rel, err := f.svc.Status(ctx, f.b.ID, f.a.ID)
	require.NoError(t, err)
	assert.Equal(t, Requested, rel.State)
	assert.Equal(t, f.a.ID, rel.RequestedBy)

	calls := f.rec.On(notify.PlayerChannel(f.b.ID))
	require.Len(t, calls, 1)
	assert.Equal(t, notify.EventFriendRequestSent, calls[0].Event)
	assert.Equal(t, RequestSentEvent{FriendID: f.a.ID, Username: "alice"}, calls[0].Data)
	assert.Empty(t, f.rec.On(notify.PlayerChannel(f.a.ID)))
}

func TestSend_UniqueIndexMapsToPending(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	// Only the peer's half is present, so the insert collides on the index.
	require.NoError(t, f.db.Create(&model.FriendLink{
		OwnerID: f.b.ID, PeerID: f.a.ID, Status: model.FriendPendingSent, FriendVersion: 1,
	}).Error)

	err := f.svc.Send(ctx, f.a.ID, f.b.ID)
	assert.ErrorIs(t, err, apperr.ErrAlreadyFriendsOrPending)
	assert.Len(t, f.links(t), 1)
	assert.Empty(t, f.rec.Calls())
}

func TestSend_Rejections(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	assert.ErrorIs(t, f.svc.Send(ctx, f.a.ID, f.a.ID), apperr.ErrAlreadyFriendsOrPending)
	assert.ErrorIs(t, f.svc.Send(ctx, f.a.ID, 9999), apperr.ErrNotFound)

	require.NoError(t, f.svc.Send(ctx, f.a.ID, f.b.ID))
	assert.ErrorIs(t, f.svc.Send(ctx, f.a.ID, f.b.ID), apperr.ErrAlreadyFriendsOrPending)
	assert.ErrorIs(t, f.svc.Send(ctx, f.b.ID, f.a.ID), apperr.ErrAlreadyFriendsOrPending)

	require.NoError(t, f.svc.Accept(ctx, f.b.ID, f.a.ID))
	assert.ErrorIs(t, f.svc.Send(ctx, f.a.ID, f.b.ID), apperr.ErrAlreadyFriendsOrPending)
	assert.Len(t, f.links(t), 2)
}

func TestAccept_Scenario(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	require.NoError(t, f.svc.Send(ctx, f.a.ID, f.b.ID))
	f.rec.Reset()

	// Give bob non-default counters so the payload is checked for real values.
	require.NoError(t, f.db.Model(&model.Player{}).Where("id = ?", f.b.ID).
		Updates(map[string]interface{}{"profile_version": 4, "avatar_version": 7}).Error)

	require.NoError(t, f.svc.Accept(ctx, f.b.ID, f.a.ID))

	links := f.links(t)
	require.Len(t, links, 2)
	for _, l := range links {
		assert.Equal(t, model.FriendAccepted, l.Status)
		assert.Equal(t, int64(2), l.FriendVersion)
	}

	assert.Empty(t, f.rec.On(notify.PlayerChannel(f.b.ID)), "actor's channel is not notified")
	calls := f.rec.On(notify.PlayerChannel(f.a.ID))
	require.Len(t, calls, 1)
	assert.Equal(t, notify.EventFriendRequestAccepted, calls[0].Event)
	assert.Equal(t, AcceptedEvent{
		FriendID:       f.b.ID,
		Username:       "bob",
		AvatarVersion:  7,
		ProfileVersion: 4,
		FriendVersion:  2,
	}, calls[0].Data)

	ok, err := f.svc.AreFriends(ctx, f.a.ID, f.b.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAccept_Twice(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	require.NoError(t, f.svc.Send(ctx, f.a.ID, f.b.ID))
	require.NoError(t, f.svc.Accept(ctx, f.b.ID, f.a.ID))
	assert.ErrorIs(t, f.svc.Accept(ctx, f.b.ID, f.a.ID), apperr.ErrAlreadyAccepted)
	assert.Equal(t, int64(2), f.links(t)[f.a.ID].FriendVersion)
}

func TestAccept_BySender(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	require.NoError(t, f.svc.Send(ctx, f.a.ID, f.b.ID))
	assert.ErrorIs(t, f.svc.Accept(ctx, f.a.ID, f.b.ID), apperr.ErrNotRecipient)
	assert.ErrorIs(t, f.svc.Reject(ctx, f.a.ID, f.b.ID), apperr.ErrNotRecipient)
	assert.ErrorIs(t, f.svc.Accept(ctx, f.a.ID, 12345), apperr.ErrRequestNotFound)
}

func TestCancel(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	assert.ErrorIs(t, f.svc.Cancel(ctx, f.a.ID, f.b.ID), apperr.ErrRequestNotFound)

	require.NoError(t, f.svc.Send(ctx, f.a.ID, f.b.ID))
	assert.ErrorIs(t, f.svc.Cancel(ctx, f.b.ID, f.a.ID), apperr.ErrNotSender, "recipient cannot cancel")
	assert.Len(t, f.links(t), 2)

	require.NoError(t, f.svc.Cancel(ctx, f.a.ID, f.b.ID))
	assert.Empty(t, f.links(t))

	calls := f.rec.On(notify.PlayerChannel(f.b.ID))
	require.Len(t, calls, 2)
	assert.Equal(t, notify.EventFriendRequestCanceled, calls[1].Event)
	assert.Equal(t, PeerEvent{FriendID: f.a.ID}, calls[1].Data)
}

func TestCancel_WhenFriends(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	testutil.MakeFriends(t, f.db, f.a.ID, f.b.ID)
	assert.ErrorIs(t, f.svc.Cancel(ctx, f.a.ID, f.b.ID), apperr.ErrNotSender)
}

func TestReject(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	require.NoError(t, f.svc.Send(ctx, f.a.ID, f.b.ID))
	require.NoError(t, f.svc.Reject(ctx, f.b.ID, f.a.ID))
	assert.Empty(t, f.links(t))

	calls := f.rec.On(notify.PlayerChannel(f.a.ID))
	require.Len(t, calls, 1)
	assert.Equal(t, notify.EventFriendRequestRejected, calls[0].Event)

	rel, err := f.svc.Status(ctx, f.a.ID, f.b.ID)
	require.NoError(t, err)
	assert.Equal(t, NoRelation, rel.State)
}

func TestUnfriend(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	assert.ErrorIs(t, f.svc.Unfriend(ctx, f.a.ID, f.b.ID), apperr.ErrNotFriends)

	require.NoError(t, f.svc.Send(ctx, f.a.ID, f.b.ID))
	assert.ErrorIs(t, f.svc.Unfriend(ctx, f.a.ID, f.b.ID), apperr.ErrNotFriends)

	require.NoError(t, f.svc.Accept(ctx, f.b.ID, f.a.ID))
	require.NoError(t, f.svc.Unfriend(ctx, f.a.ID, f.b.ID))
	assert.Empty(t, f.links(t))

	calls := f.rec.On(notify.PlayerChannel(f.b.ID))
	assert.Equal(t, notify.EventFriendRemoved, calls[len(calls)-1].Event)
}

func TestList(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	c := testutil.CreatePlayer(t, f.db, "carol")
	d := testutil.CreatePlayer(t, f.db, "dave")

	require.NoError(t, f.svc.Send(ctx, f.a.ID, f.b.ID))
	require.NoError(t, f.svc.Send(ctx, c.ID, f.a.ID))
	testutil.MakeFriends(t, f.db, f.a.ID, d.ID)

	out, err := f.svc.List(ctx, f.a.ID, FilterOutgoing)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, f.b.ID, out[0].PeerID)

	in, err := f.svc.List(ctx, f.a.ID, FilterIncoming)
	require.NoError(t, err)
	require.Len(t, in, 1)
	assert.Equal(t, c.ID, in[0].PeerID)

	acc, err := f.svc.List(ctx, f.a.ID, FilterAccepted)
	require.NoError(t, err)
	require.Len(t, acc, 1)
	assert.Equal(t, d.ID, acc[0].PeerID)

	_, err = f.svc.List(ctx, f.a.ID, "blocked")
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
}

func TestRequireFriends(t *testing.T) {
	f := setup(t)
	c := testutil.CreatePlayer(t, f.db, "carol")
	testutil.MakeFriends(t, f.db, f.a.ID, f.b.ID)

	assert.NoError(t, RequireFriends(f.db, f.a.ID, nil))
	assert.NoError(t, RequireFriends(f.db, f.a.ID, []int64{f.b.ID, f.b.ID}))
	assert.ErrorIs(t, RequireFriends(f.db, f.a.ID, []int64{f.b.ID, c.ID}), apperr.ErrNotFriend)
}

// Pair rows exist together or not at all through every transition.
func TestPairInvariant_AcrossTransitions(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	check := func() {
		n := len(f.links(t))
		assert.True(t, n == 0 || n == 2, "pair has %d rows", n)
	}
	steps := []func() error{
		func() error { return f.svc.Send(ctx, f.a.ID, f.b.ID) },
		func() error { return f.svc.Cancel(ctx, f.b.ID, f.a.ID) },
		func() error { return f.svc.Cancel(ctx, f.a.ID, f.b.ID) },
		func() error { return f.svc.Send(ctx, f.b.ID, f.a.ID) },
		func() error { return f.svc.Reject(ctx, f.a.ID, f.b.ID) },
		func() error { return f.svc.Send(ctx, f.a.ID, f.b.ID) },
		func() error { return f.svc.Accept(ctx, f.b.ID, f.a.ID) },
		func() error { return f.svc.Reject(ctx, f.b.ID, f.a.ID) },
		func() error { return f.svc.Unfriend(ctx, f.b.ID, f.a.ID) },
	}
	for _, step := range steps {
		_ = step()
		check()
	}
}

func TestConcurrentAccept_OneWins(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	require.NoError(t, f.svc.Send(ctx, f.a.ID, f.b.ID))

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = f.svc.Accept(ctx, f.b.ID, f.a.ID)
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
		} else {
			assert.ErrorIs(t, err, apperr.ErrAlreadyAccepted)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, int64(2), f.links(t)[f.b.ID].FriendVersion)
}

func TestConcurrentCrossSend_OneWins(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	var errAB, errBA error
	wg.Add(2)
	go func() { defer wg.Done(); errAB = f.svc.Send(ctx, f.a.ID, f.b.ID) }()
	go func() { defer wg.Done(); errBA = f.svc.Send(ctx, f.b.ID, f.a.ID) }()
	wg.Wait()

	assert.True(t, (errAB == nil) != (errBA == nil), "exactly one send must succeed: %v / %v", errAB, errBA)
	assert.Len(t, f.links(t), 2)
}
