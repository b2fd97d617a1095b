package audit

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/kasuganosora/mmosocial/model"
	"github.com/kasuganosora/mmosocial/testutil"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func nop() *zap.Logger { l, _ := zap.NewDevelopment(); return l }

func TestNew_StartsWorker(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := New(db, nop())
	require.NotNil(t, svc)
	svc.Stop(context.Background())
}

func TestLog_EnqueuedAndFlushed(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := New(db, nop())

	target := int64(2)
	svc.Log(Entry{
		TraceID:  "trace-123",
		ActorID:  1,
		TargetID: &target,
		Action:   "friend.accept",
		Payload:  map[string]int64{"friend_version": 2},
		IP:       "127.0.0.1",
	})

	// Stop flushes remaining entries
	svc.Stop(context.Background())

	var logs []model.AuditLog
	require.NoError(t, db.Find(&logs).Error)
	require.Len(t, logs, 1)
	assert.Equal(t, "trace-123", logs[0].TraceID)
	assert.Equal(t, int64(1), logs[0].ActorID)
	assert.Equal(t, int64(2), *logs[0].TargetID)
	assert.Equal(t, "friend.accept", logs[0].Action)
	assert.JSONEq(t, `{"friend_version":2}`, string(logs[0].Payload))
}

func TestLog_MultipleLogs(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := New(db, nop())

	for i := 0; i < 150; i++ {
		svc.Log(Entry{ActorID: int64(i + 1), Action: "group.post"})
	}
	svc.Stop(context.Background())

	var count int64
	require.NoError(t, db.Model(&model.AuditLog{}).Count(&count).Error)
	assert.Equal(t, int64(150), count)
}

func TestNilService(t *testing.T) {
	var svc *Service
	assert.NotPanics(t, func() {
		svc.Log(Entry{Action: "x"})
		svc.Stop(context.Background())
	})
}

type fakeSink struct {
	mu      sync.Mutex
	got     []*model.AuditLog
	closed  bool
	failing bool
}

func (f *fakeSink) Write(_ context.Context, batch []*model.AuditLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, batch...)
	if f.failing {
		return errors.New("broker down")
	}
	return nil
}

func (f *fakeSink) Close() error {
	f.closed = true
	return nil
}

func TestSink_ReceivesBatches(t *testing.T) {
	db := testutil.SetupTestDB(t)
	sink := &fakeSink{}
	svc := New(db, nop(), sink)
	svc.Log(Entry{ActorID: 1, Action: "friend.send"})
	svc.Log(Entry{ActorID: 1, Action: "friend.cancel"})
	svc.Stop(context.Background())

	require.Len(t, sink.got, 2)
	assert.Equal(t, "friend.send", sink.got[0].Action)
	assert.True(t, sink.closed)
}

func TestSink_FailureDoesNotBlockDB(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := New(db, nop(), &fakeSink{failing: true})
	svc.Log(Entry{ActorID: 1, Action: "group.create"})
	svc.Stop(context.Background())

	var count int64
	require.NoError(t, db.Model(&model.AuditLog{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

type fakeWriter struct {
	msgs   []kafka.Message
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { w.closed = true; return nil }

func TestKafkaSink_KeysByActor(t *testing.T) {
	w := &fakeWriter{}
	sink := &KafkaSink{writer: w}

	err := sink.Write(context.Background(), []*model.AuditLog{
		{ActorID: 5, Action: "friend.send"},
		{ActorID: 9, Action: "group.create"},
	})
	require.NoError(t, err)
	require.Len(t, w.msgs, 2)
	assert.Equal(t, "5", string(w.msgs[0].Key))
	assert.Equal(t, "9", string(w.msgs[1].Key))

	var rec model.AuditLog
	require.NoError(t, json.Unmarshal(w.msgs[1].Value, &rec))
	assert.Equal(t, "group.create", rec.Action)

	require.NoError(t, sink.Close())
	assert.True(t, w.closed)
}

func TestNewKafkaSink(t *testing.T) {
	sink := NewKafkaSink([]string{"localhost:9092"}, "social-audit")
	w, ok := sink.writer.(*kafka.Writer)
	require.True(t, ok)
	assert.Equal(t, "social-audit", w.Topic)
	assert.NoError(t, sink.Close())
}

func TestLogCtx_StampsRequest(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := New(db, nop())
	ctx := WithRequest(context.Background(), "trace-9", "10.0.0.9")
	assert.Equal(t, "trace-9", TraceID(ctx))
	assert.Equal(t, "10.0.0.9", ClientIP(ctx))

	svc.LogCtx(ctx, Entry{ActorID: 3, Action: "group.mute"})
	svc.Stop(context.Background())

	var rec model.AuditLog
	require.NoError(t, db.First(&rec).Error)
	assert.Equal(t, "trace-9", rec.TraceID)
	assert.Equal(t, "10.0.0.9", rec.IP)
}
