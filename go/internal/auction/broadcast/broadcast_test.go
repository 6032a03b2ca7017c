package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/pennyauction/go/internal/auction/events"
	"github.com/mcdev12/pennyauction/go/internal/models"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (r *recorder) Emit(_ context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.err
}

func testAuction() models.Auction {
	return models.Auction{ID: uuid.New(), Status: models.AuctionStatusFinished}
}

func tick(t *testing.T) events.Event {
	t.Helper()
	e, err := events.NewTimerTick(uuid.New(), 5, time.Now())
	require.NoError(t, err)
	return e
}

func TestFanout_DeliversToAllAndJoinsErrors(t *testing.T) {
	ok := &recorder{}
	failing := &recorder{err: errors.New("down")}
	f := NewFanout(ok, nil, failing)

	err := f.Emit(context.Background(), tick(t))
	assert.ErrorContains(t, err, "down")
	assert.Len(t, ok.events, 1)
	assert.Len(t, failing.events, 1)
}

func TestFilter(t *testing.T) {
	next := &recorder{}
	f := Filter{Next: next, Types: map[events.Type]bool{events.TypeAuctionFinished: true}}

	require.NoError(t, f.Emit(context.Background(), tick(t)))
	assert.Empty(t, next.events)

	finished, err := events.NewAuctionFinished(testAuction(), time.Now())
	require.NoError(t, err)
	require.NoError(t, f.Emit(context.Background(), finished))
	assert.Len(t, next.events, 1)
}

type fakeConn struct {
	subjects []string
	payloads [][]byte
}

func (c *fakeConn) Publish(subject string, data []byte) error {
	c.subjects = append(c.subjects, subject)
	c.payloads = append(c.payloads, data)
	return nil
}

func TestNATSPublisher_Subjects(t *testing.T) {
	conn := &fakeConn{}
	p := NewNATSPublisher(conn, "")

	e := tick(t)
	require.NoError(t, p.Emit(context.Background(), e))

	snapshot, err := events.NewTimersSnapshot(map[uuid.UUID]int{}, time.Now())
	require.NoError(t, err)
	require.NoError(t, p.Emit(context.Background(), snapshot))

	assert.Equal(t, []string{
		"auction.events.timerUpdate." + e.AuctionID,
		"auction.events.timerUpdate",
	}, conn.subjects)

	var decoded events.Event
	require.NoError(t, json.Unmarshal(conn.payloads[0], &decoded))
	assert.Equal(t, e.ID, decoded.ID)
}

type fakeWriter struct {
	msgs   []kafka.Message
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaPublisher_KeysByAuction(t *testing.T) {
	w := &fakeWriter{}
	p := NewKafkaPublisher(w)

	a := testAuction()
	e, err := events.NewAuctionFinished(a, time.Now())
	require.NoError(t, err)
	require.NoError(t, p.Emit(context.Background(), e))
	require.NoError(t, p.Close())

	require.Len(t, w.msgs, 1)
	assert.Equal(t, a.ID.String(), string(w.msgs[0].Key))
	assert.Equal(t, "auctionFinished", string(w.msgs[0].Headers[0].Value))
	assert.True(t, w.closed)
}
