package sink

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pacer/internal/emitter"
	"github.com/roach88/pacer/internal/record"
	"github.com/roach88/pacer/internal/source"
	"github.com/roach88/pacer/internal/store"
	"github.com/roach88/pacer/internal/testutil"
)

var ts = time.Date(2024, 1, 1, 0, 0, 1, 0, time.UTC)

func TestLines_WritesRawPayload(t *testing.T) {
	var buf bytes.Buffer
	s := NewLines(&buf)

	require.NoError(t, s.Collect(context.Background(), record.Event{Payload: []byte(`{"a":1}`)}))
	require.NoError(t, s.Collect(context.Background(), record.Event{Payload: []byte(`x,y`)}))

	assert.Equal(t, "{\"a\":1}\nx,y\n", buf.String())
}

func TestEnvelopes_JSONPayload(t *testing.T) {
	var buf bytes.Buffer
	s := NewEnvelopes(&buf)
	ev := record.Event{Time: ts, Payload: []byte(`{"a":1}`), Fields: map[string]any{"a": 1}}

	err := s.CollectPaced(context.Background(), emitter.Emission[record.Event]{
		Seq: 3, Line: 7, Wait: 1500 * time.Millisecond, Record: ev,
	})
	require.NoError(t, err)

	want := `{"seq":3,"line":7,"event_time":"2024-01-01T00:00:01Z","wait_ms":1500,"record_id":"` +
		ev.ID() + `","payload":{"a":1}}` + "\n"
	assert.Equal(t, want, buf.String())
}

func TestEnvelopes_NonJSONPayloadQuoted(t *testing.T) {
	var buf bytes.Buffer
	s := NewEnvelopes(&buf)

	require.NoError(t, s.Collect(context.Background(), record.Event{Time: ts, Payload: []byte(`7,"x"`)}))

	assert.Contains(t, buf.String(), `"payload":"7,\"x\""`)
	assert.Contains(t, buf.String(), `"seq":0`)
}

func TestChannel_DeliversAndHonoursContext(t *testing.T) {
	ch := make(chan record.Event, 1)
	s := NewChannel[record.Event](ch)

	require.NoError(t, s.Collect(context.Background(), record.Event{Time: ts}))
	assert.Equal(t, ts, (<-ch).Time)

	unbuffered := make(chan record.Event)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewChannel[record.Event](unbuffered).Collect(ctx, record.Event{})
	assert.ErrorIs(t, err, context.Canceled)
}

type pacedSpy struct {
	seqs []int64
}

func (p *pacedSpy) Collect(context.Context, record.Event) error { return errors.New("unexpected Collect") }

func (p *pacedSpy) CollectPaced(_ context.Context, em emitter.Emission[record.Event]) error {
	p.seqs = append(p.seqs, em.Seq)
	return nil
}

func TestTee_FansOutWithPacing(t *testing.T) {
	plain := testutil.NewCollectingSink[record.Event]()
	spy := &pacedSpy{}
	tee := NewTee[record.Event](plain, nil, spy)
	assert.Equal(t, 2, tee.Len())

	em := emitter.Emission[record.Event]{Seq: 9, Record: record.Event{Time: ts}}
	require.NoError(t, tee.CollectPaced(context.Background(), em))

	assert.Equal(t, 1, plain.Len())
	assert.Equal(t, []int64{9}, spy.seqs)
}

func TestTee_StopsAtFirstFailure(t *testing.T) {
	failing := testutil.NewCollectingSink[record.Event]()
	failing.FailAt = 1
	after := testutil.NewCollectingSink[record.Event]()
	tee := NewTee[record.Event](failing, after)

	err := tee.Collect(context.Background(), record.Event{})

	assert.ErrorIs(t, err, testutil.ErrSinkFailure)
	assert.ErrorContains(t, err, "tee[0]")
	assert.Equal(t, 0, after.Len())
}

// cancellingSink cancels the replay when it receives a record.
type cancellingSink struct {
	cancel func()
}

func (s cancellingSink) Collect(context.Context, record.Event) error {
	s.cancel()
	return nil
}

func TestTee_CancelDuringDeliveryReachesEverySink(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	defer st.Close()
	require.NoError(t, st.CreateRun(ctx, store.Run{ID: "r1", Source: "in", Speed: 1}))

	dec, err := record.NewJSONDecoder("ts", record.TimeFormat{Unit: record.UnitMillis})
	require.NoError(t, err)
	src := source.NewStream("in", strings.NewReader("{\"ts\":0}\n{\"ts\":1000}\n"))
	e, err := emitter.New[record.Event](src, dec, 1,
		emitter.WithWaiter(testutil.NewRecordingWaiter()),
		emitter.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	require.NoError(t, err)

	out := testutil.NewCollectingSink[record.Event]()
	tee := NewTee[record.Event](
		out,
		cancellingSink{cancel: func() { _ = e.Cancel() }},
		st.EmissionSink("r1"),
	)
	require.NoError(t, e.Open())
	require.NoError(t, e.Run(ctx, tee))

	assert.Equal(t, emitter.StateCancelled, e.State())
	assert.Equal(t, 1, out.Len())
	ems, err := st.ReadEmissions(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, ems, 1)
	assert.Equal(t, int64(1), ems[0].Seq)
	assert.Equal(t, emitter.Stats{Emitted: 1, Lines: 1}, e.Stats())
}
