package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

type recordingNotifier struct {
	got    []Donation
	err    error
	closed bool
}

func (r *recordingNotifier) Notify(_ context.Context, d Donation) error {
	r.got = append(r.got, d)
	return r.err
}

func (r *recordingNotifier) Close() error {
	r.closed = true
	return r.err
}

func testDonation(id string) Donation {
	return Donation{
		Herotag:    "erd-streamer",
		Data:       []byte(`{"id":"` + id + `","amount":"0.5"}`),
		ReceivedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestWriterNotifier_JSONLines(t *testing.T) {
	var buf bytes.Buffer
	n := NewWriterNotifier(&buf)

	require.NoError(t, n.Notify(context.Background(), testDonation("a")))
	require.NoError(t, n.Notify(context.Background(), testDonation("b")))
	require.NoError(t, n.Close())

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)
	assert.True(t, json.Valid(lines[0]))
	assert.Equal(t, "a", gjson.GetBytes(lines[0], "data.id").String())
	assert.Equal(t, "b", gjson.GetBytes(lines[1], "data.id").String())
	assert.Equal(t, "erd-streamer", gjson.GetBytes(lines[1], "herotag").String())
	assert.Equal(t, "2024-05-01T12:00:00Z", gjson.GetBytes(lines[1], "receivedAt").String())
}

func TestFanout_DeliversToAll(t *testing.T) {
	failing := &recordingNotifier{err: errors.New("sink down")}
	healthy := &recordingNotifier{}
	fanout := Fanout{failing, healthy}

	err := fanout.Notify(context.Background(), testDonation("a"))

	assert.ErrorContains(t, err, "sink down")
	assert.Len(t, failing.got, 1)
	assert.Len(t, healthy.got, 1)

	assert.Error(t, fanout.Close())
	assert.True(t, failing.closed)
	assert.True(t, healthy.closed)
}

func TestFanout_Empty(t *testing.T) {
	assert.NoError(t, Fanout{}.Notify(context.Background(), testDonation("a")))
	assert.NoError(t, Fanout(nil).Close())
}
