package analysis

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/julianshen/coverclient/pkg/cover"
)

type closeBuffer struct {
	bytes.Buffer
	closed bool
}

func (b *closeBuffer) Close() error {
	b.closed = true
	return nil
}

func TestJSONLinesSink(t *testing.T) {
	var buf closeBuffer
	sink := NewJSONLinesSink(&buf)

	require.NoError(t, sink.Write(sampleResult("1", "A")))
	require.NoError(t, sink.Write(sampleResult("2", "B")))
	require.NoError(t, sink.Close())
	assert.True(t, buf.closed)

	var ids []string
	sc := bufio.NewScanner(bytes.NewReader(buf.Bytes()))
	for sc.Scan() {
		var r cover.Result
		require.NoError(t, json.Unmarshal(sc.Bytes(), &r))
		ids = append(ids, r.TestID)
	}
	assert.Equal(t, []string{"1", "2"}, ids)
}

func TestJSONLinesSinkPlainWriter(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONLinesSink(&buf)
	require.NoError(t, sink.Write(sampleResult("1", "A")))
	require.NoError(t, sink.Close())
	assert.Contains(t, buf.String(), `"testId":"1"`)
}

func TestSinkFunc(t *testing.T) {
	var got []string
	sink := SinkFunc(func(r cover.Result) error {
		got = append(got, r.TestID)
		if r.TestID == "bad" {
			return errors.New("rejected")
		}
		return nil
	})

	require.NoError(t, sink.Write(cover.Result{TestID: "ok"}))
	assert.Error(t, sink.Write(cover.Result{TestID: "bad"}))
	assert.NoError(t, sink.Close())
	assert.Equal(t, []string{"ok", "bad"}, got)
}

func TestNilMetricsRecordNothing(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.observePoll(time.Second, nil)
		m.addResults(3)
		m.observeTransition(cover.StatusQueued, cover.StatusRunning)
	})
}
