package eventlog

import (
	"errors"
	"math/rand/v2"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormat(t *testing.T) {
	tests := []struct {
		name string
		rec  Record
		want string
	}{
		{
			name: "start",
			rec:  Record{Type: EventStart, Timestamp: 1700000000.5, QueueDepth: 0, Clock: 0, Extra: StartExtra(3, 0.7)},
			want: "START,1700000000.5,0,0,clock_rate=3;internal_prob=0.7",
		},
		{
			name: "internal",
			rec:  Record{Type: EventInternal, Timestamp: 1700000001.25, QueueDepth: 2, Clock: 7},
			want: "INTERNAL,1700000001.25,2,7",
		},
		{
			name: "send to one peer",
			rec:  Record{Type: EventSend, Timestamp: 12, QueueDepth: 0, Clock: 8, Extra: SendExtra([]int{1})},
			want: "SEND,12,0,8,peer(s) [1]",
		},
		{
			name: "broadcast",
			rec:  Record{Type: EventSend, Timestamp: 12, QueueDepth: 1, Clock: 9, Extra: SendExtra(nil)},
			want: "SEND,12,1,9,all peers",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Format(tt.rec))
		})
	}
}

func TestParse_SplitsOnFirstFourCommas(t *testing.T) {
	rec, err := Parse("SEND,1.5,3,42,peer(s) [0,1]")
	require.NoError(t, err)
	assert.Equal(t, EventSend, rec.Type)
	assert.Equal(t, 1.5, rec.Timestamp)
	assert.Equal(t, 3, rec.QueueDepth)
	assert.Equal(t, int64(42), rec.Clock)
	assert.Equal(t, "peer(s) [0,1]", rec.Extra)
}

func TestParse_Errors(t *testing.T) {
	lines := []string{
		"",
		"INTERNAL,1.0,2",
		"BOGUS,1.0,2,3",
		"INTERNAL,abc,2,3",
		"INTERNAL,1.0,x,3",
		"INTERNAL,1.0,2,y",
	}
	for _, line := range lines {
		t.Run(line, func(t *testing.T) {
			_, err := Parse(line)
			require.Error(t, err)
			var pe *ParseError
			assert.True(t, errors.As(err, &pe))
		})
	}
}

func TestRoundTrip_Exact(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	types := []EventType{EventStart, EventInternal, EventSend, EventReceive}
	extras := map[EventType]string{
		EventStart: StartExtra(6, 0.4),
		EventSend:  SendExtra([]int{0, 2}),
	}

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 500; i++ {
		typ := types[rng.IntN(len(types))]
		want := Record{
			Type:       typ,
			Timestamp:  Seconds(base.Add(time.Duration(rng.Int64N(int64(time.Hour))))),
			QueueDepth: rng.IntN(1000),
			Clock:      rng.Int64N(1 << 40),
			Extra:      extras[typ],
		}

		got, err := Parse(Format(want))
		require.NoError(t, err)
		assert.Equal(t, want, got, "record %d must round-trip exactly", i)
	}
}

func TestReadAll(t *testing.T) {
	input := strings.Join([]string{
		"START,10,0,0,clock_rate=2;internal_prob=0.70",
		"",
		"INTERNAL,10.5,0,1",
		"RECEIVE,11,1,5",
	}, "\n")

	recs, err := ReadAll(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, EventReceive, recs[2].Type)
	assert.Equal(t, int64(5), recs[2].Clock)
}

func TestReadAll_ReportsLineNumber(t *testing.T) {
	input := "INTERNAL,1,0,1\nINTERNAL,2,0,2\nnot a record\n"

	_, err := ReadAll(strings.NewReader(input))
	require.Error(t, err)
	var pe *ParseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, 3, pe.Line)
	assert.Contains(t, err.Error(), "line 3")
}

func TestStartExtra_KeepsFullPrecision(t *testing.T) {
	assert.Equal(t, "clock_rate=3;internal_prob=0.125", StartExtra(3, 0.125))
	assert.Equal(t, "clock_rate=1;internal_prob=1", StartExtra(1, 1))
	assert.Equal(t, "0.125", ParseParams(StartExtra(3, 0.125))["internal_prob"])
}

func TestParseParams(t *testing.T) {
	params := ParseParams("clock_rate=3;internal_prob=0.70")
	assert.Equal(t, "3", params["clock_rate"])
	assert.Equal(t, "0.70", params["internal_prob"])

	legacy := ParseParams("clock_rate=5,internal_prob=0.4")
	assert.Equal(t, "5", legacy["clock_rate"])
	assert.Equal(t, "0.4", legacy["internal_prob"])

	assert.Empty(t, ParseParams(""))
}

func TestSendExtra(t *testing.T) {
	assert.Equal(t, "all peers", SendExtra(nil))
	assert.Equal(t, "peer(s) [0]", SendExtra([]int{0}))
	assert.Equal(t, "peer(s) [0,1,4]", SendExtra([]int{0, 1, 4}))
	assert.Equal(t, "peer(s) []", SendExtra([]int{}))
}

func TestEventType_Valid(t *testing.T) {
	assert.True(t, EventStart.Valid())
	assert.True(t, EventReceive.Valid())
	assert.False(t, EventType("start").Valid())
}
