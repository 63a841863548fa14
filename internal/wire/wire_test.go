package wire_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sharenet/sharenet/internal/wire"
)

func roundTrip(t *testing.T, m wire.Message) wire.Message {
	t.Helper()
	encoded := wire.Encode(m)
	decoded, err := wire.Decode(encoded)
	require.NoError(t, err)
	return decoded
}

func TestRoundTripControlMessages(t *testing.T) {
	assert.Equal(t, wire.JoinReq{}, roundTrip(t, wire.JoinReq{}))
	assert.Equal(t, wire.NeighborReq{}, roundTrip(t, wire.NeighborReq{}))
	assert.Equal(t, wire.JoinAck{NeighborCount: 4}, roundTrip(t, wire.JoinAck{NeighborCount: 4}))

	req := wire.SearchReq{FileName: "movie.mp4", ReachedPath: []string{"10.0.0.2", "10.0.0.1"}, SearchID: "abc123"}
	assert.Equal(t, req, roundTrip(t, req))

	res := wire.SearchRes{
		FileName:    "movie.mp4",
		ReachedPath: []string{"10.0.0.1"},
		SearchID:    "abc123",
		Hits: []wire.FileHit{
			{Name: "movie.mp4", Size: 1024, Source: "10.0.0.3", Depth: 2},
		},
	}
	assert.Equal(t, res, roundTrip(t, res))

	dreq := wire.DownloadReq{FileName: "movie.mp4"}
	assert.Equal(t, dreq, roundTrip(t, dreq))
}

func TestRoundTripSearchReqEmptyPath(t *testing.T) {
	req := wire.SearchReq{FileName: "x", ReachedPath: nil, SearchID: "s1"}
	got := roundTrip(t, req).(wire.SearchReq)
	assert.Equal(t, "x", got.FileName)
	assert.Empty(t, got.ReachedPath)
}

func TestDownloadDataStartAndEnd(t *testing.T) {
	start := wire.NewStartPacket("movie.mp4", 42)
	got := roundTrip(t, start).(wire.DownloadData)
	assert.True(t, got.IsStart())
	assert.Nil(t, got.Payload)
	assert.Equal(t, 42, got.NextPacketSize)
	assert.Empty(t, got.ReachedNodes)

	end := wire.NewEndPacket("movie.mp4")
	got = roundTrip(t, end).(wire.DownloadData)
	assert.True(t, got.IsEnd())
	assert.Equal(t, 0, got.NextPacketSize)
}

func TestDownloadDataChunkRoundTrip(t *testing.T) {
	chunk := wire.NewDataPacket("movie.mp4", 3, []byte("HELLO_WORLD"), []string{"10.0.0.5"}, 128)
	got := roundTrip(t, chunk).(wire.DownloadData)
	assert.Equal(t, 3, got.ChunkNo)
	assert.Equal(t, []byte("HELLO_WORLD"), got.Payload)
	assert.Equal(t, []string{"10.0.0.5"}, got.ReachedNodes)
	assert.Equal(t, 128, got.NextPacketSize)
}

func TestNextPacketSizeIsFourDigitsZeroPadded(t *testing.T) {
	chunk := wire.NewDataPacket("f", 0, []byte("hi"), nil, 7)
	encoded := string(wire.Encode(chunk))
	require.Contains(t, encoded, ";0007")
}

func TestStartPacketSizeMatchesEncodedLength(t *testing.T) {
	start := wire.NewStartPacket("movie.mp4", 0)
	assert.Equal(t, len(wire.Encode(start)), wire.StartPacketSize("movie.mp4"))
}

// TestUnescapedSeparatorInPayloadCorruptsFraming documents the known,
// intentional fragility of the grammar: a payload byte equal to the field
// separator desynchronizes the remaining fields instead of being escaped, so
// the frame no longer decodes.
func TestUnescapedSeparatorInPayloadCorruptsFraming(t *testing.T) {
	chunk := wire.NewDataPacket("f", 1, []byte("a;b"), []string{"10.0.0.1"}, 99)
	encoded := wire.Encode(chunk)

	decoded, err := wire.Decode(encoded)
	require.ErrorIs(t, err, wire.ErrMalformed)

	assert.Nil(t, decoded, "a literal separator in the payload is expected to split the frame, not round-trip")
}

func TestDecodeUnknownCommand(t *testing.T) {
	_, err := wire.Decode([]byte("BOGUS;1;2"))
	assert.ErrorIs(t, err, wire.ErrUnknownCommand)
}

func TestDecodeMalformedJoinAck(t *testing.T) {
	_, err := wire.Decode([]byte("JOIN_ACK;not-a-number"))
	assert.ErrorIs(t, err, wire.ErrMalformed)
}
