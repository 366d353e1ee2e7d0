package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTCPFrameRoundTrip(t *testing.T) {
	frame, err := Build(Heartbeat, 0, 1, 2, 3, []byte("payload"))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteTCPFrame(&buf, frame))

	got, err := ReadTCPFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, frame, got)
}

func TestReadTCPFrameRejectsNonZeroReserved(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0x01, 0x00, 0x00, 0x0c})
	buf.Write(make([]byte, HeaderSize))

	_, err := ReadTCPFrame(&buf)
	require.Error(t, err)
}

func TestReadTCPFrameRejectsShortLength(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0x00, 0x00, 0x00, 0x05})
	_, err := ReadTCPFrame(&buf)
	require.Error(t, err)
}
