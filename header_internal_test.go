package sevenzip

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestReadSubStreamsInfo_MixedKnownDigest covers a SubStreamsInfo block
// where one single-substream folder already has its CRC known from
// UnpackInfo and another doesn't, so only the second one's CRC appears in
// the SubStreamsInfo digest block. Getting the "how many digests does the
// block actually contain" count wrong desynchronizes every byte after it.
func TestReadSubStreamsInfo_MixedKnownDigest(t *testing.T) {
	t.Parallel()

	folders := []*folder{
		{size: []uint64{100}, unpackInfoDigestKnown: true, unpackInfoDigest: 0xdeadbeef},
		{size: []uint64{200}},
	}

	var buf bytes.Buffer

	buf.WriteByte(idCRC)
	buf.WriteByte(1) // all defined

	explicit := uint32(0x12345678)

	require.NoError(t, binary.Write(&buf, binary.LittleEndian, explicit))
	buf.WriteByte(idEnd)

	ssi, err := readSubStreamsInfo(bufio.NewReader(&buf), folders)
	require.NoError(t, err)

	require.Len(t, ssi.digest, 2)
	assert.Equal(t, uint32(0xdeadbeef), ssi.digest[0])
	assert.Equal(t, explicit, ssi.digest[1])
}
