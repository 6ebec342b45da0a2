package firmware

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParsePCChangeRecord(t *testing.T) {
	buf := make([]byte, PCChangeRecordBytes)
	binary.LittleEndian.PutUint32(buf[0:4], 42)
	binary.LittleEndian.PutUint16(buf[4:6], 1)
	binary.LittleEndian.PutUint64(buf[8:16], 123456789)
	binary.LittleEndian.PutUint64(buf[16:24], 0x54)

	rec := parsePCChangeRecord(buf)

	assert.EqualValues(t, 42, rec.Tag)
	assert.EqualValues(t, 1, rec.Flags)
	assert.EqualValues(t, 123456789, rec.Timestamp)
	assert.EqualValues(t, 4, rec.destinationClass(0))
	assert.EqualValues(t, 5, rec.destinationClass(1))
}
