package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPutReadUint32(t *testing.T) {
	tests := []struct {
		name  string
		value uint32
		want  []byte
	}{
		{"zero", 0, []byte{0, 0, 0, 0}},
		{"one", 1, []byte{0, 0, 0, 1}},
		{"mixed", 0x01020304, []byte{1, 2, 3, 4}},
		{"max", 0xFFFFFFFF, []byte{0xFF, 0xFF, 0xFF, 0xFF}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := make([]byte, 4)
			putUint32(buf, tt.value)
			assert.Equal(t, tt.want, buf)
			assert.Equal(t, tt.value, readUint32(buf))
		})
	}
}

func TestPutFixedString(t *testing.T) {
	slot := []byte{'x', 'x', 'x', 'x', 'x', 'x'}
	putFixedString(slot, "ab")
	assert.Equal(t, []byte{'a', 'b', 0, 0, 0, 0}, slot)

	putFixedString(slot, "abcdefgh")
	assert.Equal(t, []byte{'a', 'b', 'c', 'd', 'e', 0}, slot, "always leaves room for a terminator")
}

func TestReadFixedString(t *testing.T) {
	tests := []struct {
		name string
		slot []byte
		want string
	}{
		{"empty", []byte{0, 0, 0}, ""},
		{"padded", []byte{'h', 'i', 0, 0}, "hi"},
		{"stops at first NUL", []byte{'a', 0, 'b', 0}, "a"},
		{"unterminated", []byte{'a', 'b', 'c', 'd'}, "abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, readFixedString(tt.slot))
		})
	}
}
