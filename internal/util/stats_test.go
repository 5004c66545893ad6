package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatBytes(t *testing.T) {
	testCases := []struct {
		in   float64
		want string
	}{
		{0, " 0.0   B"},
		{99, "99.0   B"},
		{1536, " 1.5 KiB"},
		{5 * 1024 * 1024, " 5.0 MiB"},
	}

	for _, tc := range testCases {
		got := formatBytes(tc.in)
		assert.Equal(t, tc.want, got)
		assert.Len(t, got, 8)
	}
}

func TestStatsCounters(t *testing.T) {
	s := &stats{}
	s.AddConn()
	s.AddConn()
	s.RemoveConn()
	s.AddSent(20)
	s.AddRecv(12)
	s.AddRecv(30)

	assert.Equal(t, int64(1), s.Open())
	assert.Equal(t, int64(1), s.PacketsSent.Load())
	assert.Equal(t, int64(2), s.PacketsRecv.Load())
	assert.Equal(t, int64(42), s.BytesRecv.Load())
}
