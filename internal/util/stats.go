package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide traffic/connection counter.
var Stats = &stats{}

type stats struct {
	TotalConns  atomic.Int64 // cumulative count of opened connections since process start
	ClosedConns atomic.Int64 // cumulative count of closed connections since process start
	PacketsSent atomic.Int64 // packets written to sockets
	PacketsRecv atomic.Int64 // complete packets read from sockets
	BytesSent   atomic.Int64 // cumulative bytes written, headers included
	BytesRecv   atomic.Int64 // cumulative bytes read, headers included
}

func (s *stats) AddConn()    { s.TotalConns.Add(1) }
func (s *stats) RemoveConn() { s.ClosedConns.Add(1) }

func (s *stats) AddSent(n int) {
	s.PacketsSent.Add(1)
	s.BytesSent.Add(int64(n))
}

func (s *stats) AddRecv(n int) {
	s.PacketsRecv.Add(1)
	s.BytesRecv.Add(int64(n))
}

// Open returns the number of connections currently open.
func (s *stats) Open() int64 {
	return s.TotalConns.Load() - s.ClosedConns.Load()
}

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs traffic statistics
// every 10 seconds. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		var prevSent, prevRecv, prevPktSent, prevPktRecv int64
		for {
			select {
			case <-ticker.C:
				sent := Stats.BytesSent.Load()
				recv := Stats.BytesRecv.Load()
				pktSent := Stats.PacketsSent.Load()
				pktRecv := Stats.PacketsRecv.Load()

				inS := float64(recv-prevRecv) / 10.0
				outS := float64(sent-prevSent) / 10.0
				pktIn := pktRecv - prevPktRecv
				pktOut := pktSent - prevPktSent

				if pktIn > 0 || pktOut > 0 {
					pterm.DefaultLogger.Info(formatStats(inS, outS, pktIn, pktOut, Stats.Open()))
				}

				prevSent = sent
				prevRecv = recv
				prevPktSent = pktSent
				prevPktRecv = pktRecv

			case <-ctx.Done():
				return
			}
		}
	}()
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a human-readable string with fixed width (exactly 8 chars)
// for example: "99.0   B", " 1.5 KiB", " 0.1 MiB", "98.9 GiB", etc.
func formatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < 5 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// formatStats returns a formatted string of the current stats for display in the logger.
func formatStats(inS, outS float64, pktIn, pktOut, open int64) string {
	return fmt.Sprintf("In: %s/s | Out: %s/s | Packets: %d↓ %d↑ | Open: %d",
		formatBytes(inS),
		formatBytes(outS),
		pktIn,
		pktOut,
		open,
	)
}
