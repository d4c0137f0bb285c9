package ingestsrv

import (
	"context"

	"github.com/sinyalist/ingestd/pkg/wire"
)

// runRelayWorker consumes consensus-gated high-priority packets and forwards
// them to the external relay sink. Today that sink is a structured log line;
// a real deployment would swap this for a call into the downstream
// emergency-services relay. No retries, no reordering guarantees. Packets are
// offered to this channel before the pipeline's persistence enqueue, so a
// relayed packet is not guaranteed to have been persisted.
func (s *Server) runRelayWorker(ctx context.Context, ch <-chan *wire.Packet) {
	for {
		select {
		case <-ctx.Done():
			return
		case pkt := <-ch:
			s.Logger.Info().
				Str("component", "relay").
				Uint64("user_id", pkt.UserID).
				Int32("lat_e7", pkt.LatE7).
				Int32("lon_e7", pkt.LonE7).
				Bool("is_trapped", pkt.IsTrapped).
				Uint8("msg_type", uint8(pkt.MsgType)).
				Uint8("alert_level", uint8(pkt.AlertLevel)).
				Msg("relay: high-priority packet")
		}
	}
}
