package logger

import "context"

type contextKey struct{}

// PacketContext carries per-packet correlation fields through a
// context.Context, trimmed down to the fields vnts's dispatcher and
// transport layer actually need (unlike a general-purpose RPC server's
// trace/share/uid set, there is no multi-tenant share or kerberos identity
// here, just the peer address, its resolved group/virtual-ip, the message
// being handled, and a connection id for TCP sessions).
type PacketContext struct {
	ConnID      string
	PeerAddr    string
	Group       string
	VirtualIP   uint32
	MessageType string
}

// WithContext attaches pc to ctx.
func WithContext(ctx context.Context, pc *PacketContext) context.Context {
	return context.WithValue(ctx, contextKey{}, pc)
}

// FromContext retrieves the PacketContext attached to ctx, or nil.
func FromContext(ctx context.Context) *PacketContext {
	pc, _ := ctx.Value(contextKey{}).(*PacketContext)
	return pc
}

func (pc *PacketContext) appendTo(args []any) []any {
	if pc.ConnID != "" {
		args = append(args, "conn_id", pc.ConnID)
	}
	if pc.PeerAddr != "" {
		args = append(args, "peer_addr", pc.PeerAddr)
	}
	if pc.Group != "" {
		args = append(args, "group", pc.Group)
	}
	if pc.VirtualIP != 0 {
		args = append(args, "virtual_ip", pc.VirtualIP)
	}
	if pc.MessageType != "" {
		args = append(args, "message_type", pc.MessageType)
	}
	return args
}
