package wire

// PublicKeyReplyPayload carries the server's RSA public key (PKIX DER) and
// its SHA-256 fingerprint.
type PublicKeyReplyPayload struct {
	PublicKeyDER []byte
	Fingerprint  [32]byte
}

func (p PublicKeyReplyPayload) Encode() []byte {
	w := &fieldWriter{}
	w.bytes(p.PublicKeyDER)
	w.buf = append(w.buf, p.Fingerprint[:]...)
	return w.buf
}

func DecodePublicKeyReply(buf []byte) (PublicKeyReplyPayload, error) {
	r := newFieldReader(buf)
	der, err := r.bytesField()
	if err != nil {
		return PublicKeyReplyPayload{}, err
	}
	if err := r.need(32); err != nil {
		return PublicKeyReplyPayload{}, err
	}
	var fp [32]byte
	copy(fp[:], r.buf[r.off:r.off+32])
	r.off += 32
	return PublicKeyReplyPayload{PublicKeyDER: der, Fingerprint: fp}, nil
}

// RegistrationPayload is the decrypted body of a Registration control
// packet.
type RegistrationPayload struct {
	Version           string
	Name              string
	DeviceID          string
	GroupID           string
	Token             string
	RequestedIP       uint32
	HasRequestedIP    bool
	ClientChoseSecret bool
}

func (p RegistrationPayload) Encode() []byte {
	w := &fieldWriter{}
	w.str(p.Version)
	w.str(p.Name)
	w.str(p.DeviceID)
	w.str(p.GroupID)
	w.str(p.Token)
	w.bool(p.HasRequestedIP)
	w.u32(p.RequestedIP)
	w.bool(p.ClientChoseSecret)
	return w.buf
}

func DecodeRegistration(buf []byte) (RegistrationPayload, error) {
	r := newFieldReader(buf)
	var p RegistrationPayload
	var err error
	if p.Version, err = r.str(); err != nil {
		return p, err
	}
	if p.Name, err = r.str(); err != nil {
		return p, err
	}
	if p.DeviceID, err = r.str(); err != nil {
		return p, err
	}
	if p.GroupID, err = r.str(); err != nil {
		return p, err
	}
	if p.Token, err = r.str(); err != nil {
		return p, err
	}
	if p.HasRequestedIP, err = r.boolean(); err != nil {
		return p, err
	}
	if p.RequestedIP, err = r.u32(); err != nil {
		return p, err
	}
	if p.ClientChoseSecret, err = r.boolean(); err != nil {
		return p, err
	}
	return p, nil
}

// RegistrationReplyPayload is the successful reply to a Registration.
type RegistrationReplyPayload struct {
	VirtualIP  uint32
	NetworkIP  uint32
	Netmask    uint32
	Gateway    uint32
	Epoch      uint64
	PeerDigest uint64
}

func (p RegistrationReplyPayload) Encode() []byte {
	w := &fieldWriter{}
	w.u32(p.VirtualIP)
	w.u32(p.NetworkIP)
	w.u32(p.Netmask)
	w.u32(p.Gateway)
	w.u64(p.Epoch)
	w.u64(p.PeerDigest)
	return w.buf
}

func DecodeRegistrationReply(buf []byte) (RegistrationReplyPayload, error) {
	r := newFieldReader(buf)
	var p RegistrationReplyPayload
	var err error
	if p.VirtualIP, err = r.u32(); err != nil {
		return p, err
	}
	if p.NetworkIP, err = r.u32(); err != nil {
		return p, err
	}
	if p.Netmask, err = r.u32(); err != nil {
		return p, err
	}
	if p.Gateway, err = r.u32(); err != nil {
		return p, err
	}
	if p.Epoch, err = r.u64(); err != nil {
		return p, err
	}
	if p.PeerDigest, err = r.u64(); err != nil {
		return p, err
	}
	return p, nil
}

// RegistrationErrorPayload reports IpExhausted/TokenRejected/GroupFull/
// VersionMismatch back to the client.
type RegistrationErrorPayload struct {
	Kind    string
	Message string
}

func (p RegistrationErrorPayload) Encode() []byte {
	w := &fieldWriter{}
	w.str(p.Kind)
	w.str(p.Message)
	return w.buf
}

func DecodeRegistrationError(buf []byte) (RegistrationErrorPayload, error) {
	r := newFieldReader(buf)
	var p RegistrationErrorPayload
	var err error
	if p.Kind, err = r.str(); err != nil {
		return p, err
	}
	if p.Message, err = r.str(); err != nil {
		return p, err
	}
	return p, nil
}

// PollDeviceListPayload carries the client's last-known epoch.
type PollDeviceListPayload struct {
	Epoch uint64
}

func (p PollDeviceListPayload) Encode() []byte {
	w := &fieldWriter{}
	w.u64(p.Epoch)
	return w.buf
}

func DecodePollDeviceList(buf []byte) (PollDeviceListPayload, error) {
	r := newFieldReader(buf)
	epoch, err := r.u64()
	return PollDeviceListPayload{Epoch: epoch}, err
}

// PeerEntry is one member reported in a PeerListReply.
type PeerEntry struct {
	VirtualIP uint32
	Address   string
	Name      string
	Online    bool
}

// PeerListReplyPayload reports the current group membership.
type PeerListReplyPayload struct {
	Epoch uint64
	Peers []PeerEntry
}

func (p PeerListReplyPayload) Encode() []byte {
	w := &fieldWriter{}
	w.u64(p.Epoch)
	w.buf = append(w.buf, byte(len(p.Peers)>>8), byte(len(p.Peers)))
	for _, peer := range p.Peers {
		w.u32(peer.VirtualIP)
		w.str(peer.Address)
		w.str(peer.Name)
		w.bool(peer.Online)
	}
	return w.buf
}

func DecodePeerListReply(buf []byte) (PeerListReplyPayload, error) {
	r := newFieldReader(buf)
	var p PeerListReplyPayload
	var err error
	if p.Epoch, err = r.u64(); err != nil {
		return p, err
	}
	if err := r.need(2); err != nil {
		return p, err
	}
	count := int(r.buf[r.off])<<8 | int(r.buf[r.off+1])
	r.off += 2
	p.Peers = make([]PeerEntry, 0, count)
	for i := 0; i < count; i++ {
		var e PeerEntry
		if e.VirtualIP, err = r.u32(); err != nil {
			return p, err
		}
		if e.Address, err = r.str(); err != nil {
			return p, err
		}
		if e.Name, err = r.str(); err != nil {
			return p, err
		}
		if e.Online, err = r.boolean(); err != nil {
			return p, err
		}
		p.Peers = append(p.Peers, e)
	}
	return p, nil
}

// HeartbeatPayload carries the client's optional telemetry.
type HeartbeatPayload struct {
	HasTelemetry    bool
	UpstreamBytes   uint64
	DownstreamBytes uint64
	NATConeType     string
	Peers           []uint32
}

func (p HeartbeatPayload) Encode() []byte {
	w := &fieldWriter{}
	w.bool(p.HasTelemetry)
	if !p.HasTelemetry {
		return w.buf
	}
	w.u64(p.UpstreamBytes)
	w.u64(p.DownstreamBytes)
	w.str(p.NATConeType)
	w.buf = append(w.buf, byte(len(p.Peers)>>8), byte(len(p.Peers)))
	for _, vip := range p.Peers {
		w.u32(vip)
	}
	return w.buf
}

func DecodeHeartbeat(buf []byte) (HeartbeatPayload, error) {
	r := newFieldReader(buf)
	var p HeartbeatPayload
	var err error
	if p.HasTelemetry, err = r.boolean(); err != nil {
		return p, err
	}
	if !p.HasTelemetry {
		return p, nil
	}
	if p.UpstreamBytes, err = r.u64(); err != nil {
		return p, err
	}
	if p.DownstreamBytes, err = r.u64(); err != nil {
		return p, err
	}
	if p.NATConeType, err = r.str(); err != nil {
		return p, err
	}
	if err := r.need(2); err != nil {
		return p, err
	}
	count := int(r.buf[r.off])<<8 | int(r.buf[r.off+1])
	r.off += 2
	p.Peers = make([]uint32, 0, count)
	for i := 0; i < count; i++ {
		vip, err := r.u32()
		if err != nil {
			return p, err
		}
		p.Peers = append(p.Peers, vip)
	}
	return p, nil
}

// TimeSyncPayload carries the sender's clock reading (unix nanoseconds).
type TimeSyncPayload struct {
	Timestamp int64
}

func (p TimeSyncPayload) Encode() []byte {
	w := &fieldWriter{}
	w.u64(uint64(p.Timestamp))
	return w.buf
}

func DecodeTimeSync(buf []byte) (TimeSyncPayload, error) {
	r := newFieldReader(buf)
	ts, err := r.u64()
	return TimeSyncPayload{Timestamp: int64(ts)}, err
}

// SecretKeyAckPayload is the plaintext sealed into SecretKeyAck.
type SecretKeyAckPayload struct {
	OK bool
}

func (p SecretKeyAckPayload) Encode() []byte {
	w := &fieldWriter{}
	w.bool(p.OK)
	return w.buf
}

func DecodeSecretKeyAck(buf []byte) (SecretKeyAckPayload, error) {
	r := newFieldReader(buf)
	ok, err := r.boolean()
	return SecretKeyAckPayload{OK: ok}, err
}

// PunchReplyPayload tells one endpoint of a punch-request the peer's
// observed public address.
type PunchReplyPayload struct {
	PeerVirtualIP uint32
	PeerAddress   string
}

func (p PunchReplyPayload) Encode() []byte {
	w := &fieldWriter{}
	w.u32(p.PeerVirtualIP)
	w.str(p.PeerAddress)
	return w.buf
}

func DecodePunchReply(buf []byte) (PunchReplyPayload, error) {
	r := newFieldReader(buf)
	var p PunchReplyPayload
	var err error
	if p.PeerVirtualIP, err = r.u32(); err != nil {
		return p, err
	}
	if p.PeerAddress, err = r.str(); err != nil {
		return p, err
	}
	return p, nil
}

// UnreachablePayload names the virtual IP the sender tried to reach.
type UnreachablePayload struct {
	TargetVIP uint32
}

func (p UnreachablePayload) Encode() []byte {
	w := &fieldWriter{}
	w.u32(p.TargetVIP)
	return w.buf
}

func DecodeUnreachable(buf []byte) (UnreachablePayload, error) {
	r := newFieldReader(buf)
	vip, err := r.u32()
	return UnreachablePayload{TargetVIP: vip}, err
}
