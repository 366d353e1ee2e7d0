// Package session implements the four coordinated expiring maps that track
// live clients between registration and eviction: address bindings, IP
// bindings, cipher sessions and admin auth tokens.
//
// Lock ordering: the session maps are always locked before the group
// registry is ever touched from inside an eviction callback, and
// expiremap.Map releases its own write guard before invoking the callback,
// so an eviction handler here never holds a session map's guard while it
// acquires a group.Network's guard. This is the order the design notes
// require; reversing it would let a concurrent registration and an
// in-flight eviction deadlock against each other.
package session

import (
	"time"

	"github.com/ziyouwa/vnts/internal/cipher"
	"github.com/ziyouwa/vnts/internal/expiremap"
	"github.com/ziyouwa/vnts/internal/group"
)

const (
	addrBindingTTL   = 20 * time.Second
	ipBindingTTL     = 24 * time.Hour
	cipherSessionTTL = 120 * time.Second
	authTokenTTL     = 24 * time.Hour
)

// Binding is the (group, virtual-ip) an address currently maps to, plus the
// timestamp discriminator that lets a superseding registration invalidate a
// stale eviction without being evicted itself.
type Binding struct {
	Group     string
	VirtualIP uint32
	Timestamp int64
}

// IPKey is the (group, virtual-ip) key for the reverse ip-binding map.
type IPKey struct {
	Group     string
	VirtualIP uint32
}

// Context is what LookupContext resolves an address to.
type Context struct {
	Network   *group.Network
	Group     string
	VirtualIP uint32
}

// Cache composes the address binding, IP binding, cipher session and auth
// token expiring maps under one handle.
type Cache struct {
	addrBinding   *expiremap.Map[string, Binding]
	ipBinding     *expiremap.Map[IPKey, string]
	cipherSession *expiremap.Map[string, *cipher.Session]
	fingerprint   *expiremap.Map[string, *cipher.Fingerprinter]
	authToken     *expiremap.Map[string, struct{}]
	groups        *group.Registry
}

// New builds a Cache whose eviction callbacks cascade into groups.
func New(groups *group.Registry) *Cache {
	c := &Cache{groups: groups}
	c.ipBinding = expiremap.New(c.evictIPBinding)
	c.addrBinding = expiremap.New(c.evictAddrBinding)
	c.cipherSession = expiremap.New(func(string, *cipher.Session) {})
	c.fingerprint = expiremap.New(func(string, *cipher.Fingerprinter) {})
	c.authToken = expiremap.New(func(string, struct{}) {})
	return c
}

func (c *Cache) evictIPBinding(key IPKey, addr string) {
	net, ok := c.groups.LookupNetwork(key.Group)
	if !ok {
		return
	}
	net.Remove(key.VirtualIP, addr)
}

func (c *Cache) evictAddrBinding(addr string, b Binding) {
	net, ok := c.groups.LookupNetwork(b.Group)
	if !ok {
		return
	}
	net.Touch(b.VirtualIP, addr, b.Timestamp)
}

// LookupContext atomically renews the address binding and its (group,
// virtual-ip) binding, returning the resolved context or false if either is
// absent.
func (c *Cache) LookupContext(addr string) (Context, bool) {
	b, ok := c.addrBinding.GetAndRenew(addr)
	if !ok {
		return Context{}, false
	}

	key := IPKey{Group: b.Group, VirtualIP: b.VirtualIP}
	if _, ok := c.ipBinding.GetAndRenew(key); !ok {
		return Context{}, false
	}

	net, ok := c.groups.LookupNetwork(b.Group)
	if !ok {
		return Context{}, false
	}

	return Context{Network: net, Group: b.Group, VirtualIP: b.VirtualIP}, true
}

// Bind installs or refreshes the address and IP bindings, and optionally
// the cipher session, for a client that has just registered or sent a
// keep-alive. timestamp is the discriminator stored alongside the binding.
func (c *Cache) Bind(addr, groupID string, vip uint32, timestamp int64, sess *cipher.Session) {
	c.addrBinding.Insert(addr, Binding{Group: groupID, VirtualIP: vip, Timestamp: timestamp}, addrBindingTTL)
	c.ipBinding.Insert(IPKey{Group: groupID, VirtualIP: vip}, addr, ipBindingTTL)
	if sess != nil {
		c.cipherSession.Insert(addr, sess, cipherSessionTTL)
	}
}

// DropAddress explicitly removes an address binding, e.g. on TCP
// disconnect. No eviction callback runs; the caller is expected to have
// already applied whatever side effect it wants (a TCP disconnect marks the
// client offline immediately rather than waiting out the binding's TTL).
func (c *Cache) DropAddress(addr string) {
	c.addrBinding.Delete(addr)
}

// CipherSession returns the address's current AEAD session, renewing its
// TTL on each successful lookup. The dispatcher looks the session up before
// decrypting, so the TTL is renewed even when the packet that prompted the
// lookup then fails to decrypt.
func (c *Cache) CipherSession(addr string) (*cipher.Session, bool) {
	return c.cipherSession.GetAndRenew(addr)
}

// InstallCipherSession installs a freshly negotiated AEAD session for addr.
func (c *Cache) InstallCipherSession(addr string, sess *cipher.Session) {
	c.cipherSession.Insert(addr, sess, cipherSessionTTL)
}

// Fingerprinter returns the address's keyed-MAC fingerprinter installed at
// handshake time, renewing its TTL alongside the cipher session it was
// derived with.
func (c *Cache) Fingerprinter(addr string) (*cipher.Fingerprinter, bool) {
	return c.fingerprint.GetAndRenew(addr)
}

// InstallFingerprinter installs the address's fingerprinter, derived from
// the same handshake that produced its AEAD session.
func (c *Cache) InstallFingerprinter(addr string, fp *cipher.Fingerprinter) {
	c.fingerprint.Insert(addr, fp, cipherSessionTTL)
}

// IssueAuthToken installs a new admin auth token.
func (c *Cache) IssueAuthToken(token string) {
	c.authToken.Insert(token, struct{}{}, authTokenTTL)
}

// ValidAuthToken reports whether token is a live admin session token. No
// refresh: tokens are not extended by use.
func (c *Cache) ValidAuthToken(token string) bool {
	_, ok := c.authToken.Get(token)
	return ok
}

// SessionCount reports the number of live address bindings, for metrics
// gauge reporting.
func (c *Cache) SessionCount() int {
	return c.addrBinding.Size()
}
