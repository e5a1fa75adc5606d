// Package config holds the immutable configuration records consumed
// read-only by the tunnel core. Values are constructed once by the CLI
// layer (cmd/wstunnel) and shared by reference across every goroutine for
// the lifetime of the process; nothing in this package mutates a value
// after construction.
package config

import (
	"fmt"
	"time"
)

// LocalProtocol is the tagged variant describing how a local endpoint
// produces flows. The zero value is the same as Tcp(); use one of the
// constructors below to make the kind explicit.
type LocalProtocol struct {
	kind       localKind
	udpTimeout *time.Duration // nil => no timeout; see invariant (iii)
}

type localKind int

const (
	kindTCP localKind = iota
	kindUDP
	kindSocks5
	kindStdio
)

// Tcp describes a plain TCP listener whose remote is fixed by the
// TunnelSpec it belongs to.
func Tcp() LocalProtocol { return LocalProtocol{kind: kindTCP} }

// Udp describes a UDP listener. A nil timeout means flows never idle-close;
// DefaultUDPTimeout is used by ParseLocalSpec when the option is simply
// absent (invariant (iii) distinguishes "absent" from "explicitly zero").
func Udp(timeout *time.Duration) LocalProtocol {
	return LocalProtocol{kind: kindUDP, udpTimeout: timeout}
}

// DefaultUDPTimeout is applied by ParseLocalSpec when a udp:// spec omits
// timeout_sec entirely, and by the server when an upgrade path for udp
// carries no timeout_sec option.
const DefaultUDPTimeout = 30 * time.Second

// Socks5 describes a SOCKS5 listener; the tunnel remote is supplied
// per-flow by the client's CONNECT request.
func Socks5() LocalProtocol { return LocalProtocol{kind: kindSocks5} }

// Stdio describes the single stdio flow; only valid on unix targets.
func Stdio() LocalProtocol { return LocalProtocol{kind: kindStdio} }

func (p LocalProtocol) IsTCP() bool    { return p.kind == kindTCP }
func (p LocalProtocol) IsUDP() bool    { return p.kind == kindUDP }
func (p LocalProtocol) IsSocks5() bool { return p.kind == kindSocks5 }
func (p LocalProtocol) IsStdio() bool  { return p.kind == kindStdio }

// UDPTimeout reports the configured idle timeout and whether one is set
// at all (false => no timeout, flows never idle-close).
func (p LocalProtocol) UDPTimeout() (time.Duration, bool) {
	if p.udpTimeout == nil {
		return 0, false
	}
	return *p.udpTimeout, true
}

// WireName is the proto segment used in the upgrade path (spec.md §6):
// only tcp/udp ever cross the wire, since socks5/stdio resolve to a
// concrete tcp or udp destination before dialing the server.
func (p LocalProtocol) WireName() string {
	if p.kind == kindUDP {
		return "udp"
	}
	return "tcp"
}

func (p LocalProtocol) String() string {
	switch p.kind {
	case kindTCP:
		return "tcp"
	case kindUDP:
		return "udp"
	case kindSocks5:
		return "socks5"
	case kindStdio:
		return "stdio"
	default:
		return "unknown"
	}
}

// Destination names the remote host and port a tunnel connects to on the
// server side, independent of how the local protocol produced it.
type Destination struct {
	Host string
	Port uint16
}

func (d Destination) String() string { return fmt.Sprintf("%s:%d", d.Host, d.Port) }

// TunnelSpec is the per-tunnel configuration: one local listener mapped to
// one (possibly per-flow overridden) remote destination.
type TunnelSpec struct {
	LocalProtocol LocalProtocol
	LocalBind     string // host:port; sentinel 0.0.0.0:0 for Stdio (invariant iv)
	Remote        Destination
	SocketMark    *int // optional SO_MARK applied to the local listener
}

// StdioBindSentinel is the fixed, never-bound LocalBind value a Stdio
// TunnelSpec must carry (invariant iv).
const StdioBindSentinel = "0.0.0.0:0"

// TLSClientSettings configures the client's outbound TLS wrapping.
type TLSClientSettings struct {
	SNIOverride       string // empty => derive from remote host (§4.1)
	VerifyCertificate bool   // false => accept any certificate (off by default)
}

// TLSMaterial is a nonempty ordered certificate chain plus the matching
// DER-encoded private key, read once at startup.
type TLSMaterial struct {
	Chain [][]byte // DER-encoded certificates, leaf first
	Key   []byte   // DER-encoded private key
}

// BasicCredential is the optional Authorization: Basic credential attached
// to the client's upgrade request.
type BasicCredential struct {
	User string
	Pass string
}

// ClientConfig is the immutable, process-lifetime configuration for the
// client side. Constructed once by cmd/wstunnel and shared by reference
// across every tunnel's goroutines (invariant v) — never mutated after
// NewClientConfig returns.
type ClientConfig struct {
	remote                Destination
	tls                   *TLSClientSettings // nil => ws://, non-nil => wss:// (invariant i)
	httpUpgradePathPrefix string
	credential            *BasicCredential
	extraHeaders          map[string]string
	connectTimeout        time.Duration
	pingFrequency         time.Duration
	maskFrames            bool // client always masks per RFC 6455; reserved for parity with ServerConfig
}

const (
	// DefaultUpgradePathPrefix is used when the CLI does not override it.
	DefaultUpgradePathPrefix = "morille"
	// DefaultConnectTimeout bounds the TCP dial; the TLS handshake and the
	// upgrade that follow it are not covered by it.
	DefaultConnectTimeout = 10 * time.Second
	// DefaultPingFrequency is how often the websocket layer sends a ping.
	DefaultPingFrequency = 30 * time.Second
)

// ClientConfigOption mutates a ClientConfig under construction; used only
// inside NewClientConfig so the returned value is immutable thereafter.
type ClientConfigOption func(*ClientConfig)

func WithClientTLS(s TLSClientSettings) ClientConfigOption {
	return func(c *ClientConfig) { c.tls = &s }
}

func WithUpgradePathPrefix(prefix string) ClientConfigOption {
	return func(c *ClientConfig) { c.httpUpgradePathPrefix = prefix }
}

func WithBasicCredential(cred BasicCredential) ClientConfigOption {
	return func(c *ClientConfig) { c.credential = &cred }
}

func WithExtraHeader(name, value string) ClientConfigOption {
	return func(c *ClientConfig) {
		if c.extraHeaders == nil {
			c.extraHeaders = map[string]string{}
		}
		c.extraHeaders[name] = value
	}
}

func WithConnectTimeout(d time.Duration) ClientConfigOption {
	return func(c *ClientConfig) { c.connectTimeout = d }
}

func WithPingFrequency(d time.Duration) ClientConfigOption {
	return func(c *ClientConfig) { c.pingFrequency = d }
}

// NewClientConfig validates nothing beyond invariant (ii) (no slashes in
// the prefix) — the CLI collaborator guarantees everything else per
// spec.md §4.6 — and returns a config ready to be shared across tunnels.
func NewClientConfig(remote Destination, opts ...ClientConfigOption) (*ClientConfig, error) {
	c := &ClientConfig{
		remote:                remote,
		httpUpgradePathPrefix: DefaultUpgradePathPrefix,
		connectTimeout:        DefaultConnectTimeout,
		pingFrequency:         DefaultPingFrequency,
	}
	for _, opt := range opts {
		opt(c)
	}
	if containsSlash(c.httpUpgradePathPrefix) {
		return nil, fmt.Errorf("http_upgrade_path_prefix %q must not contain '/'", c.httpUpgradePathPrefix)
	}
	return c, nil
}

func containsSlash(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == '/' {
			return true
		}
	}
	return false
}

func (c *ClientConfig) Remote() Destination           { return c.remote }
func (c *ClientConfig) TLS() (TLSClientSettings, bool) {
	if c.tls == nil {
		return TLSClientSettings{}, false
	}
	return *c.tls, true
}
func (c *ClientConfig) Scheme() string {
	if c.tls != nil {
		return "wss"
	}
	return "ws"
}
func (c *ClientConfig) UpgradePathPrefix() string { return c.httpUpgradePathPrefix }
func (c *ClientConfig) Credential() (BasicCredential, bool) {
	if c.credential == nil {
		return BasicCredential{}, false
	}
	return *c.credential, true
}
func (c *ClientConfig) ExtraHeaders() map[string]string { return c.extraHeaders }
func (c *ClientConfig) ConnectTimeout() time.Duration   { return c.connectTimeout }
func (c *ClientConfig) PingFrequency() time.Duration    { return c.pingFrequency }

// TLSServerSettings configures the server's inbound TLS termination.
type TLSServerSettings struct {
	Material TLSMaterial
}

// ServerConfig is the immutable, process-lifetime configuration for the
// server side.
type ServerConfig struct {
	bind                  string
	socketMark            *int
	restrictTo            map[string]struct{} // nil => no restriction
	pingFrequency         time.Duration
	connectTimeout        time.Duration
	maskFrames            bool // see wsframe doc: server-side mask_frame is a documented compatibility escape hatch
	httpUpgradePathPrefix string
	tls                   *TLSServerSettings
}

type ServerConfigOption func(*ServerConfig)

func WithServerSocketMark(mark int) ServerConfigOption {
	return func(s *ServerConfig) { s.socketMark = &mark }
}

func WithRestrictTo(entries []string) ServerConfigOption {
	return func(s *ServerConfig) {
		if len(entries) == 0 {
			return
		}
		m := make(map[string]struct{}, len(entries))
		for _, e := range entries {
			m[e] = struct{}{}
		}
		s.restrictTo = m
	}
}

func WithServerPingFrequency(d time.Duration) ServerConfigOption {
	return func(s *ServerConfig) { s.pingFrequency = d }
}

func WithServerConnectTimeout(d time.Duration) ServerConfigOption {
	return func(s *ServerConfig) { s.connectTimeout = d }
}

func WithServerMaskFrames(v bool) ServerConfigOption {
	return func(s *ServerConfig) { s.maskFrames = v }
}

func WithServerTLS(m TLSMaterial) ServerConfigOption {
	return func(s *ServerConfig) { s.tls = &TLSServerSettings{Material: m} }
}

func WithServerUpgradePathPrefix(prefix string) ServerConfigOption {
	return func(s *ServerConfig) { s.httpUpgradePathPrefix = prefix }
}

// NewServerConfig validates invariant (ii) (no slashes in the prefix), the
// same rule NewClientConfig enforces, and returns a config ready to be
// shared across sessions.
func NewServerConfig(bind string, opts ...ServerConfigOption) (*ServerConfig, error) {
	s := &ServerConfig{
		bind:                  bind,
		pingFrequency:         DefaultPingFrequency,
		connectTimeout:        DefaultConnectTimeout,
		httpUpgradePathPrefix: DefaultUpgradePathPrefix,
	}
	for _, opt := range opts {
		opt(s)
	}
	if containsSlash(s.httpUpgradePathPrefix) {
		return nil, fmt.Errorf("http_upgrade_path_prefix %q must not contain '/'", s.httpUpgradePathPrefix)
	}
	return s, nil
}

func (s *ServerConfig) Bind() string               { return s.bind }
func (s *ServerConfig) SocketMark() (int, bool) {
	if s.socketMark == nil {
		return 0, false
	}
	return *s.socketMark, true
}
func (s *ServerConfig) PingFrequency() time.Duration  { return s.pingFrequency }
func (s *ServerConfig) ConnectTimeout() time.Duration { return s.connectTimeout }
func (s *ServerConfig) MaskFrames() bool              { return s.maskFrames }
func (s *ServerConfig) UpgradePathPrefix() string     { return s.httpUpgradePathPrefix }
func (s *ServerConfig) TLS() (TLSServerSettings, bool) {
	if s.tls == nil {
		return TLSServerSettings{}, false
	}
	return *s.tls, true
}

// Allowed reports whether dest is present in the restriction list, or true
// if no restriction list is configured (spec.md §8 property 4).
func (s *ServerConfig) Allowed(dest Destination) bool {
	if s.restrictTo == nil {
		return true
	}
	_, ok := s.restrictTo[dest.String()]
	return ok
}
