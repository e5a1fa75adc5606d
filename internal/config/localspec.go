package config

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"wstunnel/internal/wserr"
)

// ParseLocalSpec parses one -L flag value into a TunnelSpec. Grammar
// (spec.md §6):
//
//	tcp://[BIND:]PORT:HOST:PORT[?socket_so_mark=N]
//	udp://[BIND:]PORT:HOST:PORT[?timeout_sec=N&socket_so_mark=N]
//	socks5://[BIND:]PORT[?socket_so_mark=N]
//	stdio://HOST:PORT
//
// Unlike the Rust original this distills from — which slices the scheme
// off by a hard-coded byte offset — this parser splits on "://" explicitly
// and then walks fields from the right, so it never depends on any one
// scheme's length. A bracketed IPv6 bind or host is kept as one field and
// its brackets are stripped before use.
func ParseLocalSpec(raw string) (TunnelSpec, error) {
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok {
		return TunnelSpec{}, &wserr.ConfigError{Msg: fmt.Sprintf("missing scheme in -L spec %q", raw)}
	}

	body, query := rest, ""
	if i := strings.IndexByte(rest, '?'); i >= 0 {
		body, query = rest[:i], rest[i+1:]
	}
	opts, err := url.ParseQuery(query)
	if err != nil {
		return TunnelSpec{}, &wserr.ConfigError{Msg: "invalid query options", Err: err}
	}

	switch scheme {
	case "tcp":
		return parseForwardingSpec(Tcp(), body, opts)
	case "udp":
		return parseUDPSpec(body, opts)
	case "socks5":
		return parseSocks5Spec(body, opts)
	case "stdio":
		return parseStdioSpec(body)
	default:
		return TunnelSpec{}, &wserr.ConfigError{Msg: fmt.Sprintf("unknown -L scheme %q", scheme)}
	}
}

// parseForwardingSpec handles "[BIND:]PORT:HOST:PORT" shared by tcp:// and
// udp:// (minus the udp-only timeout_sec option, applied by the caller).
func parseForwardingSpec(proto LocalProtocol, body string, opts url.Values) (TunnelSpec, error) {
	bind, remote, err := splitBindAndRemote(body)
	if err != nil {
		return TunnelSpec{}, err
	}
	spec := TunnelSpec{LocalProtocol: proto, LocalBind: bind, Remote: remote}
	if mark, ok, err := intOption(opts, "socket_so_mark"); err != nil {
		return TunnelSpec{}, err
	} else if ok {
		spec.SocketMark = &mark
	}
	return spec, nil
}

func parseUDPSpec(body string, opts url.Values) (TunnelSpec, error) {
	spec, err := parseForwardingSpec(LocalProtocol{}, body, opts)
	if err != nil {
		return TunnelSpec{}, err
	}
	var timeout *time.Duration
	if secs, ok, err := intOption(opts, "timeout_sec"); err != nil {
		return TunnelSpec{}, err
	} else if ok {
		if secs == 0 {
			timeout = nil // 0 => no timeout, per spec.md §6
		} else {
			d := time.Duration(secs) * time.Second
			timeout = &d
		}
	} else {
		d := DefaultUDPTimeout
		timeout = &d
	}
	spec.LocalProtocol = Udp(timeout)
	return spec, nil
}

func parseSocks5Spec(body string, opts url.Values) (TunnelSpec, error) {
	bind, err := splitOptionalBindPort(body)
	if err != nil {
		return TunnelSpec{}, err
	}
	spec := TunnelSpec{LocalProtocol: Socks5(), LocalBind: bind}
	if mark, ok, err := intOption(opts, "socket_so_mark"); err != nil {
		return TunnelSpec{}, err
	} else if ok {
		spec.SocketMark = &mark
	}
	return spec, nil
}

func parseStdioSpec(body string) (TunnelSpec, error) {
	host, portStr, err := net.SplitHostPort(body)
	if err != nil {
		return TunnelSpec{}, &wserr.ConfigError{Msg: fmt.Sprintf("invalid stdio:// destination %q", body), Err: err}
	}
	port, err := parsePort(portStr)
	if err != nil {
		return TunnelSpec{}, err
	}
	return TunnelSpec{
		LocalProtocol: Stdio(),
		LocalBind:     StdioBindSentinel,
		Remote:        Destination{Host: host, Port: port},
	}, nil
}

// splitBindAndRemote parses "[BIND:]PORT:HOST:PORT". The remote host/port
// pair is taken as the last two colon-delimited fields; everything before
// that is the optional bind (host defaulting to 127.0.0.1) plus the local
// port immediately preceding the remote pair.
func splitBindAndRemote(body string) (bind string, remote Destination, err error) {
	fields, err := splitRespectingBrackets(body)
	if err != nil {
		return "", Destination{}, err
	}
	if len(fields) < 3 {
		return "", Destination{}, &wserr.ConfigError{Msg: fmt.Sprintf("expected [BIND:]PORT:HOST:PORT, got %q", body)}
	}
	n := len(fields)
	remoteHost := strings.TrimSuffix(strings.TrimPrefix(fields[n-2], "["), "]")
	remotePort, err := parsePort(fields[n-1])
	if err != nil {
		return "", Destination{}, err
	}
	localPort, err := parsePort(fields[n-3])
	if err != nil {
		return "", Destination{}, err
	}
	bindHost := "127.0.0.1"
	if n >= 4 {
		bindHost = strings.TrimSuffix(strings.TrimPrefix(strings.Join(fields[:n-3], ":"), "["), "]")
	}
	return joinHostPort(bindHost, localPort), Destination{Host: remoteHost, Port: remotePort}, nil
}

func splitOptionalBindPort(body string) (string, error) {
	fields, err := splitRespectingBrackets(body)
	if err != nil {
		return "", err
	}
	switch len(fields) {
	case 1:
		port, err := parsePort(fields[0])
		if err != nil {
			return "", err
		}
		return joinHostPort("127.0.0.1", port), nil
	case 2:
		port, err := parsePort(fields[1])
		if err != nil {
			return "", err
		}
		return joinHostPort(strings.TrimSuffix(strings.TrimPrefix(fields[0], "["), "]"), port), nil
	default:
		return "", &wserr.ConfigError{Msg: fmt.Sprintf("expected [BIND:]PORT, got %q", body)}
	}
}

// splitRespectingBrackets splits on ':' but keeps a bracketed IPv6 literal
// (e.g. "[::1]") intact as one field.
func splitRespectingBrackets(s string) ([]string, error) {
	var fields []string
	for len(s) > 0 {
		if s[0] == '[' {
			end := strings.IndexByte(s, ']')
			if end < 0 {
				return nil, &wserr.ConfigError{Msg: fmt.Sprintf("unterminated '[' in %q", s)}
			}
			fields = append(fields, s[:end+1])
			s = s[end+1:]
			if len(s) > 0 && s[0] == ':' {
				s = s[1:]
			}
			continue
		}
		i := strings.IndexByte(s, ':')
		if i < 0 {
			fields = append(fields, s)
			break
		}
		fields = append(fields, s[:i])
		s = s[i+1:]
	}
	return fields, nil
}

func parsePort(s string) (uint16, error) {
	n, err := strconv.ParseUint(s, 10, 16)
	if err != nil || n == 0 {
		return 0, &wserr.ConfigError{Msg: fmt.Sprintf("invalid port %q", s)}
	}
	return uint16(n), nil
}

func intOption(opts url.Values, name string) (int, bool, error) {
	v := opts.Get(name)
	if v == "" {
		return 0, false, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false, &wserr.ConfigError{Msg: fmt.Sprintf("invalid %s=%q", name, v), Err: err}
	}
	return n, true, nil
}

func joinHostPort(host string, port uint16) string {
	return net.JoinHostPort(host, strconv.Itoa(int(port)))
}
