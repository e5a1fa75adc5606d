package wsframe

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"wstunnel/internal/config"
	"wstunnel/internal/wserr"
)

// DecodedTarget is the tunnel destination recovered from an upgrade path,
// per spec.md §6: "/{prefix}/{proto}/{host}/{port}[?opt=val&...]".
type DecodedTarget struct {
	Proto            string
	Dest             config.Destination
	HasTimeoutOption bool
	TimeoutSec       uint64 // only meaningful when HasTimeoutOption; 0 => no timeout
}

// EncodePath builds the client's upgrade request path. timeoutSec is only
// written for udp; a nil value omits the option entirely so the server
// applies its own default (invariant iii).
func EncodePath(prefix, proto, host string, port uint16, timeoutSec *uint64) string {
	p := fmt.Sprintf("/%s/%s/%s/%d", prefix, proto, host, port)
	if proto == "udp" && timeoutSec != nil {
		q := url.Values{}
		q.Set("timeout_sec", strconv.FormatUint(*timeoutSec, 10))
		p += "?" + q.Encode()
	}
	return p
}

// DecodePath reverses EncodePath on the server side. A path whose prefix
// does not match is reported distinctly (the caller answers 404); any
// other malformed detail is a ProtocolError (the caller answers 400).
// Unknown query options are ignored, per spec.md §6.
func DecodePath(prefix, rawPath, rawQuery string) (DecodedTarget, error, bool) {
	want := "/" + prefix + "/"
	if !strings.HasPrefix(rawPath, want) {
		return DecodedTarget{}, &wserr.ProtocolError{Msg: "path does not match upgrade prefix"}, false
	}
	tail := rawPath[len(want):]
	parts := strings.Split(tail, "/")
	if len(parts) != 3 {
		return DecodedTarget{}, &wserr.ProtocolError{Msg: "malformed tunnel path"}, true
	}
	proto, host, portStr := parts[0], parts[1], parts[2]
	if proto != "tcp" && proto != "udp" {
		return DecodedTarget{}, &wserr.ProtocolError{Msg: "unsupported proto " + proto}, true
	}
	if host == "" {
		return DecodedTarget{}, &wserr.ProtocolError{Msg: "empty host"}, true
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil || port == 0 {
		return DecodedTarget{}, &wserr.ProtocolError{Msg: "invalid port"}, true
	}

	target := DecodedTarget{Proto: proto, Dest: config.Destination{Host: host, Port: uint16(port)}}
	if opts, err := url.ParseQuery(rawQuery); err == nil && proto == "udp" {
		if v := opts.Get("timeout_sec"); v != "" {
			if secs, err := strconv.ParseUint(v, 10, 64); err == nil {
				target.HasTimeoutOption = true
				target.TimeoutSec = secs
			}
		}
	}
	// prefix matched: any remaining problem is a 400, not a 404.
	return target, nil, true
}
