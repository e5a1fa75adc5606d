package adapter

import (
	"encoding/binary"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSocks5HandshakeConnectIPv4(t *testing.T) {
	r := require.New(t)
	client, server := net.Pipe()
	defer client.Close()

	done := make(chan struct{})
	var dest struct {
		Host string
		Port uint16
	}
	var ok bool
	go func() {
		defer close(done)
		d, success := socks5Handshake(server)
		dest.Host, dest.Port = d.Host, d.Port
		ok = success
	}()

	client.Write([]byte{socks5Version, 1, socks5NoAuth})
	methodReply := make([]byte, 2)
	client.Read(methodReply)
	r.Equal(byte(socks5NoAuth), methodReply[1])

	req := []byte{socks5Version, socks5Connect, 0x00, socks5AddrIPv4, 93, 184, 216, 34}
	portBuf := make([]byte, 2)
	binary.BigEndian.PutUint16(portBuf, 443)
	client.Write(append(req, portBuf...))

	reply := make([]byte, 10)
	client.Read(reply)
	r.Equal(byte(socks5ReplyOK), reply[1])

	<-done
	r.True(ok)
	r.Equal("93.184.216.34", dest.Host)
	r.EqualValues(443, dest.Port)
}

func TestSocks5HandshakeConnectDomain(t *testing.T) {
	r := require.New(t)
	client, server := net.Pipe()
	defer client.Close()

	done := make(chan struct{})
	var dest struct {
		Host string
		Port uint16
	}
	var ok bool
	go func() {
		defer close(done)
		d, success := socks5Handshake(server)
		dest.Host, dest.Port = d.Host, d.Port
		ok = success
	}()

	client.Write([]byte{socks5Version, 1, socks5NoAuth})
	methodReply := make([]byte, 2)
	client.Read(methodReply)

	name := []byte("example.com")
	req := []byte{socks5Version, socks5Connect, 0x00, socks5AddrName, byte(len(name))}
	req = append(req, name...)
	portBuf := make([]byte, 2)
	binary.BigEndian.PutUint16(portBuf, 80)
	client.Write(append(req, portBuf...))

	reply := make([]byte, 10)
	client.Read(reply)

	<-done
	r.True(ok)
	r.Equal("example.com", dest.Host)
	r.EqualValues(80, dest.Port)
}

func TestSocks5HandshakeRejectsNonConnectCommand(t *testing.T) {
	r := require.New(t)
	client, server := net.Pipe()
	defer client.Close()

	done := make(chan struct{})
	var ok bool
	go func() {
		defer close(done)
		_, success := socks5Handshake(server)
		ok = success
	}()

	client.Write([]byte{socks5Version, 1, socks5NoAuth})
	methodReply := make([]byte, 2)
	client.Read(methodReply)

	// BIND (0x02) instead of CONNECT. The handshake rejects after reading
	// only the 4-byte request header, so the address bytes are never read
	// and this write must not block the test.
	go client.Write([]byte{socks5Version, 0x02, 0x00, socks5AddrIPv4, 1, 2, 3, 4, 0, 80})

	reply := make([]byte, 10)
	client.Read(reply)
	r.Equal(byte(socks5ReplyCommandNotSupported), reply[1])

	<-done
	r.False(ok)
}

func TestSocks5HandshakeRejectsWhenNoAuthNotOffered(t *testing.T) {
	r := require.New(t)
	client, server := net.Pipe()
	defer client.Close()

	done := make(chan struct{})
	var ok bool
	go func() {
		defer close(done)
		_, success := socks5Handshake(server)
		ok = success
	}()

	// Client offers only username/password (0x02), never NO AUTH (0x00).
	client.Write([]byte{socks5Version, 1, 0x02})
	methodReply := make([]byte, 2)
	client.Read(methodReply)
	r.Equal(byte(socks5NoAcceptableMethods), methodReply[1])

	<-done
	r.False(ok)
}

func TestSocks5HandshakeRejectsUnsupportedAddrType(t *testing.T) {
	r := require.New(t)
	client, server := net.Pipe()
	defer client.Close()

	done := make(chan struct{})
	var ok bool
	go func() {
		defer close(done)
		_, success := socks5Handshake(server)
		ok = success
	}()

	client.Write([]byte{socks5Version, 1, socks5NoAuth})
	methodReply := make([]byte, 2)
	client.Read(methodReply)

	// Unknown address type 0x05.
	client.Write([]byte{socks5Version, socks5Connect, 0x00, 0x05})

	reply := make([]byte, 10)
	client.Read(reply)
	r.Equal(byte(socks5ReplyAddrNotSupported), reply[1])

	<-done
	r.False(ok)
}
