// Package tlswrap wraps and unwraps a byte stream with TLS for the tunnel's
// client and server sides, and loads certificate/key material from PEM
// files. Grounded on the teacher's certgen/keys handling
// (pkg/certgen/cert.go, internal/ssh/keys.go), generalized from a single
// hard-coded RSA key to the PKCS#8/EC/PKCS#1 fallback chain the pack's TLS
// helpers use (effective-security/porto's tlsconfig package).
package tlswrap

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"net"
	"os"

	"wstunnel/internal/config"
	"wstunnel/internal/wserr"
)

// ClientConnect wraps stream with TLS as the client side of the handshake.
// serverName selects the SNI sent in the ClientHello: the caller is
// expected to have already resolved the override-vs-derived choice
// (spec.md §4.1's "Server name selection").
func ClientConnect(stream net.Conn, serverName string, verify bool) (net.Conn, error) {
	cfg := &tls.Config{
		ServerName:         serverName,
		InsecureSkipVerify: !verify,
		MinVersion:         tls.VersionTLS12,
	}
	conn := tls.Client(stream, cfg)
	if err := conn.HandshakeContext(context.Background()); err != nil {
		return nil, &wserr.TlsError{Msg: "client handshake", Err: err}
	}
	return conn, nil
}

// ServerName picks the SNI value for a client connection, per §4.1: an
// explicit override wins; otherwise a domain remote is used as-is, and an
// IP literal remote is used in its string form.
func ServerName(override string, remoteHost string) string {
	if override != "" {
		return override
	}
	return remoteHost
}

// ServerAccept wraps stream with TLS as the server side, presenting chain
// and key.
func ServerAccept(stream net.Conn, material config.TLSMaterial) (net.Conn, error) {
	cert, err := certificateFromMaterial(material)
	if err != nil {
		return nil, err
	}
	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
	conn := tls.Server(stream, cfg)
	if err := conn.HandshakeContext(context.Background()); err != nil {
		return nil, &wserr.TlsError{Msg: "server handshake", Err: err}
	}
	return conn, nil
}

func certificateFromMaterial(material config.TLSMaterial) (tls.Certificate, error) {
	if len(material.Chain) == 0 || len(material.Key) == 0 {
		return tls.Certificate{}, &wserr.ConfigError{Msg: "no certificates/keys in file"}
	}
	key, err := parseAnyPrivateKey(material.Key)
	if err != nil {
		return tls.Certificate{}, err
	}
	cert := tls.Certificate{
		Certificate: material.Chain,
		PrivateKey:  key,
	}
	if leaf, err := x509.ParseCertificate(material.Chain[0]); err == nil {
		cert.Leaf = leaf
	}
	return cert, nil
}

// LoadChain reads every CERTIFICATE PEM block from path, in file order.
func LoadChain(path string) ([][]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &wserr.ConfigError{Msg: "reading certificate chain", Err: err}
	}
	var chain [][]byte
	rest := raw
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type == "CERTIFICATE" {
			chain = append(chain, block.Bytes)
		}
	}
	if len(chain) == 0 {
		return nil, &wserr.ConfigError{Msg: "no certificates/keys in file"}
	}
	return chain, nil
}

// LoadKey reads the first private key block from path, accepting PKCS#8,
// EC (SEC1), or PKCS#1 RSA encodings — whichever block type shows up
// first wins, mirroring how the teacher's internal/ssh/keys.go picks "the" key without
// needing the caller to know its encoding up front.
func LoadKey(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &wserr.ConfigError{Msg: "reading private key", Err: err}
	}
	rest := raw
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		switch block.Type {
		case "PRIVATE KEY", "RSA PRIVATE KEY", "EC PRIVATE KEY":
			return block.Bytes, nil
		}
	}
	return nil, &wserr.ConfigError{Msg: "no certificates/keys in file"}
}

// LoadMaterial loads both the chain and the key into one TLSMaterial.
func LoadMaterial(certPath, keyPath string) (config.TLSMaterial, error) {
	chain, err := LoadChain(certPath)
	if err != nil {
		return config.TLSMaterial{}, err
	}
	key, err := LoadKey(keyPath)
	if err != nil {
		return config.TLSMaterial{}, err
	}
	return config.TLSMaterial{Chain: chain, Key: key}, nil
}

func parseAnyPrivateKey(der []byte) (any, error) {
	if key, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		return key, nil
	}
	if key, err := x509.ParseECPrivateKey(der); err == nil {
		return key, nil
	}
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	return nil, &wserr.ConfigError{Msg: "unrecognized private key encoding"}
}
