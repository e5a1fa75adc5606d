package tlswrap

import (
	"net"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"wstunnel/pkg/certgen"
)

func TestServerNamePicksOverrideThenHost(t *testing.T) {
	r := require.New(t)
	r.Equal("override.example", ServerName("override.example", "remote.example"))
	r.Equal("remote.example", ServerName("", "remote.example"))
}

func TestLoadMaterialRoundTripsGeneratedCert(t *testing.T) {
	r := require.New(t)
	dir := t.TempDir()
	certPath := filepath.Join(dir, "cert.pem")
	keyPath := filepath.Join(dir, "key.pem")

	r.NoError(certgen.GenerateCert(certPath, keyPath))

	material, err := LoadMaterial(certPath, keyPath)
	r.NoError(err)
	r.NotEmpty(material.Chain)
	r.NotEmpty(material.Key)
}

func TestClientServerHandshakeWithGeneratedCert(t *testing.T) {
	r := require.New(t)
	dir := t.TempDir()
	certPath := filepath.Join(dir, "cert.pem")
	keyPath := filepath.Join(dir, "key.pem")
	r.NoError(certgen.GenerateCert(certPath, keyPath))

	material, err := LoadMaterial(certPath, keyPath)
	r.NoError(err)

	clientConn, serverConn := net.Pipe()

	serverDone := make(chan error, 1)
	go func() {
		_, err := ServerAccept(serverConn, material)
		serverDone <- err
	}()

	// The self-signed cert isn't trusted by any root pool, so the client
	// must skip verification to reach a completed handshake.
	_, err = ClientConnect(clientConn, "localhost", false)
	r.NoError(err)
	r.NoError(<-serverDone)
}
