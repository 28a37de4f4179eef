package tls

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"sentinelfs/internal/domain/tlspin"
)

// writeSelfSignedCert generates an ECDSA self-signed cert/key pair on
// disk and returns their paths alongside the parsed certificate, for
// tests that need to pin against it afterward.
func writeSelfSignedCert(t *testing.T, dir, name, cn string) (certPath, keyPath string, cert *x509.Certificate) {
	t.Helper()

	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		DNSNames:     []string{cn},
	}

	derBytes, err := x509.CreateCertificate(rand.Reader, template, template, &priv.PublicKey, priv)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}

	cert, err = x509.ParseCertificate(derBytes)
	if err != nil {
		t.Fatalf("parse certificate: %v", err)
	}

	certPath = filepath.Join(dir, name+".crt")
	keyPath = filepath.Join(dir, name+".key")

	certOut, err := os.Create(certPath)
	if err != nil {
		t.Fatalf("create cert file: %v", err)
	}
	pem.Encode(certOut, &pem.Block{Type: "CERTIFICATE", Bytes: derBytes})
	certOut.Close()

	keyBytes, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	keyOut, err := os.Create(keyPath)
	if err != nil {
		t.Fatalf("create key file: %v", err)
	}
	pem.Encode(keyOut, &pem.Block{Type: "EC PRIVATE KEY", Bytes: keyBytes})
	keyOut.Close()

	return certPath, keyPath, cert
}

func TestServeAndDialWithPinnedCertificates(t *testing.T) {
	dir := t.TempDir()
	serverCert, serverKey, serverX509 := writeSelfSignedCert(t, dir, "server", "peer.local")
	clientCert, clientKey, clientX509 := writeSelfSignedCert(t, dir, "client", "client.local")

	serverPins := tlspin.New(tlspin.PolicyStrict)
	serverPins.LoadPins([]tlspin.CertificatePin{
		{HostnamePattern: "client.local", SPKIHashB64: tlspin.SPKIHash(clientX509)},
	})

	clientPins := tlspin.New(tlspin.PolicyStrict)
	clientPins.LoadPins([]tlspin.CertificatePin{
		{HostnamePattern: "peer.local", SPKIHashB64: tlspin.SPKIHash(serverX509)},
	})

	serverTLSConf, err := ServerConfig(Config{CertFile: serverCert, KeyFile: serverKey, Pins: serverPins})
	if err != nil {
		t.Fatalf("ServerConfig: %v", err)
	}

	ln, err := Listen("127.0.0.1:0", serverTLSConf, nil)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan string, 1)
	go ln.Serve(ctx, func(conn net.Conn) {
		defer conn.Close()
		buf := make([]byte, 16)
		n, _ := conn.Read(buf)
		received <- string(buf[:n])
	})

	clientTLSConf, err := ClientConfig(Config{CertFile: clientCert, KeyFile: clientKey, Pins: clientPins}, "peer.local")
	if err != nil {
		t.Fatalf("ClientConfig: %v", err)
	}

	conn, err := Dial(context.Background(), ln.Addr().String(), clientTLSConf)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case msg := <-received:
		if msg != "hello" {
			t.Fatalf("got %q, want %q", msg, "hello")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server to receive data")
	}
}

func TestDialRejectsUnpinnedCertificate(t *testing.T) {
	dir := t.TempDir()
	serverCert, serverKey, _ := writeSelfSignedCert(t, dir, "server", "peer.local")
	clientCert, clientKey, _ := writeSelfSignedCert(t, dir, "client", "client.local")

	serverPins := tlspin.New(tlspin.PolicyNone)
	serverTLSConf, err := ServerConfig(Config{CertFile: serverCert, KeyFile: serverKey, Pins: serverPins})
	if err != nil {
		t.Fatalf("ServerConfig: %v", err)
	}

	ln, err := Listen("127.0.0.1:0", serverTLSConf, nil)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ln.Serve(ctx, func(conn net.Conn) { conn.Close() })

	// Client pins a different (wrong) SPKI hash for the server hostname,
	// so strict policy verification must fail.
	clientPins := tlspin.New(tlspin.PolicyStrict)
	clientPins.LoadPins([]tlspin.CertificatePin{
		{HostnamePattern: "peer.local", SPKIHashB64: "not-the-real-hash"},
	})
	clientTLSConf, err := ClientConfig(Config{CertFile: clientCert, KeyFile: clientKey, Pins: clientPins}, "peer.local")
	if err != nil {
		t.Fatalf("ClientConfig: %v", err)
	}

	_, err = Dial(context.Background(), ln.Addr().String(), clientTLSConf)
	if err == nil {
		t.Fatal("expected dial to fail due to pin mismatch")
	}
}
