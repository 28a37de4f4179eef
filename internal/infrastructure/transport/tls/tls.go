// Package tls wires a standard TLS listener/dialer pair to the
// certificate pin store, so every inbound and outbound peer
// connection is checked against pinned SPKI hashes and fingerprints
// instead of relying solely on the system trust store.
package tls

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"

	"sentinelfs/internal/domain/tlspin"
	"sentinelfs/internal/infrastructure/logging"
)

// Config describes how to load the local identity certificate and
// which pin store governs peer verification.
type Config struct {
	CertFile string
	KeyFile  string
	Pins     *tlspin.Store
}

// verifyCallback builds a tls.Config.VerifyPeerCertificate func bound
// to the given pin store and expected hostname. hostname is empty on
// the server side, where the connecting peer's identity isn't known
// in advance; pin matching then runs against every pinned hostname
// pattern via an empty-string match, which tlspin.Store treats as
// "no hostname constraint" for TOFU/backup bookkeeping but still
// enforces SPKI/fingerprint equality for STRICT and SPKI_ONLY.
func verifyCallback(pins *tlspin.Store, hostname string) func([][]byte, [][]*x509.Certificate) error {
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return fmt.Errorf("no peer certificate presented")
		}
		cert, err := x509.ParseCertificate(rawCerts[0])
		if err != nil {
			return fmt.Errorf("parse peer certificate: %w", err)
		}
		ok, err := pins.Verify(cert, hostname)
		if err != nil {
			return fmt.Errorf("verify peer certificate: %w", err)
		}
		if !ok {
			return fmt.Errorf("peer certificate rejected by pin policy")
		}
		return nil
	}
}

// ServerConfig builds a *tls.Config for accepting inbound peer
// connections. Peer verification is delegated entirely to
// VerifyPeerCertificate, so InsecureSkipVerify is set deliberately:
// the pin store, not the system root CA pool, is the trust anchor.
func ServerConfig(cfg Config) (*tls.Config, error) {
	pair, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load server certificate: %w", err)
	}
	return &tls.Config{
		Certificates:          []tls.Certificate{pair},
		ClientAuth:            tls.RequireAnyClientCert,
		InsecureSkipVerify:    true,
		VerifyPeerCertificate: verifyCallback(cfg.Pins, ""),
		MinVersion:            tls.VersionTLS12,
	}, nil
}

// ClientConfig builds a *tls.Config for dialing a known peer at
// hostname, whose certificate is checked against pins registered
// under that hostname.
func ClientConfig(cfg Config, hostname string) (*tls.Config, error) {
	pair, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load client certificate: %w", err)
	}
	return &tls.Config{
		Certificates:          []tls.Certificate{pair},
		ServerName:            hostname,
		InsecureSkipVerify:    true,
		VerifyPeerCertificate: verifyCallback(cfg.Pins, hostname),
		MinVersion:            tls.VersionTLS12,
	}, nil
}

// Listener accepts TLS-secured peer connections on one address.
type Listener struct {
	ln     net.Listener
	logger *logging.Logger
}

// Listen starts a TLS listener on addr using tlsConfig.
func Listen(addr string, tlsConfig *tls.Config, logger *logging.Logger) (*Listener, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	ln, err := tls.Listen("tcp", addr, tlsConfig)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	return &Listener{ln: ln, logger: logger.Component("transport.tls")}, nil
}

// Addr returns the listener's bound address.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Close stops accepting new connections.
func (l *Listener) Close() error { return l.ln.Close() }

// Serve accepts connections until ctx is cancelled or Close is
// called, invoking handle in its own goroutine per accepted
// connection. Accept errors after cancellation are treated as the
// normal shutdown path, not failures.
func (l *Listener) Serve(ctx context.Context, handle func(net.Conn)) error {
	go func() {
		<-ctx.Done()
		l.ln.Close()
	}()

	for {
		conn, err := l.ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			l.logger.Warn("accept failed", "error", err)
			return err
		}
		go handle(conn)
	}
}

// Dial establishes a TLS connection to addr, verified against pins
// for hostname via tlsConfig's VerifyPeerCertificate callback.
func Dial(ctx context.Context, addr string, tlsConfig *tls.Config) (net.Conn, error) {
	dialer := tls.Dialer{Config: tlsConfig}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return conn, nil
}
