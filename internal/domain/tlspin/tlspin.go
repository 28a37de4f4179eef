// Package tlspin implements the TLS certificate pin store used to
// authenticate peer connections beyond what the CA chain alone
// guarantees (§4.10).
package tlspin

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Policy selects how strictly Verify treats an unmatched certificate.
type Policy int

const (
	// PolicyNone disables pinning entirely; Verify always succeeds.
	PolicyNone Policy = iota
	// PolicyTOFU records the first-seen SPKI for a hostname and accepts it.
	PolicyTOFU
	// PolicyStrict rejects any certificate with no matching pin.
	PolicyStrict
	// PolicySPKIOnly is PolicyStrict but only SPKI pins are considered,
	// ignoring full-certificate fingerprint pins.
	PolicySPKIOnly
)

// backupMarkerPrefix tags a pin's Comment as a rotation-retained backup.
const backupMarkerPrefix = "[BACKUP-"

// CertificatePin binds a hostname pattern to an expected SPKI hash
// and/or certificate fingerprint (§3).
type CertificatePin struct {
	HostnamePattern string
	SPKIHashB64     string
	FingerprintHex  string
	Comment         string
	ExpiresAtEpoch  int64 // 0 = never
}

// isBackup reports whether this pin was retained as a rotation backup.
func (p CertificatePin) isBackup() bool {
	return strings.Contains(p.Comment, backupMarkerPrefix)
}

func (p CertificatePin) expired(now time.Time) bool {
	return p.ExpiresAtEpoch != 0 && now.Unix() > p.ExpiresAtEpoch
}

func (p CertificatePin) matchesHostname(hostname string) bool {
	if strings.HasPrefix(p.HostnamePattern, "*.") {
		suffix := p.HostnamePattern[1:] // keep leading dot
		return strings.HasSuffix(hostname, suffix) && hostname != suffix[1:]
	}
	return p.HostnamePattern == hostname
}

// Store holds the set of pins and performs verification against
// presented certificates.
type Store struct {
	policy Policy

	mu   sync.RWMutex
	pins []CertificatePin
}

// New constructs an empty Store under the given policy.
func New(policy Policy) *Store {
	return &Store{policy: policy}
}

// LoadPins replaces the store's contents, e.g. after reading from disk.
func (s *Store) LoadPins(pins []CertificatePin) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pins = append([]CertificatePin(nil), pins...)
}

// Pins returns a copy of the current pin set.
func (s *Store) Pins() []CertificatePin {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]CertificatePin(nil), s.pins...)
}

// SPKIHash computes the base64-encoded SHA-256 digest of a
// certificate's SubjectPublicKeyInfo.
func SPKIHash(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.RawSubjectPublicKeyInfo)
	return base64.StdEncoding.EncodeToString(sum[:])
}

// Fingerprint computes the hex-encoded SHA-256 digest of the full
// DER-encoded certificate.
func Fingerprint(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.Raw)
	return hex.EncodeToString(sum[:])
}

// Verify checks cert against hostname per the store's policy. It
// depends only on the store's current contents and the certificate
// bytes, so identical inputs always produce an identical result
// (§8's "Pin verify determinism").
func (s *Store) Verify(cert *x509.Certificate, hostname string) (bool, error) {
	if s.policy == PolicyNone {
		return true, nil
	}

	spki := SPKIHash(cert)
	fp := Fingerprint(cert)
	now := time.Now()

	s.mu.RLock()
	pins := s.pins
	s.mu.RUnlock()

	if matched := matchPins(pins, hostname, spki, fp, now, s.policy, false); matched {
		return true, nil
	}
	if matched := matchPins(pins, hostname, spki, fp, now, s.policy, true); matched {
		return true, nil
	}

	switch s.policy {
	case PolicyTOFU:
		s.recordFirstUse(hostname, spki)
		return true, nil
	default:
		return false, fmt.Errorf("tlspin: no matching pin for %s", hostname)
	}
}

// matchPins iterates either the primary (wantBackup=false) or backup
// (wantBackup=true) pins, per §4.10's two-pass "primary first, backup
// only if no primary match" rule.
func matchPins(pins []CertificatePin, hostname, spki, fp string, now time.Time, policy Policy, wantBackup bool) bool {
	for _, p := range pins {
		if p.isBackup() != wantBackup {
			continue
		}
		// An empty hostname (the server side, where the peer's name is
		// not known) carries no hostname constraint.
		if hostname != "" && !p.matchesHostname(hostname) {
			continue
		}
		if p.expired(now) {
			continue
		}
		spkiMatches := p.SPKIHashB64 != "" && p.SPKIHashB64 == spki
		fpMatches := policy != PolicySPKIOnly && p.FingerprintHex != "" && p.FingerprintHex == fp
		if spkiMatches || fpMatches {
			return true
		}
	}
	return false
}

func (s *Store) recordFirstUse(hostname, spki string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.pins {
		if !p.isBackup() && p.matchesHostname(hostname) {
			return
		}
	}
	s.pins = append(s.pins, CertificatePin{
		HostnamePattern: hostname,
		SPKIHashB64:     spki,
		Comment:         "trust-on-first-use",
	})
}

// Rotate promotes hostname's pin to newSPKI, retaining the old SPKI as
// a backup pin that expires after backupDays (§4.10). Returns an error
// if no existing primary pin for hostname is found.
func (s *Store) Rotate(hostname, oldSPKI, newSPKI string, backupDays int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.pins {
		p := &s.pins[i]
		if p.isBackup() || !p.matchesHostname(hostname) || p.SPKIHashB64 != oldSPKI {
			continue
		}

		backup := CertificatePin{
			HostnamePattern: p.HostnamePattern,
			SPKIHashB64:     oldSPKI,
			FingerprintHex:  p.FingerprintHex,
			Comment:         fmt.Sprintf("%s%d]", backupMarkerPrefix, time.Now().Unix()),
			ExpiresAtEpoch:  time.Now().Add(time.Duration(backupDays) * 24 * time.Hour).Unix(),
		}

		p.SPKIHashB64 = newSPKI
		p.FingerprintHex = ""
		s.pins = append(s.pins, backup)
		return nil
	}
	return fmt.Errorf("tlspin: no primary pin for %s with spki %s", hostname, oldSPKI)
}

// ReapExpired removes expired backup pins, for a periodic cleanup
// operation (§4.10: "Expired backup pins are reaped lazily").
func (s *Store) ReapExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.pins[:0]
	reaped := 0
	for _, p := range s.pins {
		if p.isBackup() && p.expired(now) {
			reaped++
			continue
		}
		kept = append(kept, p)
	}
	s.pins = kept
	return reaped
}
