package tlspin

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"
)

func generateCert(t *testing.T, cn string) *x509.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("CreateCertificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("ParseCertificate: %v", err)
	}
	return cert
}

func TestPolicyNoneAlwaysAccepts(t *testing.T) {
	store := New(PolicyNone)
	cert := generateCert(t, "example.com")

	ok, err := store.Verify(cert, "anything.invalid")
	if err != nil || !ok {
		t.Fatalf("Verify() = %v, %v; want true, nil under PolicyNone", ok, err)
	}
}

func TestStrictRejectsWithNoMatchingPin(t *testing.T) {
	store := New(PolicyStrict)
	cert := generateCert(t, "example.com")

	ok, err := store.Verify(cert, "example.com")
	if ok || err == nil {
		t.Fatal("expected rejection under PolicyStrict with an empty pin store")
	}
}

func TestStrictAcceptsExactSPKIMatch(t *testing.T) {
	store := New(PolicyStrict)
	cert := generateCert(t, "example.com")
	store.LoadPins([]CertificatePin{
		{HostnamePattern: "example.com", SPKIHashB64: SPKIHash(cert)},
	})

	ok, err := store.Verify(cert, "example.com")
	if err != nil || !ok {
		t.Fatalf("Verify() = %v, %v; want true, nil", ok, err)
	}
}

func TestWildcardHostnamePatternMatchesSubdomain(t *testing.T) {
	store := New(PolicyStrict)
	cert := generateCert(t, "sync.example.com")
	store.LoadPins([]CertificatePin{
		{HostnamePattern: "*.example.com", SPKIHashB64: SPKIHash(cert)},
	})

	ok, _ := store.Verify(cert, "sync.example.com")
	if !ok {
		t.Fatal("expected wildcard pattern to match subdomain")
	}
}

func TestSPKIOnlyIgnoresFingerprintPins(t *testing.T) {
	store := New(PolicySPKIOnly)
	cert := generateCert(t, "example.com")
	store.LoadPins([]CertificatePin{
		{HostnamePattern: "example.com", FingerprintHex: Fingerprint(cert)},
	})

	ok, _ := store.Verify(cert, "example.com")
	if ok {
		t.Fatal("expected SPKI_ONLY to ignore a fingerprint-only pin")
	}
}

func TestExpiredPinIsNotConsidered(t *testing.T) {
	store := New(PolicyStrict)
	cert := generateCert(t, "example.com")
	store.LoadPins([]CertificatePin{
		{HostnamePattern: "example.com", SPKIHashB64: SPKIHash(cert), ExpiresAtEpoch: time.Now().Add(-time.Hour).Unix()},
	})

	ok, _ := store.Verify(cert, "example.com")
	if ok {
		t.Fatal("expected an expired pin to be rejected")
	}
}

func TestBackupPinOnlyConsideredWhenNoPrimaryMatches(t *testing.T) {
	store := New(PolicyStrict)
	cert := generateCert(t, "example.com")
	store.LoadPins([]CertificatePin{
		{HostnamePattern: "example.com", SPKIHashB64: "stale-spki"},
		{HostnamePattern: "example.com", SPKIHashB64: SPKIHash(cert), Comment: "[BACKUP-123]", ExpiresAtEpoch: time.Now().Add(time.Hour).Unix()},
	})

	ok, _ := store.Verify(cert, "example.com")
	if !ok {
		t.Fatal("expected backup pin to match when primary pin doesn't")
	}
}

func TestTOFURecordsFirstSeenAndAcceptsSubsequentSameCert(t *testing.T) {
	store := New(PolicyTOFU)
	cert := generateCert(t, "example.com")

	ok1, err := store.Verify(cert, "new-host.example.com")
	if err != nil || !ok1 {
		t.Fatalf("first TOFU verify = %v, %v; want true, nil", ok1, err)
	}
	if len(store.Pins()) != 1 {
		t.Fatalf("expected TOFU to record one pin, got %d", len(store.Pins()))
	}

	ok2, err := store.Verify(cert, "new-host.example.com")
	if err != nil || !ok2 {
		t.Fatalf("second TOFU verify = %v, %v; want true, nil", ok2, err)
	}
	if len(store.Pins()) != 1 {
		t.Fatal("expected no duplicate pin recorded for the same hostname")
	}
}

func TestVerifyIsDeterministicForIdenticalInputs(t *testing.T) {
	store := New(PolicyStrict)
	cert := generateCert(t, "example.com")
	store.LoadPins([]CertificatePin{
		{HostnamePattern: "example.com", SPKIHashB64: SPKIHash(cert)},
	})

	ok1, err1 := store.Verify(cert, "example.com")
	ok2, err2 := store.Verify(cert, "example.com")

	if ok1 != ok2 || (err1 == nil) != (err2 == nil) {
		t.Fatal("expected Verify to be deterministic for identical store contents and cert")
	}
}

func TestRotatePromotesSPKIAndRetainsBackup(t *testing.T) {
	store := New(PolicyStrict)
	oldCert := generateCert(t, "example.com")
	newCert := generateCert(t, "example.com")
	oldSPKI := SPKIHash(oldCert)
	newSPKI := SPKIHash(newCert)

	store.LoadPins([]CertificatePin{
		{HostnamePattern: "example.com", SPKIHashB64: oldSPKI},
	})

	if err := store.Rotate("example.com", oldSPKI, newSPKI, 30); err != nil {
		t.Fatalf("Rotate: %v", err)
	}

	if ok, _ := store.Verify(newCert, "example.com"); !ok {
		t.Fatal("expected new certificate to verify after rotation")
	}
	if ok, _ := store.Verify(oldCert, "example.com"); !ok {
		t.Fatal("expected old certificate to still verify via the retained backup pin")
	}

	pins := store.Pins()
	if len(pins) != 2 {
		t.Fatalf("expected 2 pins after rotation (promoted + backup), got %d", len(pins))
	}
}

func TestRotateFailsWithoutMatchingPrimaryPin(t *testing.T) {
	store := New(PolicyStrict)
	if err := store.Rotate("example.com", "nonexistent", "new", 30); err == nil {
		t.Fatal("expected error rotating a pin that doesn't exist")
	}
}

func TestReapExpiredRemovesOnlyExpiredBackups(t *testing.T) {
	store := New(PolicyStrict)
	store.LoadPins([]CertificatePin{
		{HostnamePattern: "a.com", SPKIHashB64: "x"},
		{HostnamePattern: "a.com", SPKIHashB64: "old", Comment: "[BACKUP-1]", ExpiresAtEpoch: time.Now().Add(-time.Hour).Unix()},
		{HostnamePattern: "a.com", SPKIHashB64: "recent", Comment: "[BACKUP-2]", ExpiresAtEpoch: time.Now().Add(time.Hour).Unix()},
	})

	reaped := store.ReapExpired(time.Now())
	if reaped != 1 {
		t.Fatalf("reaped = %d, want 1", reaped)
	}
	if len(store.Pins()) != 2 {
		t.Fatalf("remaining pins = %d, want 2", len(store.Pins()))
	}
}
