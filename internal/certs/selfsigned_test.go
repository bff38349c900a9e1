package certs

import (
	"crypto/x509"
	"encoding/base64"
	"testing"
	"time"
)

func TestGenerate(t *testing.T) {
	validity := 12 * time.Hour
	info, err := Generate(validity)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if len(info.TLSCert.Certificate) != 1 {
		t.Fatalf("expected 1 certificate, got %d", len(info.TLSCert.Certificate))
	}

	cert, err := x509.ParseCertificate(info.TLSCert.Certificate[0])
	if err != nil {
		t.Fatalf("parse certificate: %v", err)
	}

	if cert.Subject.CommonName != "lumen" {
		t.Errorf("common name = %q, want %q", cert.Subject.CommonName, "lumen")
	}

	lifetime := cert.NotAfter.Sub(cert.NotBefore)
	want := validity
	if lifetime != want {
		t.Errorf("lifetime = %v, want %v", lifetime, want)
	}
	if !cert.NotBefore.Before(time.Now()) {
		t.Errorf("NotBefore %v is in the future", cert.NotBefore)
	}
	if !info.NotAfter.Equal(cert.NotAfter) {
		t.Errorf("NotAfter mismatch: info %v, cert %v", info.NotAfter, cert.NotAfter)
	}

	foundLocalhost := false
	for _, name := range cert.DNSNames {
		if name == "localhost" {
			foundLocalhost = true
		}
	}
	if !foundLocalhost {
		t.Errorf("DNS names %v missing localhost", cert.DNSNames)
	}
	if len(cert.IPAddresses) != 2 {
		t.Errorf("expected 2 IP SANs, got %v", cert.IPAddresses)
	}

	fp := info.FingerprintBase64()
	raw, err := base64.StdEncoding.DecodeString(fp)
	if err != nil {
		t.Fatalf("fingerprint is not base64: %v", err)
	}
	if len(raw) != 32 {
		t.Errorf("fingerprint length = %d, want 32", len(raw))
	}
}

func TestGenerateDefaultValidity(t *testing.T) {
	info, err := Generate(0)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	cert, err := x509.ParseCertificate(info.TLSCert.Certificate[0])
	if err != nil {
		t.Fatalf("parse certificate: %v", err)
	}

	lifetime := cert.NotAfter.Sub(cert.NotBefore)
	if lifetime != defaultValidity {
		t.Errorf("lifetime = %v, want default %v", lifetime, defaultValidity)
	}
}

func TestGenerateUniqueSerials(t *testing.T) {
	a, err := Generate(time.Hour)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	b, err := Generate(time.Hour)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if a.Fingerprint == b.Fingerprint {
		t.Error("two generated certificates share a fingerprint")
	}
}
