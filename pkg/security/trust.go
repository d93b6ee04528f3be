package security

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"time"
)

// VerifyChainAgainstRoot verifies that a Tenant CA certificate is
// signed by the hard-coded Root CA, then that an Entity Cert is
// signed by that Tenant CA. Equivalent in effect to the original
// implementation's extract_tbs_bytes + manual signature check, but
// expressed with Go's x509 API: Certificate.CheckSignatureFrom already
// verifies the TBS bytes against the issuer's public key without
// hand-parsing DER.
func VerifyChainAgainstRoot(rootCert, tenantCert, entityCert *x509.Certificate) error {
	if err := checkTimeValidity(rootCert); err != nil {
		return fmt.Errorf("security: root CA %w", err)
	}
	if err := checkTimeValidity(tenantCert); err != nil {
		return fmt.Errorf("security: tenant CA %w", err)
	}
	if err := tenantCert.CheckSignatureFrom(rootCert); err != nil {
		return fmt.Errorf("security: tenant CA does not chain to root: %w", err)
	}
	if entityCert != nil {
		if err := checkTimeValidity(entityCert); err != nil {
			return fmt.Errorf("security: entity cert %w", err)
		}
		if err := entityCert.CheckSignatureFrom(tenantCert); err != nil {
			return fmt.Errorf("security: entity cert does not chain to tenant CA: %w", err)
		}
	}
	return nil
}

// checkTimeValidity rejects a certificate that is not yet valid or has
// expired, the link-failure mode VerifyChainAgainstRoot must catch on
// top of the signature chain itself.
func checkTimeValidity(cert *x509.Certificate) error {
	now := time.Now()
	if now.Before(cert.NotBefore) {
		return fmt.Errorf("is not yet valid (NotBefore %s)", cert.NotBefore.Format(time.RFC3339))
	}
	if now.After(cert.NotAfter) {
		return fmt.Errorf("has expired (NotAfter %s)", cert.NotAfter.Format(time.RFC3339))
	}
	return nil
}

// VerifyCASignature verifies a single certificate's signature against
// a candidate parent, the unit operation VerifyChainAgainstRoot is
// built from.
func VerifyCASignature(cert, parent *x509.Certificate) error {
	if err := cert.CheckSignatureFrom(parent); err != nil {
		return fmt.Errorf("security: signature verification failed: %w", err)
	}
	return nil
}

// ParsePEMCertificate decodes a single PEM-encoded certificate.
func ParsePEMCertificate(certPEM []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(certPEM)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("security: failed to decode certificate PEM")
	}
	return x509.ParseCertificate(block.Bytes)
}

// SkipHostnameVerifierConfig builds a tls.Config that performs full
// chain and time verification against roots (revocation is not
// checked) but never compares the peer certificate's SAN/CN against the dialed address.
// Required for edge-to-store-IP connections on networks where the
// store's LAN address is dynamic (DHCP) and can't be baked into the
// entity cert's DNSNames/IPAddresses at issuance time. Must never be
// used for cloud-facing traffic, where the hostname is stable and SAN
// mismatch is exactly the attack this would otherwise catch.
func SkipHostnameVerifierConfig(clientCert tls.Certificate, roots *x509.CertPool) *tls.Config {
	return &tls.Config{
		Certificates:          []tls.Certificate{clientCert},
		RootCAs:               roots,
		MinVersion:            tls.VersionTLS13,
		InsecureSkipVerify:    true, // SAN/CN check skipped deliberately; chain+time verified below
		VerifyPeerCertificate: skipHostnameVerify(roots),
	}
}

// skipHostnameVerify returns a VerifyPeerCertificate callback that
// redoes everything the standard verifier does except hostname
// matching: parse the raw chain, verify it against roots, and check
// time validity. tls.Config.InsecureSkipVerify must be true for this
// callback to run instead of (and not in addition to) Go's own
// hostname-enforcing verifier.
func skipHostnameVerify(roots *x509.CertPool) func([][]byte, [][]*x509.Certificate) error {
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return fmt.Errorf("security: no peer certificate presented")
		}
		leaf, err := x509.ParseCertificate(rawCerts[0])
		if err != nil {
			return fmt.Errorf("security: parse peer certificate: %w", err)
		}
		intermediates := x509.NewCertPool()
		for _, der := range rawCerts[1:] {
			cert, err := x509.ParseCertificate(der)
			if err != nil {
				return fmt.Errorf("security: parse peer intermediate: %w", err)
			}
			intermediates.AddCert(cert)
		}
		_, err = leaf.Verify(x509.VerifyOptions{
			Roots:         roots,
			Intermediates: intermediates,
			KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
		})
		if err != nil {
			return fmt.Errorf("security: peer chain verification failed: %w", err)
		}
		return nil
	}
}

// FullChainVerify takes the hard-coded root, the tenant CA PEM shipped
// alongside the entity credential, and the entity cert itself, and
// confirms the whole chain is valid. It returns only an error; the
// entity's bound metadata is read with ParseEntityCertMetadata.
func FullChainVerify(rootCert *x509.Certificate, tenantCertPEM, entityCertPEM []byte) error {
	tenantCert, err := ParsePEMCertificate(tenantCertPEM)
	if err != nil {
		return fmt.Errorf("security: parse tenant CA cert: %w", err)
	}
	entityCert, err := ParsePEMCertificate(entityCertPEM)
	if err != nil {
		return fmt.Errorf("security: parse entity cert: %w", err)
	}
	return VerifyChainAgainstRoot(rootCert, tenantCert, entityCert)
}
