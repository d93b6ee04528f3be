package security

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/posedge/edge/pkg/storage"
	"github.com/posedge/edge/pkg/types"
)

// CALevel names where in the three-level hierarchy a CA sits; it is
// also the storage.Store key under which its material is kept.
type CALevel string

const (
	LevelRoot   CALevel = "root"
	LevelTenant CALevel = "tenant"
)

// caData is the serialized, at-rest form of a CertificateAuthority:
// plaintext cert, encrypted key.
type caData struct {
	CertPEM          []byte
	EncryptedKeyPEM  []byte
}

// CertAuthority issues and verifies certificates in the three-level
// hierarchy: Root CA signs Tenant CAs, Tenant CAs sign Entity Certs.
// One instance represents one level; the Edge holds a Root handle
// (read-only, for chain verification against the hard-coded trust
// anchor) and a Tenant handle (signing-capable, local to the tenant).
type CertAuthority struct {
	level CALevel
	store storage.Store

	mu   sync.RWMutex
	cert *x509.Certificate
	key  crypto.Signer
}

// NewCertAuthority constructs a handle for one level of the hierarchy.
func NewCertAuthority(store storage.Store, level CALevel) *CertAuthority {
	return &CertAuthority{store: store, level: level}
}

func generateKey(keyType types.KeyType) (crypto.Signer, error) {
	switch keyType {
	case types.KeyTypeP256:
		return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	case types.KeyTypeRSA2048:
		return rsa.GenerateKey(rand.Reader, 2048)
	case types.KeyTypeRSA4096:
		return rsa.GenerateKey(rand.Reader, 4096)
	default:
		return nil, fmt.Errorf("security: unknown key type %q", keyType)
	}
}

func serialNumber() (*big.Int, error) {
	return rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
}

// Initialize generates a new, self-signed Root CA. Only valid for a
// CertAuthority at LevelRoot.
func (ca *CertAuthority) Initialize(profile types.CaProfile) error {
	if ca.level != LevelRoot {
		return fmt.Errorf("security: Initialize is only valid for the root CA")
	}
	ca.mu.Lock()
	defer ca.mu.Unlock()

	key, err := generateKey(profile.KeyType)
	if err != nil {
		return fmt.Errorf("generate root key: %w", err)
	}

	serial, err := serialNumber()
	if err != nil {
		return fmt.Errorf("generate serial number: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{profile.Organization},
			CommonName:   profile.CommonName,
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(time.Duration(profile.ValidityDays) * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		IsCA:                  true,
		BasicConstraintsValid: true,
		MaxPathLen:            1,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, key.Public(), key)
	if err != nil {
		return fmt.Errorf("create root certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return fmt.Errorf("parse root certificate: %w", err)
	}

	ca.cert = cert
	ca.key = key
	return nil
}

// IssueTenantCA issues a Tenant CA, signed by this (root) CA.
func (ca *CertAuthority) IssueTenantCA(profile types.CaProfile) (*CertAuthority, error) {
	if ca.level != LevelRoot {
		return nil, fmt.Errorf("security: only the root CA issues tenant CAs")
	}
	ca.mu.RLock()
	defer ca.mu.RUnlock()
	if ca.cert == nil || ca.key == nil {
		return nil, fmt.Errorf("security: root CA not initialized")
	}

	key, err := generateKey(profile.KeyType)
	if err != nil {
		return nil, fmt.Errorf("generate tenant key: %w", err)
	}
	serial, err := serialNumber()
	if err != nil {
		return nil, fmt.Errorf("generate serial number: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{profile.Organization},
			CommonName:   profile.CommonName,
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(time.Duration(profile.ValidityDays) * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
		IsCA:                  true,
		BasicConstraintsValid: true,
		MaxPathLenZero:        true,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, ca.cert, key.Public(), ca.key)
	if err != nil {
		return nil, fmt.Errorf("create tenant certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, fmt.Errorf("parse tenant certificate: %w", err)
	}

	tenant := &CertAuthority{store: ca.store, level: LevelTenant, cert: cert, key: key}
	return tenant, nil
}

// EntityCertRequest describes the entity an Entity Cert binds to.
type EntityCertRequest struct {
	EntityID    string
	TenantID    string
	DeviceID    string
	HardwareID  string
	KeyType     types.KeyType
	ValidityDays int
	DNSNames    []string
}

// IssueEntityCert issues a hardware-bound Entity Cert, signed by this
// (tenant) CA, carrying the private tenant_id/device_id/hardware_id
// extensions under the 1.3.6.1.4.1.99999 arc.
func (ca *CertAuthority) IssueEntityCert(req EntityCertRequest) ([]byte, crypto.Signer, error) {
	if ca.level != LevelTenant {
		return nil, nil, fmt.Errorf("security: only a tenant CA issues entity certs")
	}
	ca.mu.RLock()
	defer ca.mu.RUnlock()
	if ca.cert == nil || ca.key == nil {
		return nil, nil, fmt.Errorf("security: tenant CA not initialized")
	}

	key, err := generateKey(req.KeyType)
	if err != nil {
		return nil, nil, fmt.Errorf("generate entity key: %w", err)
	}
	serial, err := serialNumber()
	if err != nil {
		return nil, nil, fmt.Errorf("generate serial number: %w", err)
	}

	extensions, err := entityExtensions(req)
	if err != nil {
		return nil, nil, err
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName: req.EntityID,
		},
		NotBefore:       time.Now(),
		NotAfter:        time.Now().Add(time.Duration(req.ValidityDays) * 24 * time.Hour),
		KeyUsage:        x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:     []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
		DNSNames:        req.DNSNames,
		ExtraExtensions: extensions,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, ca.cert, key.Public(), ca.key)
	if err != nil {
		return nil, nil, fmt.Errorf("create entity certificate: %w", err)
	}

	return certDER, key, nil
}

func entityExtensions(req EntityCertRequest) ([]pkix.Extension, error) {
	mk := func(oid []int, value string) (pkix.Extension, error) {
		der, err := asn1.Marshal(value)
		if err != nil {
			return pkix.Extension{}, fmt.Errorf("marshal extension %v: %w", oid, err)
		}
		return pkix.Extension{Id: asn1.ObjectIdentifier(oid), Value: der}, nil
	}

	tenantExt, err := mk(types.OIDTenantID, req.TenantID)
	if err != nil {
		return nil, err
	}
	deviceExt, err := mk(types.OIDDeviceID, req.DeviceID)
	if err != nil {
		return nil, err
	}
	hwExt, err := mk(types.OIDHardwareID, req.HardwareID)
	if err != nil {
		return nil, err
	}
	return []pkix.Extension{tenantExt, deviceExt, hwExt}, nil
}

// ParseEntityCertMetadata extracts the subject common name and the
// three private extensions from an Entity Cert.
func ParseEntityCertMetadata(cert *x509.Certificate) (types.EntityCertMetadata, error) {
	meta := types.EntityCertMetadata{EntityID: cert.Subject.CommonName}

	readOID := func(oid []int) (string, bool) {
		for _, ext := range cert.Extensions {
			if ext.Id.Equal(asn1.ObjectIdentifier(oid)) {
				var value string
				if _, err := asn1.Unmarshal(ext.Value, &value); err != nil {
					return "", false
				}
				return value, true
			}
		}
		return "", false
	}

	tenantID, ok := readOID(types.OIDTenantID)
	if !ok {
		return meta, fmt.Errorf("security: entity cert missing tenant_id extension")
	}
	deviceID, ok := readOID(types.OIDDeviceID)
	if !ok {
		return meta, fmt.Errorf("security: entity cert missing device_id extension")
	}
	hardwareID, ok := readOID(types.OIDHardwareID)
	if !ok {
		return meta, fmt.Errorf("security: entity cert missing hardware_id extension")
	}

	meta.TenantID = tenantID
	meta.DeviceID = deviceID
	meta.HardwareID = hardwareID
	return meta, nil
}

// LoadFromStore loads this level's CA cert and decrypts its key from
// storage. SetEdgeMasterKey must have been called already.
func (ca *CertAuthority) LoadFromStore() error {
	ca.mu.Lock()
	defer ca.mu.Unlock()

	raw, err := ca.store.GetCA(string(ca.level))
	if err != nil {
		return fmt.Errorf("load %s CA from storage: %w", ca.level, err)
	}

	var data caData
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("unmarshal %s CA data: %w", ca.level, err)
	}

	keyPEM, err := Decrypt(data.EncryptedKeyPEM)
	if err != nil {
		return fmt.Errorf("decrypt %s CA key: %w", ca.level, err)
	}

	cert, key, err := parseCertAndKey(data.CertPEM, keyPEM)
	if err != nil {
		return err
	}

	ca.cert = cert
	ca.key = key
	return nil
}

// SaveToStore encrypts the key and persists cert+key to storage.
func (ca *CertAuthority) SaveToStore() error {
	ca.mu.RLock()
	defer ca.mu.RUnlock()

	if ca.cert == nil || ca.key == nil {
		return fmt.Errorf("security: %s CA not initialized", ca.level)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: ca.cert.Raw})
	keyPEM, err := marshalKeyPEM(ca.key)
	if err != nil {
		return err
	}
	encryptedKeyPEM, err := Encrypt(keyPEM)
	if err != nil {
		return fmt.Errorf("encrypt %s CA key: %w", ca.level, err)
	}

	data := caData{CertPEM: certPEM, EncryptedKeyPEM: encryptedKeyPEM}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s CA data: %w", ca.level, err)
	}

	if err := ca.store.SaveCA(string(ca.level), raw); err != nil {
		return fmt.Errorf("save %s CA to storage: %w", ca.level, err)
	}
	return nil
}

func marshalKeyPEM(key crypto.Signer) ([]byte, error) {
	switch k := key.(type) {
	case *ecdsa.PrivateKey:
		der, err := x509.MarshalECPrivateKey(k)
		if err != nil {
			return nil, fmt.Errorf("marshal EC key: %w", err)
		}
		return pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}), nil
	case *rsa.PrivateKey:
		der := x509.MarshalPKCS1PrivateKey(k)
		return pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: der}), nil
	default:
		return nil, fmt.Errorf("security: unsupported key type %T", key)
	}
}

func parseKeyPEM(keyPEM []byte) (crypto.Signer, error) {
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, fmt.Errorf("security: failed to decode key PEM")
	}
	switch block.Type {
	case "EC PRIVATE KEY":
		return x509.ParseECPrivateKey(block.Bytes)
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	default:
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("security: unsupported key PEM block type %q", block.Type)
		}
		signer, ok := key.(crypto.Signer)
		if !ok {
			return nil, fmt.Errorf("security: parsed key is not a signer")
		}
		return signer, nil
	}
}

func parseCertAndKey(certPEM, keyPEM []byte) (*x509.Certificate, crypto.Signer, error) {
	block, _ := pem.Decode(certPEM)
	if block == nil {
		return nil, nil, fmt.Errorf("security: failed to decode cert PEM")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, nil, fmt.Errorf("parse certificate: %w", err)
	}
	key, err := parseKeyPEM(keyPEM)
	if err != nil {
		return nil, nil, fmt.Errorf("parse key: %w", err)
	}
	return cert, key, nil
}

// CertPEM returns this CA's certificate as PEM, for distribution down
// the chain (Tenant CA PEM ships alongside every Entity Cert).
func (ca *CertAuthority) CertPEM() []byte {
	ca.mu.RLock()
	defer ca.mu.RUnlock()
	if ca.cert == nil {
		return nil
	}
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: ca.cert.Raw})
}

// Cert returns the parsed certificate.
func (ca *CertAuthority) Cert() *x509.Certificate {
	ca.mu.RLock()
	defer ca.mu.RUnlock()
	return ca.cert
}

// Signer exposes the CA's private key for signing SignedBinding blobs
// (the Tenant CA signs bindings directly, not through a certificate).
func (ca *CertAuthority) Signer() crypto.Signer {
	ca.mu.RLock()
	defer ca.mu.RUnlock()
	return ca.key
}

// IsInitialized reports whether this CA has a cert and key loaded.
func (ca *CertAuthority) IsInitialized() bool {
	ca.mu.RLock()
	defer ca.mu.RUnlock()
	return ca.cert != nil && ca.key != nil
}
