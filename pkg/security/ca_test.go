package security

import (
	"encoding/pem"
	"os"
	"testing"
	"time"

	"github.com/posedge/edge/pkg/storage"
	"github.com/posedge/edge/pkg/types"
)

func pemEncodeCert(der []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}

func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	key := DeriveKeyFromEdgeID("test-edge")
	if err := SetEdgeMasterKey(key); err != nil {
		t.Fatalf("set edge master key: %v", err)
	}

	tmpDir, err := os.MkdirTemp("", "posedge-ca-test-*")
	if err != nil {
		t.Fatalf("create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	store, err := storage.NewBoltStore(tmpDir)
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testRootProfile() types.CaProfile {
	return types.CaProfile{
		CommonName:   "posedge-root",
		Organization: "posedge",
		ValidityDays: 3650,
		KeyType:      types.KeyTypeP256,
	}
}

func testTenantProfile() types.CaProfile {
	return types.CaProfile{
		CommonName:   "acme-tenant",
		Organization: "acme",
		ValidityDays: 1825,
		KeyType:      types.KeyTypeP256,
	}
}

func TestInitializeRootCA(t *testing.T) {
	store := newTestStore(t)
	root := NewCertAuthority(store, LevelRoot)

	if err := root.Initialize(testRootProfile()); err != nil {
		t.Fatalf("initialize root CA: %v", err)
	}
	if !root.IsInitialized() {
		t.Error("root CA should be initialized")
	}
	if !root.Cert().IsCA {
		t.Error("root cert should be a CA")
	}

	expectedExpiry := time.Now().AddDate(0, 0, 3650)
	if root.Cert().NotAfter.Before(expectedExpiry.Add(-time.Hour)) {
		t.Errorf("root cert expiry too early: %v", root.Cert().NotAfter)
	}
}

func TestInitializeOnlyValidForRoot(t *testing.T) {
	store := newTestStore(t)
	tenant := NewCertAuthority(store, LevelTenant)
	if err := tenant.Initialize(testTenantProfile()); err == nil {
		t.Error("Initialize should fail for a non-root CA level")
	}
}

func TestSaveLoadRootCA(t *testing.T) {
	store := newTestStore(t)

	root1 := NewCertAuthority(store, LevelRoot)
	if err := root1.Initialize(testRootProfile()); err != nil {
		t.Fatalf("initialize root CA: %v", err)
	}
	if err := root1.SaveToStore(); err != nil {
		t.Fatalf("save root CA: %v", err)
	}

	root2 := NewCertAuthority(store, LevelRoot)
	if err := root2.LoadFromStore(); err != nil {
		t.Fatalf("load root CA: %v", err)
	}
	if !root2.IsInitialized() {
		t.Error("loaded CA should be initialized")
	}
	if !root1.Cert().Equal(root2.Cert()) {
		t.Error("loaded root cert should match original")
	}
}

func TestIssueTenantCA(t *testing.T) {
	store := newTestStore(t)
	root := NewCertAuthority(store, LevelRoot)
	if err := root.Initialize(testRootProfile()); err != nil {
		t.Fatalf("initialize root CA: %v", err)
	}

	tenant, err := root.IssueTenantCA(testTenantProfile())
	if err != nil {
		t.Fatalf("issue tenant CA: %v", err)
	}

	if !tenant.Cert().IsCA {
		t.Error("tenant cert should be a CA")
	}
	if err := VerifyCASignature(tenant.Cert(), root.Cert()); err != nil {
		t.Errorf("tenant CA should chain to root: %v", err)
	}
}

func TestIssueEntityCert(t *testing.T) {
	store := newTestStore(t)
	root := NewCertAuthority(store, LevelRoot)
	if err := root.Initialize(testRootProfile()); err != nil {
		t.Fatalf("initialize root CA: %v", err)
	}
	tenant, err := root.IssueTenantCA(testTenantProfile())
	if err != nil {
		t.Fatalf("issue tenant CA: %v", err)
	}

	req := EntityCertRequest{
		EntityID:     "edge-01",
		TenantID:     "tenant-acme",
		DeviceID:     "device-001",
		HardwareID:   "hw-fingerprint-abc",
		KeyType:      types.KeyTypeP256,
		ValidityDays: 365,
	}
	certDER, key, err := tenant.IssueEntityCert(req)
	if err != nil {
		t.Fatalf("issue entity cert: %v", err)
	}
	if key == nil {
		t.Fatal("entity key should not be nil")
	}

	cert, err := ParsePEMCertificate(pemEncodeCert(certDER))
	if err != nil {
		t.Fatalf("parse entity cert: %v", err)
	}
	if cert.Subject.CommonName != "edge-01" {
		t.Errorf("expected CN edge-01, got %s", cert.Subject.CommonName)
	}

	if err := VerifyCASignature(cert, tenant.Cert()); err != nil {
		t.Errorf("entity cert should chain to tenant CA: %v", err)
	}

	meta, err := ParseEntityCertMetadata(cert)
	if err != nil {
		t.Fatalf("parse entity cert metadata: %v", err)
	}
	if meta.TenantID != req.TenantID || meta.DeviceID != req.DeviceID || meta.HardwareID != req.HardwareID {
		t.Errorf("entity cert metadata mismatch: %+v", meta)
	}
}

func TestIssueEntityCertRequiresTenantLevel(t *testing.T) {
	store := newTestStore(t)
	root := NewCertAuthority(store, LevelRoot)
	if err := root.Initialize(testRootProfile()); err != nil {
		t.Fatalf("initialize root CA: %v", err)
	}

	_, _, err := root.IssueEntityCert(EntityCertRequest{EntityID: "edge-01", KeyType: types.KeyTypeP256, ValidityDays: 365})
	if err == nil {
		t.Error("IssueEntityCert should fail for a non-tenant CA level")
	}
}

func TestFullChainVerify(t *testing.T) {
	store := newTestStore(t)
	root := NewCertAuthority(store, LevelRoot)
	if err := root.Initialize(testRootProfile()); err != nil {
		t.Fatalf("initialize root CA: %v", err)
	}
	tenant, err := root.IssueTenantCA(testTenantProfile())
	if err != nil {
		t.Fatalf("issue tenant CA: %v", err)
	}

	req := EntityCertRequest{
		EntityID:     "edge-02",
		TenantID:     "tenant-acme",
		DeviceID:     "device-002",
		HardwareID:   "hw-fingerprint-def",
		KeyType:      types.KeyTypeRSA2048,
		ValidityDays: 365,
	}
	certDER, _, err := tenant.IssueEntityCert(req)
	if err != nil {
		t.Fatalf("issue entity cert: %v", err)
	}

	entityPEM := pemEncodeCert(certDER)
	if err := FullChainVerify(root.Cert(), tenant.CertPEM(), entityPEM); err != nil {
		t.Errorf("full chain verify failed: %v", err)
	}
}
