package types

import "time"

// KeyType selects the asymmetric algorithm used for a CA or entity key.
type KeyType string

const (
	KeyTypeP256    KeyType = "P256"
	KeyTypeRSA2048 KeyType = "RSA2048"
	KeyTypeRSA4096 KeyType = "RSA4096"
)

// CaProfile describes the certificate a caller wants issued; it is the
// input to CA/entity issuance, not the stored artifact.
type CaProfile struct {
	CommonName   string  `json:"common_name"`
	Organization string  `json:"organization"`
	ValidityDays int     `json:"validity_days"`
	KeyType      KeyType `json:"key_type"`
}

// CertificateAuthority is a stored, signing-capable CA: its own cert
// plus the private key that issues certificates beneath it.
type CertificateAuthority struct {
	CertPEM []byte `json:"cert_pem"`
	KeyPEM  []byte `json:"key_pem"` // encrypted at rest by pkg/security
}

// EntityType distinguishes a server (Edge) identity from a thin client.
type EntityType string

const (
	EntityTypeServer EntityType = "SERVER"
	EntityTypeClient EntityType = "CLIENT"
)

// SubscriptionStatus mirrors the billing lifecycle Cloud reports.
type SubscriptionStatus string

const (
	SubStatusActive    SubscriptionStatus = "ACTIVE"
	SubStatusPastDue   SubscriptionStatus = "PAST_DUE"
	SubStatusCanceled  SubscriptionStatus = "CANCELED"
	SubStatusUnpaid    SubscriptionStatus = "UNPAID"
	SubStatusExpired   SubscriptionStatus = "EXPIRED"
	SubStatusInactive  SubscriptionStatus = "INACTIVE"
)

// SubscriptionPlan is the tier purchased by the tenant.
type SubscriptionPlan string

const (
	PlanBasic      SubscriptionPlan = "BASIC"
	PlanPro        SubscriptionPlan = "PRO"
	PlanEnterprise SubscriptionPlan = "ENTERPRISE"
)

// P12Info describes a fiscal PKCS#12 blob whose bytes live in S3/KMS;
// only metadata about it travels through this system.
type P12Info struct {
	Fingerprint string    `json:"fingerprint"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// SubscriptionInfo is the Cloud-signed statement of a tenant's plan,
// carried offline inside a SignedBinding.
type SubscriptionInfo struct {
	TenantID             string              `json:"tenant_id"`
	Status               SubscriptionStatus  `json:"status"`
	Plan                 SubscriptionPlan    `json:"plan"`
	StartsAt             time.Time           `json:"starts_at"`
	ExpiresAt            *time.Time          `json:"expires_at,omitempty"`
	Features             []string            `json:"features,omitempty"`
	MaxStores            int                 `json:"max_stores"`
	MaxClients           int                 `json:"max_clients"`
	SignatureValidUntil  time.Time           `json:"signature_valid_until"`
	LastCheckedAt        time.Time           `json:"last_checked_at"`
	P12                  *P12Info            `json:"p12,omitempty"`
	Signature            []byte              `json:"signature,omitempty"`
}

// SignedBinding is the Tenant-CA-signed statement of an entity's
// identity and subscription, persisted alongside its Entity Cert so
// the entity can keep operating offline.
type SignedBinding struct {
	TenantID       string            `json:"tenant_id"`
	EntityID       string            `json:"entity_id"`
	EntityType     EntityType        `json:"entity_type"`
	DeviceID       string            `json:"device_id"`
	Subscription   *SubscriptionInfo `json:"subscription,omitempty"`
	LastVerifiedAt time.Time         `json:"last_verified_at"`
	Signature      []byte            `json:"signature,omitempty"`
}

// Private X.509 extension OIDs carried by every Entity Cert, under the
// enterprise arc 1.3.6.1.4.1.99999.
var (
	OIDTenantID   = []int{1, 3, 6, 1, 4, 1, 99999, 1}
	OIDDeviceID   = []int{1, 3, 6, 1, 4, 1, 99999, 2}
	OIDHardwareID = []int{1, 3, 6, 1, 4, 1, 99999, 4}
)

// EntityCertMetadata is what gets parsed back out of an Entity Cert's
// subject and private extensions.
type EntityCertMetadata struct {
	EntityID   string
	TenantID   string
	DeviceID   string
	HardwareID string
}

// ActivationRequest is what an Edge posts to Cloud's
// /api/server/activate to exchange a one-time activation key for a
// hardware-bound Entity Cert.
type ActivationRequest struct {
	ActivationKey string `json:"activation_key"`
	HardwareID    string `json:"hardware_id"`
	EdgeID        string `json:"edge_id,omitempty"`
	StoreName     string `json:"store_name,omitempty"`
}

// ActivationResponse is Cloud's reply: everything the Edge needs to
// persist to start operating as a signing-capable, subscription-aware
// entity without contacting Cloud again.
type ActivationResponse struct {
	TenantID        string            `json:"tenant_id"`
	EntityID        string            `json:"entity_id"`
	EntityCertPEM   []byte            `json:"entity_cert_pem"`
	EntityKeyPEM    []byte            `json:"entity_key_pem"`
	TenantCACertPEM []byte            `json:"tenant_ca_cert_pem"`
	RootCACertPEM   []byte            `json:"root_ca_cert_pem"`
	Binding         SignedBinding     `json:"binding"`
	Subscription    *SubscriptionInfo `json:"subscription,omitempty"`
}
