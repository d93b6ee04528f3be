/*
Package security provides cryptographic services for an Edge: encryption at
rest via KeyBox, a three-level Certificate Authority for mutual TLS, and
signed offline bindings that let an Edge keep operating through a cloud
outage while still detecting subscription expiry and clock tampering.

# Architecture

	┌─────────────────────────────────────────────────────────────┐
	│                    Security Architecture                    │
	└─────┬───────────────────────┬──────────────────┬────────────┘
	      │                       │                  │
	      ▼                       ▼                  ▼
	┌─────────────┐      ┌────────────────┐   ┌──────────────┐
	│   KeyBox    │      │   Three-level  │   │   Signed     │
	│ Encryption  │      │       CA       │   │  Bindings    │
	└─────┬───────┘      └────────┬───────┘   └──────┬───────┘
	      │                       │                   │
	      ▼                       ▼                   ▼
	  AES-256-GCM           Root → Tenant         Offline identity
	  at-rest data          → Entity Cert         + subscription proof

# Edge Master Key

All at-rest encryption is rooted in the edge master key, a 32-byte key
derived from the edge's identifier during activation:

	edgeKey = SHA-256(edgeID)  // 32 bytes for AES-256

This key encrypts CA private keys and any other sensitive data persisted by
pkg/storage. It is held only in memory and must be re-derived (or restored
from backup) on every process start.

# KeyBox Encryption

KeyBox wraps AES-256-GCM for authenticated encryption of arbitrary
plaintext:

	Plaintext → AES-256-GCM → [nonce || ciphertext || tag]
	                ↑
	            32-byte key

 1. Generate a random 12-byte nonce
 2. Seal plaintext with AES-256-GCM under that nonce
 3. Prepend the nonce to the ciphertext
 4. Store the combined bytes

Decryption reverses the process and fails closed: a modified ciphertext,
wrong key, or wrong nonce all surface as an error rather than garbage
plaintext.

The package-level Encrypt/Decrypt functions operate on a singleton KeyBox
seeded by SetEdgeMasterKey, for code that doesn't want to thread a KeyBox
through every call site (CA key storage, sync credential caching).

# Three-Level Certificate Authority

The PKI hierarchy has exactly three levels:

	Root CA (self-signed, hard-coded trust anchor)
	└── Tenant CA (signed by Root, one per tenant, local to that tenant)
	    └── Entity Cert (signed by Tenant CA, one per Edge or client)

Root CAs, Tenant CAs and Entity Certs each support P-256, RSA-2048, or
RSA-4096 keys (types.KeyType); an Entity Cert's key type comes from its
EntityCertRequest and need not match the issuing Tenant CA's. Every
Entity Cert carries three private X.509
extensions under the 1.3.6.1.4.1.99999 enterprise arc:

	1.3.6.1.4.1.99999.1  tenant_id
	1.3.6.1.4.1.99999.2  device_id
	1.3.6.1.4.1.99999.4  hardware_id

binding the certificate to a specific tenant, device registration, and
physical machine (see GenerateHardwareID). ParseEntityCertMetadata reads
these back out of a presented certificate.

Chain verification (VerifyChainAgainstRoot, FullChainVerify) walks
Entity → Tenant → Root using x509.Certificate.CheckSignatureFrom, which
verifies the TBS bytes against the issuer's public key without any manual
DER parsing.

# Signed Bindings

A SignedBinding is the Tenant CA's signed statement of an entity's identity
and current SubscriptionInfo, stored alongside the Entity Cert so the
entity can prove both facts while cut off from Cloud. SignBinding and
VerifyBindingSignature cover issuance and verification; EvaluateSubscription
classifies a carried SubscriptionInfo as OK, in its grace period, or
expired relative to the current time.

Because the binding is the only thing standing between an offline Edge and
an expired subscription, CheckClockTamper enforces that last_verified_at
never moves backwards by more than an hour, nor forwards by more than 30
days without a fresh online check-in — catching the case where a till's
clock was rolled back to extend a trial.

# Usage Examples

## Setting the edge master key

	key := security.DeriveKeyFromEdgeID(edgeID)
	if err := security.SetEdgeMasterKey(key); err != nil {
		panic(err)
	}

## Bootstrapping the CA hierarchy

	store, err := storage.NewBoltStore(dataDir)
	if err != nil {
		panic(err)
	}

	root := security.NewCertAuthority(store, security.LevelRoot)
	if err := root.Initialize(types.CaProfile{
		CommonName:   "posedge Root CA",
		Organization: "posedge",
		ValidityDays: 3650,
		KeyType:      types.KeyTypeP256,
	}); err != nil {
		panic(err)
	}
	if err := root.SaveToStore(); err != nil {
		panic(err)
	}

	tenant, err := root.IssueTenantCA(types.CaProfile{
		CommonName:   "acme-tenant",
		Organization: "acme",
		ValidityDays: 1825,
		KeyType:      types.KeyTypeP256,
	})
	if err != nil {
		panic(err)
	}
	if err := tenant.SaveToStore(); err != nil {
		panic(err)
	}

## Issuing an Entity Cert at activation

	hwID, err := security.GenerateHardwareID()
	if err != nil {
		panic(err)
	}

	certDER, key, err := tenant.IssueEntityCert(security.EntityCertRequest{
		EntityID:     edgeID,
		TenantID:     tenantID,
		DeviceID:     deviceID,
		HardwareID:   hwID,
		KeyType:      types.KeyTypeP256,
		ValidityDays: 365,
	})
	if err != nil {
		panic(err)
	}

## Verifying a presented chain

	if err := security.FullChainVerify(rootCert, tenantCertPEM, entityCertPEM); err != nil {
		// reject the connection
	}

## Signing and checking a binding

	binding, err := security.SignBinding(tenant, types.SignedBinding{
		TenantID:       tenantID,
		EntityID:       edgeID,
		EntityType:     types.EntityTypeServer,
		DeviceID:       deviceID,
		Subscription:   &sub,
		LastVerifiedAt: time.Now(),
	})
	if err != nil {
		panic(err)
	}

	if err := security.VerifyBindingSignature(tenantCert.PublicKey, binding); err != nil {
		// binding tampered with or signed by a different tenant
	}

	switch security.EvaluateSubscription(binding.Subscription, time.Now()) {
	case security.SubscriptionOK:
	case security.SubscriptionGrace:
		// warn, keep serving
	case security.SubscriptionExpired:
		// refuse new commands, enter degraded mode
	}

# Integration Points

## Storage Integration

CA material is persisted to bbolt via pkg/storage:

	Bucket: "ca"
	Key: "root" / "tenant"
	Value: {CertPEM: [...], EncryptedKeyPEM: [...]} (CertAuthority.SaveToStore);
	       activation stores the Root and Tenant CA certificates here as
	       plain PEM with no key

	Bucket: "entity_credential"
	Key: "current" (one credential per Edge)
	Value: {TenantID, EntityID, EntityCertPEM, EncryptedKeyPEM}

	Bucket: "signed_binding"
	Key: "current"
	Value: the SignedBinding as JSON

The CA private key and any cached credentials are always encrypted at rest
with the edge master key.

## mTLS Integration

Edge↔Cloud sync and the message bus both authenticate with the issued
Entity Cert:

	creds := &tls.Config{
		Certificates: []tls.Certificate{entityTLSCert},
		RootCAs:      rootCertPool,
	}

## Activation Integration

The activation flow (pkg/activation, not this package) drives the
exchange end to end: hardware fingerprint → POST /api/server/activate →
Cloud issues and signs the Entity Cert and binding → persisted via
storage.Store using this package's Encrypt/Decrypt for the entity key.

# Security Considerations

## Key Management

The edge master key is critical: its compromise exposes every encrypted CA
key and cached credential; its loss makes local CA material unrecoverable
(Cloud re-activation is the only way back).

## Threat Model

This package protects against:

	✓ Network eavesdropping (TLS encryption)
	✓ Unauthorized access (mTLS authentication)
	✓ At-rest data tampering (AES-GCM)
	✓ Impersonation (CA-signed Entity Certs)
	✓ Clock-rollback subscription fraud (CheckClockTamper)

It does NOT protect against:

	✗ Compromise of the edge master key
	✗ Compromise of a Tenant CA's private key
	✗ Physical access to a running, unlocked Edge

# See Also

  - pkg/storage - encrypted storage backend
  - pkg/sync - Edge↔Cloud synchronization, consumer of Entity Certs
  - pkg/bus - message bus, consumer of mTLS credentials
*/
package security
