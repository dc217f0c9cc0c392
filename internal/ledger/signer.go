package ledger

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"

	dErrors "veda/pkg/domain-errors"
)

// Signer signs record hashes with the process-wide ECDSA private key.
// Key material is loaded once at startup and never changes.
type Signer struct {
	key   *ecdsa.PrivateKey
	keyID string
}

// NewSigner parses a PEM-encoded EC private key (SEC1 or PKCS#8).
func NewSigner(pemData []byte, keyID string) (*Signer, error) {
	if keyID == "" {
		return nil, dErrors.New(dErrors.CodeCrypto, "signing key id is required")
	}
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, dErrors.New(dErrors.CodeCrypto, "no PEM block in private key material")
	}
	key, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		parsed, pkcs8Err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if pkcs8Err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeCrypto, "parse EC private key")
		}
		ec, ok := parsed.(*ecdsa.PrivateKey)
		if !ok {
			return nil, dErrors.New(dErrors.CodeCrypto, "private key is not an EC key")
		}
		key = ec
	}
	return &Signer{key: key, keyID: keyID}, nil
}

// KeyID returns the identifier attached to records signed by this signer.
func (s *Signer) KeyID() string { return s.keyID }

// Sign produces a base64 ECDSA signature over SHA-256(recordHash).
func (s *Signer) Sign(recordHash string) (string, error) {
	digest := sha256.Sum256([]byte(recordHash))
	sig, err := ecdsa.SignASN1(rand.Reader, s.key, digest[:])
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeCrypto, "sign record hash")
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// PublicKeyPEM returns the matching public key, PEM-encoded. Used by
// tests and by deployments that derive the verifier from the signer.
func (s *Signer) PublicKeyPEM() ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(&s.key.PublicKey)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeCrypto, "marshal public key")
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

// Verifier checks record signatures against public keys indexed by the
// key identifier carried on each record, permitting rotation.
type Verifier struct {
	keys map[string]*ecdsa.PublicKey
}

func NewVerifier() *Verifier {
	return &Verifier{keys: make(map[string]*ecdsa.PublicKey)}
}

// AddKey registers a PEM-encoded public key under a key identifier.
func (v *Verifier) AddKey(keyID string, pemData []byte) error {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return dErrors.New(dErrors.CodeCrypto, "no PEM block in public key material")
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeCrypto, "parse public key")
	}
	pub, ok := parsed.(*ecdsa.PublicKey)
	if !ok {
		return dErrors.New(dErrors.CodeCrypto, "public key is not an EC key")
	}
	v.keys[keyID] = pub
	return nil
}

// Verify checks the base64 signature over recordHash under the key
// registered for keyID.
func (v *Verifier) Verify(recordHash, sigB64, keyID string) error {
	pub, ok := v.keys[keyID]
	if !ok {
		return dErrors.Newf(dErrors.CodeCrypto, "unknown signing key id %q", keyID)
	}
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeCrypto, "decode signature")
	}
	digest := sha256.Sum256([]byte(recordHash))
	if !ecdsa.VerifyASN1(pub, digest[:], sig) {
		return dErrors.New(dErrors.CodeCrypto, "signature does not verify")
	}
	return nil
}
