// Package pki manages the root certificate authority used to mint
// per-authority leaf certificates for TLS interception. The CA itself
// is generated or loaded once; every leaf signed by it shares a single
// RSA-2048 private key, since RSA key generation (not signing) is the
// dominant cost of minting a leaf certificate.
package pki

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"time"
)

// leafKeyBits is the size of the RSA key shared across every leaf
// certificate minted by a CA. 2048 bits matches common browser
// minimums while keeping keygen affordable to do once at startup.
const leafKeyBits = 2048

// leafValidity and leafClockSkew bound the validity window of every
// minted leaf certificate.
const (
	leafValidity   = 365 * 24 * time.Hour
	leafClockSkew  = 60 * time.Second
	leafSerialBits = 159
)

// cnTooLongSentinel replaces the subject common name when the
// authority's host exceeds the 64-byte limit X.509 places on CNs.
const cnTooLongSentinel = "privaxy_cn_too_long.local"

// oidAuthorityKeyIdentifier is the OID of the authorityKeyIdentifier
// extension (RFC 5280 §4.2.1.1).
var oidAuthorityKeyIdentifier = asn1.ObjectIdentifier{2, 5, 29, 35}

// emptyAuthorityKeyIdentifier is the DER encoding of an
// AuthorityKeyIdentifier with both keyIdentifier and
// authorityCertIssuer/authorityCertSerialNumber omitted: an empty
// SEQUENCE. This mirrors original_source's cert.rs, which builds the
// extension with keyid(false).issuer(false).
var emptyAuthorityKeyIdentifier = []byte{0x30, 0x00}

// CA holds a certificate authority's signing key and certificate,
// plus the single RSA key shared across all leaves it mints.
type CA struct {
	cert    *x509.Certificate
	key     any // crypto.Signer: *rsa.PrivateKey or *ecdsa.PrivateKey
	certPEM []byte
	certDER []byte

	leafKey *rsa.PrivateKey
}

// NewCA generates a fresh, randomly keyed certificate authority. Used
// by bootstrap tooling (e.g. a one-time "pki init" step) and by tests;
// the running proxy itself loads CA material from disk via LoadCA,
// treating CA installation as an external, operator-driven concern.
func NewCA() (*CA, error) {
	key, err := rsa.GenerateKey(rand.Reader, 4096)
	if err != nil {
		return nil, fmt.Errorf("pki: generate CA key: %w", err)
	}

	serial, err := randomSerial(leafSerialBits)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"privaxy"},
			CommonName:   "privaxy root CA",
		},
		NotBefore:             now.Add(-leafClockSkew),
		NotAfter:              now.Add(10 * 365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLen:            0,
		MaxPathLenZero:        true,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("pki: create CA cert: %w", err)
	}

	return newCAFromDER(certDER, key)
}

// LoadCA parses a PEM-encoded CA certificate and private key, as
// produced by NewCA or an externally provisioned root CA. Both RSA and
// ECDSA CA keys are accepted for the signing key itself; only the leaf
// key (generated fresh here) must be RSA.
func LoadCA(certPEM, keyPEM []byte) (*CA, error) {
	certBlock, _ := pem.Decode(certPEM)
	if certBlock == nil || certBlock.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("pki: invalid CA certificate PEM")
	}

	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil {
		return nil, fmt.Errorf("pki: invalid CA key PEM")
	}

	key, err := parsePrivateKey(keyBlock)
	if err != nil {
		return nil, fmt.Errorf("pki: parse CA key: %w", err)
	}

	ca, err := newCAFromDER(certBlock.Bytes, key)
	if err != nil {
		return nil, err
	}

	if !ca.cert.IsCA {
		return nil, fmt.Errorf("pki: certificate is not a CA certificate")
	}
	if !publicKeysEqual(ca.cert.PublicKey, key) {
		return nil, fmt.Errorf("pki: CA certificate and key do not match")
	}

	return ca, nil
}

// LoadCAFromFiles loads the CA certificate and key from the given
// file paths. A missing or unreadable file is a fatal startup
// condition for the proxy.
func LoadCAFromFiles(certPath, keyPath string) (*CA, error) {
	certPEM, err := readFile(certPath)
	if err != nil {
		return nil, fmt.Errorf("pki: read CA certificate %q: %w", certPath, err)
	}
	keyPEM, err := readFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("pki: read CA key %q: %w", keyPath, err)
	}
	return LoadCA(certPEM, keyPEM)
}

func newCAFromDER(certDER []byte, key any) (*CA, error) {
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, fmt.Errorf("pki: parse CA cert: %w", err)
	}

	leafKey, err := rsa.GenerateKey(rand.Reader, leafKeyBits)
	if err != nil {
		return nil, fmt.Errorf("pki: generate shared leaf key: %w", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})

	return &CA{
		cert:    cert,
		key:     key,
		certPEM: certPEM,
		certDER: certDER,
		leafKey: leafKey,
	}, nil
}

// CertPEM returns the PEM-encoded CA certificate. This is the trust
// anchor clients must install in their trust store.
func (ca *CA) CertPEM() []byte {
	return ca.certPEM
}

// CertDER returns the DER-encoded CA certificate, as used in a leaf's
// certificate chain ([leaf_der, ca_der]).
func (ca *CA) CertDER() []byte {
	return ca.certDER
}

// KeyPEM exports the CA's private key as PEM. Only meaningful for a CA
// created by NewCA / bootstrap tooling that then persists the result.
func (ca *CA) KeyPEM() ([]byte, error) {
	switch k := ca.key.(type) {
	case *rsa.PrivateKey:
		der := x509.MarshalPKCS1PrivateKey(k)
		return pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: der}), nil
	default:
		der, err := x509.MarshalPKCS8PrivateKey(k)
		if err != nil {
			return nil, fmt.Errorf("pki: marshal CA key: %w", err)
		}
		return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
	}
}

// Leaf is a dynamically minted, CA-signed certificate for a single
// authority, plus the chain and key required to serve it.
type Leaf struct {
	// Authority is the host this leaf was minted for, without a port;
	// leaves for the same host on different ports are not told apart.
	Authority string
	// CertDER is the leaf's DER-encoded certificate.
	CertDER []byte
	// ChainDER is [leaf_der, ca_der], the chain served to clients.
	ChainDER [][]byte
	// Key is the RSA key shared across every leaf minted by this CA.
	Key *rsa.PrivateKey
}

// SignLeaf mints a leaf certificate for host (the authority's
// hostname, without port), following the construction rules of
// original_source's cert.rs: a 159-bit random serial, a
// 60-second clock-skew allowance on not_before, one year of validity,
// a CN truncated to a fixed sentinel when the host exceeds 64 bytes,
// an IP or DNS SAN depending on whether host parses as an IP address,
// and the extension set required of a server-auth leaf.
func (ca *CA) SignLeaf(host string) (*Leaf, error) {
	serial, err := randomSerial(leafSerialBits)
	if err != nil {
		return nil, err
	}

	cn := host
	if len(cn) > 64 {
		cn = cnTooLongSentinel
	}

	now := time.Now()
	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName: cn,
		},
		NotBefore:             now.Add(-leafClockSkew),
		NotAfter:              now.Add(leafValidity),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment | x509.KeyUsageContentCommitment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  false,
		SubjectKeyId:          subjectKeyID(&ca.leafKey.PublicKey),
		ExtraExtensions: []pkix.Extension{
			{Id: oidAuthorityKeyIdentifier, Value: emptyAuthorityKeyIdentifier},
		},
	}

	if ip := net.ParseIP(host); ip != nil {
		tmpl.IPAddresses = []net.IP{ip}
	} else {
		tmpl.DNSNames = []string{host}
	}

	certDER, err := x509.CreateCertificate(rand.Reader, tmpl, ca.cert, &ca.leafKey.PublicKey, ca.key)
	if err != nil {
		return nil, fmt.Errorf("pki: sign leaf for %q: %w", host, err)
	}

	return &Leaf{
		Authority: host,
		CertDER:   certDER,
		ChainDER:  [][]byte{certDER, ca.certDER},
		Key:       ca.leafKey,
	}, nil
}

// ---------------------------------------------------------------------------
// Internal helpers
// ---------------------------------------------------------------------------

func randomSerial(bits int) (*big.Int, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), uint(bits)))
	if err != nil {
		return nil, fmt.Errorf("pki: generate serial: %w", err)
	}
	return serial, nil
}

func subjectKeyID(pub *rsa.PublicKey) []byte {
	// SubjectKeyIdentifier content is not security sensitive; the
	// first 20 bytes of the raw modulus (no hash) serve as the
	// identifier. It is set explicitly because x509.CreateCertificate
	// only derives one automatically for CA certificates.
	sum := pub.N.Bytes()
	if len(sum) > 20 {
		sum = sum[:20]
	}
	return sum
}
