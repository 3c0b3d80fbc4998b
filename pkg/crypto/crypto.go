// Package crypto derives the TLS identity shared by every member of a bus
// cluster from a common secret.
package crypto

import (
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"io"
	"math/big"
	"time"

	"golang.org/x/crypto/hkdf"
)

// ServerName is the DNS name baked into the derived certificate. Clients must
// verify against it instead of the dialed host.
const ServerName = "rabbit-fence"

// MakeTLSCert deterministically derives a self-signed certificate and private
// key from the shared secret, returning both PEM encoded. Every node that
// knows the secret derives the exact same pair.
func MakeTLSCert(secret string) ([]byte, []byte) {
	kdf := hkdf.New(sha256.New, []byte(secret), []byte(ServerName), []byte("tls identity"))

	seed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(kdf, seed); err != nil {
		panic(err) // hkdf only fails past 255 blocks of output
	}
	key := ed25519.NewKeyFromSeed(seed)

	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: ServerName},
		DNSNames:              []string{ServerName},
		NotBefore:             time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		NotAfter:              time.Date(2120, 1, 1, 0, 0, 0, 0, time.UTC),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(kdf, template, template, key.Public(), key)
	if err != nil {
		panic(err)
	}
	pkcs8, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		panic(err)
	}
	cert := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	priv := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: pkcs8})

	return cert, priv
}

// MakeTLSConfig creates a mutually authenticated TLS config that only trusts
// peers presenting the same derived certificate.
func MakeTLSConfig(cert, key []byte) *tls.Config {
	pair, err := tls.X509KeyPair(cert, key)
	if err != nil {
		panic(err)
	}
	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM(cert)

	return &tls.Config{
		Certificates: []tls.Certificate{pair},
		RootCAs:      pool,
		ClientCAs:    pool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		ServerName:   ServerName,
		MinVersion:   tls.VersionTLS13,
	}
}
