package crypto

import (
	"crypto/x509"
	"encoding/pem"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMakeTLSCertDeterministic(t *testing.T) {
	certA, keyA := MakeTLSCert("s3cr3t")
	certB, keyB := MakeTLSCert("s3cr3t")
	assert.Equal(t, certA, certB)
	assert.Equal(t, keyA, keyB)

	certC, _ := MakeTLSCert("other")
	assert.NotEqual(t, certA, certC)
}

func TestMakeTLSConfigVerifies(t *testing.T) {
	cert, key := MakeTLSCert("s3cr3t")
	conf := MakeTLSConfig(cert, key)
	require.Len(t, conf.Certificates, 1)

	block, _ := pem.Decode(cert)
	require.NotNil(t, block)
	parsed, err := x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)

	_, err = parsed.Verify(x509.VerifyOptions{
		DNSName:   ServerName,
		Roots:     conf.RootCAs,
		KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	})
	assert.NoError(t, err)
}
