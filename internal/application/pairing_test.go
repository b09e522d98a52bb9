package application

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"servicegate/internal/domain"
)

type tokenIssuerMock struct{ mock.Mock }

func (m *tokenIssuerMock) Issue(subjectID, email string, audiences []string, lifetime time.Duration) (string, error) {
	args := m.Called(subjectID, email, audiences, lifetime)
	return args.String(0), args.Error(1)
}

func TestCreatePayload_EmbedsTokenAndConnectionMetadata(t *testing.T) {
	issuer := new(tokenIssuerMock)
	svc := NewPairingService(issuer, "home-server", "203.0.113.7", 443, "https://203.0.113.7/api", []string{"gateway", "files"})

	issuer.On("Issue", "alice", "alice@example.com", []string{"gateway", "files"}, DefaultPairingLifetime).
		Return("signed-token", nil)

	payload, err := svc.CreatePayload("alice", "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "pairing", payload.Type)
	assert.Equal(t, 1, payload.Version)
	assert.Equal(t, "home-server", payload.HostIdentifier)
	assert.Equal(t, "203.0.113.7", payload.Address)
	assert.Equal(t, 443, payload.Port)
	assert.Equal(t, "https://203.0.113.7/api", payload.APIBaseURL)
	assert.Equal(t, "signed-token", payload.AuthToken)
}

func TestPairingPayload_EncodeDecodeRoundTrip(t *testing.T) {
	payload := domain.PairingPayload{
		Type:           "pairing",
		Version:        1,
		HostIdentifier: "home-server",
		Address:        "203.0.113.7",
		Port:           443,
		APIBaseURL:     "https://203.0.113.7/api",
		AuthToken:      "signed-token",
	}

	encoded, err := EncodePayload(payload)
	require.NoError(t, err)

	decoded, err := DecodePayload(encoded)
	require.NoError(t, err)
	assert.Equal(t, payload, decoded)
}

func TestDecodePayload_RejectsGarbageAndWrongType(t *testing.T) {
	_, err := DecodePayload("not base64 ***")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	other, err := EncodePayload(domain.PairingPayload{Type: "other", Version: 1, AuthToken: "x"})
	require.NoError(t, err)
	_, err = DecodePayload(other)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestCreatePayload_InvalidInput(t *testing.T) {
	svc := NewPairingService(new(tokenIssuerMock), "home", "addr", 1, "url", []string{"gateway"})

	_, err := svc.CreatePayload("", "alice@example.com")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
