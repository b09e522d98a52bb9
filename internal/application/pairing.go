package application

import (
	"encoding/base64"
	"encoding/json"
	"time"

	"servicegate/internal/domain"
	"servicegate/internal/ports"
)

const (
	pairingType    = "pairing"
	pairingVersion = 1

	// DefaultPairingLifetime bounds a paired device's token. There is no
	// refresh; after expiry the device pairs again.
	DefaultPairingLifetime = 24 * time.Hour
)

// PairingService builds the transferable payload an already
// authenticated principal hands to a new device, typically rendered as
// a scannable code by the client.
type PairingService struct {
	issuer         ports.TokenIssuer
	hostIdentifier string
	address        string
	port           int
	apiBaseURL     string
	audiences      []string
	lifetime       time.Duration
}

func NewPairingService(issuer ports.TokenIssuer, hostIdentifier, address string, port int, apiBaseURL string, audiences []string) *PairingService {
	return &PairingService{
		issuer:         issuer,
		hostIdentifier: hostIdentifier,
		address:        address,
		port:           port,
		apiBaseURL:     apiBaseURL,
		audiences:      audiences,
		lifetime:       DefaultPairingLifetime,
	}
}

func (s *PairingService) CreatePayload(subjectID, email string) (domain.PairingPayload, error) {
	if subjectID == "" || email == "" {
		return domain.PairingPayload{}, domain.ErrInvalidInput
	}
	token, err := s.issuer.Issue(subjectID, email, s.audiences, s.lifetime)
	if err != nil {
		return domain.PairingPayload{}, err
	}
	return domain.PairingPayload{
		Type:           pairingType,
		Version:        pairingVersion,
		HostIdentifier: s.hostIdentifier,
		Address:        s.address,
		Port:           s.port,
		APIBaseURL:     s.apiBaseURL,
		AuthToken:      token,
	}, nil
}

// EncodePayload renders the payload in the compact form carried by the
// pairing code.
func EncodePayload(p domain.PairingPayload) (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// DecodePayload is the receiving device's half of the exchange.
func DecodePayload(encoded string) (domain.PairingPayload, error) {
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return domain.PairingPayload{}, domain.ErrInvalidInput
	}
	var p domain.PairingPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return domain.PairingPayload{}, domain.ErrInvalidInput
	}
	if p.Type != pairingType || p.Version != pairingVersion || p.AuthToken == "" {
		return domain.PairingPayload{}, domain.ErrInvalidInput
	}
	return p, nil
}
