package issuance

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/robertarktes/event-ticketing/internal/domain"
)

const payloadType = "event_ticket"

// Claims is what a ticket's scannable code carries.
type Claims struct {
	TicketNumber string `json:"tkt"`
	EventID      string `json:"evt"`
	Type         string `json:"typ"`
	jwt.RegisteredClaims
}

type Signer struct {
	key []byte
}

func NewSigner(key string) (*Signer, error) {
	if len(key) < 16 {
		return nil, errors.New("ticket signing key must be at least 16 bytes")
	}
	return &Signer{key: []byte(key)}, nil
}

func (s *Signer) Sign(ticketNumber string, eventID uuid.UUID, at time.Time) (string, error) {
	claims := Claims{
		TicketNumber: ticketNumber,
		EventID:      eventID.String(),
		Type:         payloadType,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(at),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", errors.Wrap(err, "sign ticket payload")
	}
	return token, nil
}

func (s *Signer) Verify(token string) (Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		return s.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuedAt())
	if err != nil {
		return Claims{}, errors.Wrapf(domain.ErrBadSignature, "ticket payload: %v", err)
	}
	if claims.Type != payloadType || claims.TicketNumber == "" {
		return Claims{}, errors.Wrap(domain.ErrBadSignature, "not a ticket payload")
	}
	return claims, nil
}
