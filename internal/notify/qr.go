package notify

import (
	"github.com/cockroachdb/errors"
	"github.com/robertarktes/event-ticketing/internal/domain"
	qrcode "github.com/skip2/go-qrcode"
)

type Artifact struct {
	TicketNumber string
	Name         string
	ContentType  string
	Data         []byte
}

type Renderer interface {
	Render(t domain.IssuedTicket) (Artifact, error)
}

// QRRenderer encodes a ticket's signed payload as a PNG QR code.
type QRRenderer struct {
	size int
}

func NewQRRenderer(size int) *QRRenderer {
	if size <= 0 {
		size = 300
	}
	return &QRRenderer{size: size}
}

func (r *QRRenderer) Render(t domain.IssuedTicket) (Artifact, error) {
	png, err := qrcode.Encode(t.Payload, qrcode.High, r.size)
	if err != nil {
		return Artifact{}, errors.Wrapf(err, "render qr for %s", t.TicketNumber)
	}
	return Artifact{
		TicketNumber: t.TicketNumber,
		Name:         t.TicketNumber + ".png",
		ContentType:  "image/png",
		Data:         png,
	}, nil
}
