package notify

import (
	"bytes"
	"context"
	"net"
	"net/smtp"

	"github.com/cockroachdb/errors"
	"github.com/domodwyer/mailyak/v3"
	"github.com/robertarktes/event-ticketing/internal/domain"
)

type Message struct {
	To          string
	Subject     string
	HTML        string
	Plain       string
	Attachments []Artifact
}

type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Mailer sends messages over SMTP.
type Mailer struct {
	addr     string
	auth     smtp.Auth
	from     string
	fromName string
}

func NewMailer(addr, user, password, from string) *Mailer {
	var auth smtp.Auth
	if user != "" {
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			host = addr
		}
		auth = smtp.PlainAuth("", user, password, host)
	}
	return &Mailer{addr: addr, auth: auth, from: from, fromName: "Tickets"}
}

func (m *Mailer) compose(msg Message) *mailyak.MailYak {
	mail := mailyak.New(m.addr, m.auth)
	mail.From(m.from)
	mail.FromName(m.fromName)
	mail.To(msg.To)
	mail.Subject(msg.Subject)
	mail.HTML().Set(msg.HTML)
	mail.Plain().Set(msg.Plain)
	for _, a := range msg.Attachments {
		mail.AttachWithMimeType(a.Name, bytes.NewReader(a.Data), a.ContentType)
	}
	return mail
}

// Render returns the MIME body without sending it.
func (m *Mailer) Render(msg Message) ([]byte, error) {
	buf, err := m.compose(msg).MimeBuf()
	if err != nil {
		return nil, errors.Wrap(err, "build mime message")
	}
	return buf.Bytes(), nil
}

func (m *Mailer) Send(ctx context.Context, msg Message) error {
	if m.addr == "" {
		return errors.New("smtp address not configured")
	}
	done := make(chan error, 1)
	go func() { done <- m.compose(msg).Send() }()
	select {
	case <-ctx.Done():
		return errors.WithStack(ctx.Err())
	case err := <-done:
		if err != nil {
			return errors.Mark(errors.Wrapf(err, "send mail to %s", msg.To), domain.ErrUpstream)
		}
		return nil
	}
}
