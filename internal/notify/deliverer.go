package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"html/template"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/event-ticketing/internal/domain"
	"github.com/robertarktes/event-ticketing/internal/observability"
	"golang.org/x/sync/errgroup"
)

var confirmation = template.Must(template.New("confirmation").Parse(`<p>Thanks for your purchase.</p>
<p>Total paid: {{.Total}} {{.Currency}}</p>
<ul>{{range .Tickets}}<li>{{.TicketNumber}}</li>{{end}}</ul>
<p>Show the attached QR code at the door. Each code can be scanned once.</p>`))

// Deliverer sends the confirmation email for an issued batch. Delivery is
// best-effort: tickets are already valid whatever happens here.
type Deliverer struct {
	renderer Renderer
	sender   Sender
	logger   observability.Logger
}

func NewDeliverer(renderer Renderer, sender Sender, logger observability.Logger) *Deliverer {
	return &Deliverer{renderer: renderer, sender: sender, logger: logger}
}

func (d *Deliverer) Handle(ctx context.Context, ev domain.TicketsIssued) error {
	log := d.logger.WithField("purchase_id", ev.PurchaseID)
	if ev.BuyerEmail == "" {
		log.Warn("no buyer email, skipping delivery")
		observability.Deliveries.WithLabelValues("skipped").Inc()
		return nil
	}

	artifacts := make([]Artifact, len(ev.Tickets))
	g, _ := errgroup.WithContext(ctx)
	for i, t := range ev.Tickets {
		g.Go(func() error {
			a, err := d.renderer.Render(t)
			if err != nil {
				return err
			}
			artifacts[i] = a
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		observability.Deliveries.WithLabelValues("render_failed").Inc()
		log.WithError(err).Error("ticket rendering failed")
		return err
	}

	var html bytes.Buffer
	if err := confirmation.Execute(&html, map[string]interface{}{
		"Total":    ev.Total.StringFixed(2),
		"Currency": ev.Currency,
		"Tickets":  ev.Tickets,
	}); err != nil {
		return errors.Wrap(err, "render confirmation")
	}

	err := d.sender.Send(ctx, Message{
		To:          ev.BuyerEmail,
		Subject:     "Your tickets",
		HTML:        html.String(),
		Plain:       plain(ev),
		Attachments: artifacts,
	})
	if err != nil {
		observability.Deliveries.WithLabelValues("send_failed").Inc()
		log.WithError(err).Error("confirmation email failed")
		return err
	}
	observability.Deliveries.WithLabelValues("sent").Inc()
	log.WithField("tickets", len(ev.Tickets)).Info("confirmation email sent")
	return nil
}

// HandleMessage decodes a broker message and delivers it. Unknown routing
// keys and undecodable bodies are dropped, since redelivery cannot fix them.
func (d *Deliverer) HandleMessage(ctx context.Context, routingKey string, body []byte) error {
	if routingKey != domain.EventTicketsIssued {
		d.logger.WithField("routing_key", routingKey).Warn("unexpected routing key, dropping")
		return nil
	}
	var ev domain.TicketsIssued
	if err := json.Unmarshal(body, &ev); err != nil {
		observability.Deliveries.WithLabelValues("malformed").Inc()
		d.logger.WithError(err).Error("malformed tickets.issued message, dropping")
		return nil
	}
	return d.Handle(ctx, ev)
}

func plain(ev domain.TicketsIssued) string {
	var b bytes.Buffer
	b.WriteString("Thanks for your purchase.\n\nTickets:\n")
	for _, t := range ev.Tickets {
		b.WriteString("  " + t.TicketNumber + "\n")
	}
	return b.String()
}
