package notify

import (
	"bytes"
	"context"
	"html/template"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/wneessen/go-mail"
	"go.uber.org/zap"

	"github.com/xenking/bookshop/internal/domain/order"
)

// Mail is a rendered HTML email.
type Mail struct {
	To      string
	Subject string
	HTML    string
}

// Mailer delivers mail.
type Mailer interface {
	Send(ctx context.Context, m Mail) error
}

// SMTPConfig configures outgoing mail. Mail is logged instead of sent when
// Host is empty.
type SMTPConfig struct {
	Host     string `usage:"smtp host, log mail when empty"`
	Port     int    `default:"587"`
	Username string
	Password string
	From     string        `default:"Bookshop <no-reply@bookshop.local>"`
	TLS      string        `default:"opportunistic" usage:"tls policy: mandatory, opportunistic or none"`
	Timeout  time.Duration `default:"15s" usage:"deadline for one delivery, dial included"`
}

func (c SMTPConfig) tlsPolicy() (mail.TLSPolicy, error) {
	switch strings.ToLower(c.TLS) {
	case "", "opportunistic":
		return mail.TLSOpportunistic, nil
	case "mandatory":
		return mail.TLSMandatory, nil
	case "none":
		return mail.NoTLS, nil
	default:
		return mail.NoTLS, errors.Errorf("unknown smtp tls policy %q", c.TLS)
	}
}

// SMTPMailer sends mail through an SMTP relay.
type SMTPMailer struct {
	from    string
	host    string
	timeout time.Duration
	opts    []mail.Option
}

func NewSMTPMailer(cfg SMTPConfig) (*SMTPMailer, error) {
	policy, err := cfg.tlsPolicy()
	if err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTimeout(cfg.Timeout),
		mail.WithTLSPolicy(policy),
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	return &SMTPMailer{
		from:    cfg.From,
		host:    cfg.Host,
		timeout: cfg.Timeout,
		opts:    opts,
	}, nil
}

func (s *SMTPMailer) Send(ctx context.Context, m Mail) error {
	msg, err := s.message(m)
	if err != nil {
		return err
	}
	client, err := mail.NewClient(s.host, s.opts...)
	if err != nil {
		return errors.Wrap(err, "create smtp client")
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return errors.Wrapf(err, "send mail to %s", m.To)
	}
	return nil
}

func (s *SMTPMailer) message(m Mail) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(s.from); err != nil {
		return nil, errors.Wrapf(err, "sender %q", s.from)
	}
	if err := msg.To(m.To); err != nil {
		return nil, errors.Wrapf(err, "recipient %q", m.To)
	}
	msg.Subject(m.Subject)
	msg.SetDate()
	msg.SetMessageID()
	msg.SetBodyString(mail.TypeTextHTML, m.HTML)
	return msg, nil
}

// LogMailer logs mail instead of sending it.
type LogMailer struct{}

func (LogMailer) Send(ctx context.Context, m Mail) error {
	zctx.From(ctx).Info("Mail not sent, smtp disabled",
		zap.String("to", m.To),
		zap.String("subject", m.Subject),
	)
	return nil
}

var placedTemplate = template.Must(template.New("placed").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: sans-serif">
<h2>Thank you for your order, {{.Name}}!</h2>
<p>Show this code at the counter to collect your books:</p>
<p style="font-size: 28px; letter-spacing: 4px"><strong>{{.ClaimCode}}</strong></p>
<table cellpadding="6" style="border-collapse: collapse">
<tr><th align="left">Book</th><th>Qty</th><th align="right">Price</th><th align="right">Total</th></tr>
{{- range .Items}}
<tr><td>{{.Title}}</td><td align="center">{{.Quantity}}</td><td align="right">${{.Unit}}</td><td align="right">${{.Total}}</td></tr>
{{- end}}
</table>
<p>Subtotal: ${{.Subtotal}}</p>
{{- if .Discounted}}
<p>Discount{{if .Bulk}} (bulk){{end}}{{if .Loyalty}} (loyalty){{end}}: -${{.Discount}}</p>
{{- end}}
<p><strong>Total: ${{.Final}}</strong></p>
</body>
</html>`))

type placedItem struct {
	Title    string
	Quantity int
	Unit     string
	Total    string
}

type placedView struct {
	Name       string
	ClaimCode  string
	Items      []placedItem
	Subtotal   string
	Discount   string
	Final      string
	Discounted bool
	Bulk       bool
	Loyalty    bool
}

// RenderPlaced renders the order confirmation sent after placement.
func RenderPlaced(e order.Event) (Mail, error) {
	o := e.Order
	v := placedView{
		Name:       e.Buyer.Name,
		ClaimCode:  o.ClaimCode,
		Items:      make([]placedItem, len(o.Items)),
		Subtotal:   o.Subtotal.StringFixed(2),
		Discount:   o.DiscountAmount.StringFixed(2),
		Final:      o.FinalAmount.StringFixed(2),
		Discounted: o.DiscountAmount.IsPositive(),
		Bulk:       o.BulkDiscount,
		Loyalty:    o.LoyaltyDiscount,
	}
	if v.Name == "" {
		v.Name = "reader"
	}
	for i, it := range o.Items {
		v.Items[i] = placedItem{
			Title:    it.Title,
			Quantity: it.Quantity,
			Unit:     it.UnitPrice.Sub(it.UnitDiscount).StringFixed(2),
			Total:    it.Total().StringFixed(2),
		}
	}

	var buf bytes.Buffer
	if err := placedTemplate.Execute(&buf, v); err != nil {
		return Mail{}, errors.Wrap(err, "render template")
	}
	return Mail{
		To:      e.Buyer.Email,
		Subject: "Your order " + o.ClaimCode + " is ready for pickup",
		HTML:    buf.String(),
	}, nil
}

// EmailHandler mails the buyer a confirmation with the claim code when an
// order is placed.
func EmailHandler(m Mailer) Handler {
	return func(ctx context.Context, e order.Event) error {
		if e.Kind != order.EventPlaced {
			return nil
		}
		if e.Buyer.Email == "" {
			return errors.Errorf("order %s has no buyer email", e.Order.ID)
		}
		mail, err := RenderPlaced(e)
		if err != nil {
			return err
		}
		return m.Send(ctx, mail)
	}
}
