// Package notify envía los emails transaccionales (OTP, invitaciones).
package notify

import (
	"bytes"
	"context"
	"fmt"
	htmltpl "html/template"
	texttpl "text/template"

	"github.com/dropDatabas3/crossauth/internal/observability/logger"
)

// Notifier es lo que consumen los flujos de auth. Fire-and-forget desde el
// punto de vista del llamador: los errores se loguean, no se muestran al usuario.
type Notifier interface {
	SendOTPEmail(ctx context.Context, to, code, tenantName string) error
	SendInvitationEmail(ctx context.Context, to, inviterName, tenantName, link string) error
}

// Sender entrega un email ya renderizado.
type Sender interface {
	Send(ctx context.Context, to, subject, htmlBody, textBody string) error
}

// Mailer renderiza los templates y delega el envío al Sender.
type Mailer struct {
	sender Sender
}

var _ Notifier = (*Mailer)(nil)

func NewMailer(s Sender) *Mailer { return &Mailer{sender: s} }

type otpVars struct {
	Code       string
	TenantName string
	Minutes    int
}

type inviteVars struct {
	InviterName string
	TenantName  string
	Link        string
}

func (m *Mailer) SendOTPEmail(ctx context.Context, to, code, tenantName string) error {
	v := otpVars{Code: code, TenantName: tenantName, Minutes: 10}
	html, text, err := render(otpHTML, otpText, v)
	if err != nil {
		return err
	}
	subject := fmt.Sprintf("Tu código de acceso: %s", code)
	return m.sender.Send(ctx, to, subject, html, text)
}

func (m *Mailer) SendInvitationEmail(ctx context.Context, to, inviterName, tenantName, link string) error {
	v := inviteVars{InviterName: inviterName, TenantName: tenantName, Link: link}
	html, text, err := render(inviteHTML, inviteText, v)
	if err != nil {
		return err
	}
	subject := fmt.Sprintf("%s te invitó a %s", inviterName, tenantName)
	return m.sender.Send(ctx, to, subject, html, text)
}

func render(h *htmltpl.Template, t *texttpl.Template, vars any) (string, string, error) {
	var hb, tb bytes.Buffer
	if err := h.Execute(&hb, vars); err != nil {
		return "", "", fmt.Errorf("notify: render html: %w", err)
	}
	if err := t.Execute(&tb, vars); err != nil {
		return "", "", fmt.Errorf("notify: render text: %w", err)
	}
	return hb.String(), tb.String(), nil
}

// LogSender no envía nada: loguea el destinatario y el asunto. Para dev.
type LogSender struct{}

func (LogSender) Send(ctx context.Context, to, subject, _, textBody string) error {
	logger.From(ctx).Info("email (log sender)",
		logger.Component("notify"),
		logger.EmailMasked(to),
		logger.String("subject", subject),
		logger.Int("text_len", len(textBody)),
	)
	return nil
}
