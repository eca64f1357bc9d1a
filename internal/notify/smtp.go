package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	mail "github.com/go-mail/mail"

	"github.com/dropDatabas3/crossauth/internal/observability/logger"
)

// SMTPConfig parámetros del relay SMTP.
type SMTPConfig struct {
	Host               string        `yaml:"host"`
	Port               int           `yaml:"port"`
	From               string        `yaml:"from"`
	Username           string        `yaml:"username"`
	Password           string        `yaml:"password"`
	TLSMode            string        `yaml:"tls_mode"` // "auto" | "starttls" | "ssl" | "none"
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
	Timeout            time.Duration `yaml:"timeout"`
}

// SMTPSender implementa Sender usando SMTP.
type SMTPSender struct {
	cfg  SMTPConfig
	dial func(d *mail.Dialer, m *mail.Message) error
}

func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	if cfg.TLSMode == "" {
		cfg.TLSMode = "auto"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &SMTPSender{
		cfg:  cfg,
		dial: func(d *mail.Dialer, m *mail.Message) error { return d.DialAndSend(m) },
	}
}

// Send envía un email multipart/alternative (txt + html).
// go-mail no acepta context: el límite lo pone Dialer.Timeout y el ctx se
// respeta solo antes de marcar.
func (s *SMTPSender) Send(ctx context.Context, to, subject, htmlBody, textBody string) error {
	log := logger.From(ctx).With(
		logger.Component("notify.smtp"),
		logger.String("host", s.cfg.Host),
		logger.EmailMasked(to),
	)
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}

	m := s.message(to, subject, htmlBody, textBody)
	if err := s.dial(s.dialer(), m); err != nil {
		log.Error("smtp send failed", logger.Err(err))
		return fmt.Errorf("smtp send: %w", err)
	}
	log.Debug("email sent")
	return nil
}

func (s *SMTPSender) message(to, subject, htmlBody, textBody string) *mail.Message {
	m := mail.NewMessage()
	m.SetHeader("From", s.cfg.From)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)

	// Preferimos multipart/alternative (txt + html)
	if textBody != "" {
		m.SetBody("text/plain", textBody)
	}
	if htmlBody != "" {
		if textBody == "" {
			m.SetBody("text/html", htmlBody)
		} else {
			m.AddAlternative("text/html", htmlBody)
		}
	}
	return m
}

func (s *SMTPSender) dialer() *mail.Dialer {
	d := mail.NewDialer(s.cfg.Host, s.cfg.Port, s.cfg.Username, s.cfg.Password)
	d.Timeout = s.cfg.Timeout
	d.TLSConfig = &tls.Config{
		ServerName:         s.cfg.Host,
		InsecureSkipVerify: s.cfg.InsecureSkipVerify, // solo dev
	}
	switch s.cfg.TLSMode {
	case "ssl":
		d.SSL = true
	case "none":
		d.StartTLSPolicy = mail.NoStartTLS
	default:
		// "auto"/"starttls": go-mail negocia STARTTLS si corresponde
		if s.cfg.TLSMode == "starttls" {
			d.StartTLSPolicy = mail.MandatoryStartTLS
		}
	}
	return d
}
