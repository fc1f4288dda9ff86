package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/google/uuid"
)

// EmailConfig configures the SMTP relay used for alert mail
type EmailConfig struct {
	Addr     string
	Username string
	Password string
	From     string
	Hostname string
	Timeout  time.Duration
	// SkipTLSVerify disables certificate checks on STARTTLS
	SkipTLSVerify bool
}

// EmailSender relays alert mail through an SMTP submission server
type EmailSender struct {
	cfg    EmailConfig
	signer *DKIMSigner
	logger *slog.Logger
	now    func() time.Time
}

// NewEmailSender creates a new SMTP sender. signer may be nil.
func NewEmailSender(cfg EmailConfig, signer *DKIMSigner, logger *slog.Logger) *EmailSender {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Hostname == "" {
		cfg.Hostname = "localhost"
	}
	return &EmailSender{
		cfg:    cfg,
		signer: signer,
		logger: logger.With("component", "notify.email"),
		now:    time.Now,
	}
}

// Send implements Dispatcher
func (s *EmailSender) Send(ctx context.Context, msg Message) error {
	data := s.buildMessage(msg)

	if s.signer != nil {
		signed, err := s.signer.Sign(data)
		if err != nil {
			s.logger.Warn("DKIM signing failed, sending unsigned",
				"domain", s.signer.Domain(),
				"error", err,
			)
		} else {
			data = signed
		}
	}

	dialer := &net.Dialer{Timeout: s.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", s.cfg.Addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Now().Add(s.cfg.Timeout))
	}

	client := smtp.NewClient(conn)
	defer client.Close()

	if err := client.Hello(s.cfg.Hostname); err != nil {
		return fmt.Errorf("failed to send HELO: %w", err)
	}

	if ok, _ := client.Extension("STARTTLS"); ok {
		host, _, _ := net.SplitHostPort(s.cfg.Addr)
		tlsConfig := &tls.Config{
			ServerName:         host,
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: s.cfg.SkipTLSVerify,
		}
		if err := client.StartTLS(tlsConfig); err != nil {
			return fmt.Errorf("failed to start TLS: %w", err)
		}
	}

	if s.cfg.Username != "" {
		if err := client.Auth(sasl.NewPlainClient("", s.cfg.Username, s.cfg.Password)); err != nil {
			return fmt.Errorf("failed to authenticate: %w", err)
		}
	}

	if err := client.SendMail(s.cfg.From, []string{msg.Destination}, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to send mail: %w", err)
	}
	client.Quit()

	s.logger.Debug("alert mail sent", "to", msg.Destination)
	return nil
}

// buildMessage renders an RFC 5322 message, multipart when HTML is present
func (s *EmailSender) buildMessage(msg Message) []byte {
	var b bytes.Buffer

	domain := "localhost"
	if at := strings.LastIndex(s.cfg.From, "@"); at >= 0 && at < len(s.cfg.From)-1 {
		domain = s.cfg.From[at+1:]
	}

	writeHeader := func(k, v string) {
		b.WriteString(k + ": " + v + "\r\n")
	}
	writeHeader("From", s.cfg.From)
	writeHeader("To", msg.Destination)
	writeHeader("Subject", mime.QEncoding.Encode("utf-8", msg.Subject))
	writeHeader("Date", s.now().Format(time.RFC1123Z))
	writeHeader("Message-ID", fmt.Sprintf("<%s@%s>", uuid.New().String(), domain))
	writeHeader("MIME-Version", "1.0")

	if msg.HTML == "" {
		writeHeader("Content-Type", "text/plain; charset=utf-8")
		writeHeader("Content-Transfer-Encoding", "8bit")
		b.WriteString("\r\n")
		b.WriteString(normalizeNewlines(msg.Body))
		return b.Bytes()
	}

	boundary := "alt-" + strings.ReplaceAll(uuid.New().String(), "-", "")
	writeHeader("Content-Type", fmt.Sprintf("multipart/alternative; boundary=%q", boundary))
	b.WriteString("\r\n")

	b.WriteString("--" + boundary + "\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("Content-Transfer-Encoding: 8bit\r\n\r\n")
	b.WriteString(normalizeNewlines(msg.Body) + "\r\n")

	b.WriteString("--" + boundary + "\r\n")
	b.WriteString("Content-Type: text/html; charset=utf-8\r\n")
	b.WriteString("Content-Transfer-Encoding: 8bit\r\n\r\n")
	b.WriteString(normalizeNewlines(msg.HTML) + "\r\n")

	b.WriteString("--" + boundary + "--\r\n")
	return b.Bytes()
}

func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\n", "\r\n")
}
