package notify

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/foxzi/sendry-lab/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockDispatcher records sent messages
type mockDispatcher struct {
	mu   sync.Mutex
	sent []Message
	err  error
}

func (m *mockDispatcher) Send(_ context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func TestRouter(t *testing.T) {
	email := &mockDispatcher{}
	sms := &mockDispatcher{}
	r := NewRouter(email, sms)
	ctx := context.Background()

	if err := r.Send(ctx, Message{Channel: models.ChannelEmail, Destination: "owner@salon.test"}); err != nil {
		t.Fatalf("email send failed: %v", err)
	}
	if err := r.Send(ctx, Message{Channel: models.ChannelSMS, Destination: "+10000000000"}); err != nil {
		t.Fatalf("sms send failed: %v", err)
	}
	if len(email.sent) != 1 || len(sms.sent) != 1 {
		t.Errorf("expected one message per channel, got email=%d sms=%d", len(email.sent), len(sms.sent))
	}

	if err := r.Send(ctx, Message{Channel: "fax"}); !errors.Is(err, ErrUnsupportedChannel) {
		t.Errorf("expected ErrUnsupportedChannel, got %v", err)
	}
	if err := NewRouter(email, nil).Send(ctx, Message{Channel: models.ChannelSMS}); !errors.Is(err, ErrChannelNotConfigured) {
		t.Errorf("expected ErrChannelNotConfigured, got %v", err)
	}
}

func TestSMSSender(t *testing.T) {
	var got smsRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := NewSMSSender(SMSConfig{GatewayURL: srv.URL, APIKey: "secret", Sender: "SALON"}, testLogger())
	err := s.Send(context.Background(), Message{Destination: "+15550001", Channel: models.ChannelSMS, Body: "hello"})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if got.To != "+15550001" || got.From != "SALON" || got.Text != "hello" {
		t.Errorf("unexpected request %+v", got)
	}
	if auth != "Bearer secret" {
		t.Errorf("expected bearer auth, got %q", auth)
	}
}

func TestSMSSenderGatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	s := NewSMSSender(SMSConfig{GatewayURL: srv.URL}, testLogger())
	err := s.Send(context.Background(), Message{Destination: "+15550001", Body: "hello"})
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Errorf("expected gateway status in error, got %v", err)
	}
}

// smtpBackend captures messages received by the test SMTP server
type smtpBackend struct {
	mu       sync.Mutex
	messages []capturedMail
	username string
	password string
}

type capturedMail struct {
	From string
	To   []string
	Data string
	User string
}

func (b *smtpBackend) NewSession(*smtp.Conn) (smtp.Session, error) {
	return &smtpSession{backend: b}, nil
}

type smtpSession struct {
	backend *smtpBackend
	mail    capturedMail
}

func (s *smtpSession) AuthMechanisms() []string {
	return []string{sasl.Plain}
}

func (s *smtpSession) Auth(string) (sasl.Server, error) {
	return sasl.NewPlainServer(func(identity, username, password string) error {
		if username != s.backend.username || password != s.backend.password {
			return smtp.ErrAuthFailed
		}
		s.mail.User = username
		return nil
	}), nil
}

func (s *smtpSession) AuthPlain(username, password string) error {
	if username != s.backend.username || password != s.backend.password {
		return smtp.ErrAuthFailed
	}
	s.mail.User = username
	return nil
}

func (s *smtpSession) Mail(from string, _ *smtp.MailOptions) error {
	s.mail.From = from
	return nil
}

func (s *smtpSession) Rcpt(to string, _ *smtp.RcptOptions) error {
	s.mail.To = append(s.mail.To, to)
	return nil
}

func (s *smtpSession) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.mail.Data = string(data)
	s.backend.mu.Lock()
	s.backend.messages = append(s.backend.messages, s.mail)
	s.backend.mu.Unlock()
	return nil
}

func (s *smtpSession) Reset()        { s.mail = capturedMail{User: s.mail.User} }
func (s *smtpSession) Logout() error { return nil }

func startSMTPServer(t *testing.T, backend *smtpBackend) string {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	srv := smtp.NewServer(backend)
	srv.Domain = "localhost"
	srv.AllowInsecureAuth = true
	srv.ReadTimeout = 5 * time.Second
	srv.WriteTimeout = 5 * time.Second

	go srv.Serve(l)
	t.Cleanup(func() { srv.Close() })
	return l.Addr().String()
}

func TestEmailSender(t *testing.T) {
	backend := &smtpBackend{username: "alerts", password: "pw"}
	addr := startSMTPServer(t, backend)

	s := NewEmailSender(EmailConfig{
		Addr:     addr,
		Username: "alerts",
		Password: "pw",
		From:     "lab@salon.test",
		Timeout:  5 * time.Second,
	}, nil, testLogger())

	err := s.Send(context.Background(), Message{
		Destination: "owner@salon.test",
		Channel:     models.ChannelEmail,
		Subject:     "Early winner detected",
		Body:        "Variant B is ahead.",
		HTML:        "<p>Variant B is ahead.</p>",
	})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	backend.mu.Lock()
	defer backend.mu.Unlock()
	if len(backend.messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(backend.messages))
	}
	m := backend.messages[0]
	if m.From != "lab@salon.test" || len(m.To) != 1 || m.To[0] != "owner@salon.test" {
		t.Errorf("unexpected envelope %+v", m)
	}
	if m.User != "alerts" {
		t.Errorf("expected authenticated session, got user %q", m.User)
	}
	for _, want := range []string{"Subject: Early winner detected", "multipart/alternative", "Variant B is ahead."} {
		if !strings.Contains(m.Data, want) {
			t.Errorf("message missing %q", want)
		}
	}
}

func TestEmailSenderDKIM(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	keyFile := filepath.Join(t.TempDir(), "dkim.pem")
	pemData := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	if err := os.WriteFile(keyFile, pemData, 0600); err != nil {
		t.Fatalf("failed to write key: %v", err)
	}

	signer, err := LoadDKIMSigner(keyFile, "salon.test", "lab")
	if err != nil {
		t.Fatalf("LoadDKIMSigner failed: %v", err)
	}

	backend := &smtpBackend{}
	addr := startSMTPServer(t, backend)
	s := NewEmailSender(EmailConfig{Addr: addr, From: "lab@salon.test"}, signer, testLogger())

	if err := s.Send(context.Background(), Message{Destination: "owner@salon.test", Subject: "Test", Body: "body"}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	backend.mu.Lock()
	defer backend.mu.Unlock()
	if len(backend.messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(backend.messages))
	}
	data := backend.messages[0].Data
	if !strings.HasPrefix(data, "DKIM-Signature:") {
		t.Error("expected message to start with DKIM-Signature header")
	}
	if !strings.Contains(data, "d=salon.test") || !strings.Contains(data, "s=lab") {
		t.Error("expected signature to name domain and selector")
	}
}

func TestLoadDKIMSignerErrors(t *testing.T) {
	dir := t.TempDir()

	if _, err := LoadDKIMSigner(filepath.Join(dir, "missing.pem"), "d", "s"); err == nil {
		t.Error("expected error for missing file")
	}

	bad := filepath.Join(dir, "bad.pem")
	os.WriteFile(bad, []byte("not a key"), 0600)
	if _, err := LoadDKIMSigner(bad, "d", "s"); err == nil {
		t.Error("expected error for invalid PEM")
	}
}

func TestGenerateDKIMKey(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "dkim", "salon.test.key")

	record, err := GenerateDKIMKey(keyPath)
	if err != nil {
		t.Fatalf("GenerateDKIMKey() error = %v", err)
	}
	if !strings.HasPrefix(record, "v=DKIM1; k=rsa; p=") {
		t.Errorf("unexpected DNS record %q", record)
	}

	info, err := os.Stat(keyPath)
	if err != nil {
		t.Fatalf("key file not written: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("expected key file mode 0600, got %v", info.Mode().Perm())
	}

	signer, err := LoadDKIMSigner(keyPath, "salon.test", "lab")
	if err != nil {
		t.Fatalf("LoadDKIMSigner() error = %v", err)
	}
	if signer.Domain() != "salon.test" {
		t.Errorf("Domain() = %q, want salon.test", signer.Domain())
	}
}

func TestRenderAlert(t *testing.T) {
	alert := &models.Alert{
		CampaignID:        "camp-1",
		Type:              models.AlertEarlyWinner,
		Severity:          models.SeverityHigh,
		Message:           "Variant <B> leads by 50%",
		RecommendedAction: "Review and select the winner",
		VariantID:         "var-b",
		CreatedAt:         time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC),
	}

	msg, err := RenderAlert(alert, "Spring promo", models.ChannelEmail, "owner@salon.test")
	if err != nil {
		t.Fatalf("RenderAlert failed: %v", err)
	}
	if msg.Subject != "[HIGH] Early winner detected: Spring promo" {
		t.Errorf("unexpected subject %q", msg.Subject)
	}
	if !strings.Contains(msg.Body, "Variant: var-b") || !strings.Contains(msg.Body, "2026-03-01 10:30 UTC") {
		t.Errorf("unexpected body %q", msg.Body)
	}
	if !strings.Contains(msg.HTML, "Variant &lt;B&gt;") {
		t.Errorf("expected escaped html, got %q", msg.HTML)
	}

	sms, err := RenderAlert(alert, "", models.ChannelSMS, "+15550001")
	if err != nil {
		t.Fatalf("RenderAlert failed: %v", err)
	}
	if sms.Subject != "" || sms.HTML != "" {
		t.Error("expected plain sms message")
	}
	if !strings.HasPrefix(sms.Body, "Early winner detected (camp-1):") {
		t.Errorf("unexpected sms body %q", sms.Body)
	}
}
