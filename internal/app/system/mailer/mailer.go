// internal/app/system/mailer/mailer.go
package mailer

import (
	"bytes"
	"errors"
	"fmt"
	"mime/multipart"
	"mime/quotedprintable"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Email is one message. TextBody is required; HTMLBody is optional.
type Email struct {
	To       string
	Subject  string
	TextBody string
	HTMLBody string
}

// Sender delivers e-mails. Services depend on this interface so tests can
// record messages instead of sending them.
type Sender interface {
	Send(Email) error
}

// Config holds SMTP settings.
type Config struct {
	Host     string
	Port     int
	User     string
	Pass     string
	From     string
	FromName string
}

// Mailer sends e-mails through an SMTP relay.
type Mailer struct {
	cfg  Config
	log  *zap.Logger
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// New creates a Mailer. No connection is made until Send.
func New(cfg Config, logger *zap.Logger) *Mailer {
	return &Mailer{cfg: cfg, log: logger, send: smtp.SendMail}
}

// ErrNoRecipient is returned when Email.To is empty.
var ErrNoRecipient = errors.New("mailer: no recipient")

// Send delivers e. Plain-text and HTML bodies are sent as multipart/alternative.
func (m *Mailer) Send(e Email) error {
	if strings.TrimSpace(e.To) == "" {
		return ErrNoRecipient
	}
	msg, err := m.build(e)
	if err != nil {
		return err
	}

	addr := m.cfg.Host + ":" + strconv.Itoa(m.cfg.Port)
	var a smtp.Auth
	if m.cfg.User != "" {
		a = smtp.PlainAuth("", m.cfg.User, m.cfg.Pass, m.cfg.Host)
	}
	if err := m.send(addr, a, m.cfg.From, []string{e.To}, msg); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	m.log.Debug("email sent", zap.String("to", e.To), zap.String("subject", e.Subject))
	return nil
}

func (m *Mailer) build(e Email) ([]byte, error) {
	var buf bytes.Buffer
	from := m.cfg.From
	if m.cfg.FromName != "" {
		from = fmt.Sprintf("%q <%s>", m.cfg.FromName, m.cfg.From)
	}
	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", e.To)
	fmt.Fprintf(&buf, "Subject: %s\r\n", e.Subject)
	fmt.Fprintf(&buf, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	buf.WriteString("MIME-Version: 1.0\r\n")

	mw := multipart.NewWriter(&buf)
	fmt.Fprintf(&buf, "Content-Type: multipart/alternative; boundary=%s\r\n\r\n", mw.Boundary())

	parts := []struct{ ctype, body string }{{"text/plain", e.TextBody}}
	if e.HTMLBody != "" {
		parts = append(parts, struct{ ctype, body string }{"text/html", e.HTMLBody})
	}
	for _, p := range parts {
		h := textproto.MIMEHeader{}
		h.Set("Content-Type", p.ctype+"; charset=UTF-8")
		h.Set("Content-Transfer-Encoding", "quoted-printable")
		w, err := mw.CreatePart(h)
		if err != nil {
			return nil, err
		}
		qp := quotedprintable.NewWriter(w)
		if _, err := qp.Write([]byte(p.body)); err != nil {
			return nil, err
		}
		if err := qp.Close(); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// SendLogged sends e and logs a failure instead of returning it.
func SendLogged(s Sender, e Email, log *zap.Logger) {
	if s == nil {
		return
	}
	if err := s.Send(e); err != nil {
		log.Warn("email send failed",
			zap.String("to", e.To),
			zap.String("subject", e.Subject),
			zap.Error(err))
	}
}

// Outbox collects e-mails produced inside a transaction. They are sent with
// Flush once the transaction has committed.
type Outbox struct {
	mails []Email
}

// Add queues e. Messages without a recipient are dropped.
func (o *Outbox) Add(e Email) {
	if o == nil || strings.TrimSpace(e.To) == "" {
		return
	}
	o.mails = append(o.mails, e)
}

// Len returns the number of queued messages.
func (o *Outbox) Len() int {
	if o == nil {
		return 0
	}
	return len(o.mails)
}

// Flush sends every queued message and empties the outbox.
func (o *Outbox) Flush(s Sender, log *zap.Logger) {
	if o == nil {
		return
	}
	for _, e := range o.mails {
		SendLogged(s, e, log)
	}
	o.mails = nil
}

// Recorder is a Sender that keeps messages in memory. Used in development
// when no SMTP host is configured, and in tests.
type Recorder struct {
	mu   sync.Mutex
	Sent []Email
}

// Send records e.
func (r *Recorder) Send(e Email) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Sent = append(r.Sent, e)
	return nil
}

// Messages returns a copy of the recorded messages.
func (r *Recorder) Messages() []Email {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Email(nil), r.Sent...)
}
