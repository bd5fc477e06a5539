package notifier

import (
	"crypto/tls"
	"fmt"
	"log"
	"net"
	"net/smtp"
	"strings"
	"time"
)

// Transport delivers one formatted message. Implementations must be
// time-bounded: a stuck transport may only cost its own deadline, never
// back-pressure ingestion (the queue worker is the only caller).
type Transport interface {
	Send(subject, body string) error
}

const mailTimeout = 30 * time.Second

// SMTPTransport sends alert mail. Port 465 style implicit TLS and
// STARTTLS upgrades are both supported.
type SMTPTransport struct {
	Server       string
	Port         int
	TLS          bool
	From         string
	Password     string
	Distribution []string
}

func (t *SMTPTransport) Send(subject, body string) error {
	addr := fmt.Sprintf("%s:%d", t.Server, t.Port)
	dialer := &net.Dialer{Timeout: mailTimeout}

	var conn net.Conn
	var err error
	if t.TLS {
		conn, err = tls.DialWithDialer(dialer, "tcp", addr, &tls.Config{ServerName: t.Server})
	} else {
		conn, err = dialer.Dial("tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("smtp: dial %s: %w", addr, err)
	}
	defer conn.Close()
	if err := conn.SetDeadline(time.Now().Add(mailTimeout)); err != nil {
		return fmt.Errorf("smtp: set deadline: %w", err)
	}

	c, err := smtp.NewClient(conn, t.Server)
	if err != nil {
		return fmt.Errorf("smtp: handshake: %w", err)
	}
	defer c.Close()

	if !t.TLS {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(&tls.Config{ServerName: t.Server}); err != nil {
				return fmt.Errorf("smtp: starttls: %w", err)
			}
		}
	}
	if t.Password != "" {
		auth := smtp.PlainAuth("", t.From, t.Password, t.Server)
		if err := c.Auth(auth); err != nil {
			return fmt.Errorf("smtp: auth: %w", err)
		}
	}

	if err := c.Mail(t.From); err != nil {
		return fmt.Errorf("smtp: mail from: %w", err)
	}
	for _, rcpt := range t.Distribution {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp: rcpt %s: %w", rcpt, err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp: data: %w", err)
	}
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n",
		t.From, strings.Join(t.Distribution, ", "), subject, body)
	if _, err := w.Write([]byte(msg)); err != nil {
		return fmt.Errorf("smtp: write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp: close body: %w", err)
	}
	return c.Quit()
}

// LogTransport stands in when e-mail is disabled: deliveries go to the
// journal instead of disappearing.
type LogTransport struct{}

func (t *LogTransport) Send(subject, body string) error {
	log.Printf("notifier: %s\n%s", subject, body)
	return nil
}
