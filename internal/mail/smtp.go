package mail

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"

	gomail "github.com/wneessen/go-mail"

	logx "telepost/pkg/logx"
)

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
	Timeout  time.Duration
}

// SMTP is the primary transport: direct protocol-level send with STARTTLS.
type SMTP struct {
	cfg    SMTPConfig
	client *gomail.Client
	log    logx.Logger
}

func NewSMTP(cfg SMTPConfig, log logx.Logger) (*SMTP, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, errors.New("smtp host is empty")
	}
	if strings.TrimSpace(cfg.From) == "" {
		return nil, errors.New("smtp from address is empty")
	}
	if len(cfg.To) == 0 {
		return nil, errors.New("smtp recipient list is empty")
	}
	port := cfg.Port
	if port <= 0 {
		port = 587
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	opts := []gomail.Option{
		gomail.WithPort(port),
		gomail.WithTLSPortPolicy(gomail.TLSMandatory),
		gomail.WithTimeout(timeout),
	}
	if cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(cfg.Username),
			gomail.WithPassword(cfg.Password),
		)
	}
	client, err := gomail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, err
	}
	return &SMTP{cfg: cfg, client: client, log: log}, nil
}

func (t *SMTP) Name() string { return TransportPrimary }

func (t *SMTP) Send(ctx context.Context, m Message) error {
	msg := gomail.NewMsg()
	if err := msg.From(t.cfg.From); err != nil {
		return err
	}
	if err := msg.To(t.cfg.To...); err != nil {
		return err
	}
	msg.Subject(m.Subject)
	msg.SetBodyString(gomail.TypeTextPlain, m.Body)

	for _, path := range m.Attachments {
		// A handle may already be gone (sweeper, manual cleanup); attach what
		// still exists and let the text through regardless.
		if _, err := os.Stat(path); err != nil {
			t.log.Warn("attachment missing, skipping", logx.String("path", path), logx.Err(err))
			continue
		}
		msg.AttachFile(path)
	}

	return t.client.DialAndSendWithContext(ctx, msg)
}
