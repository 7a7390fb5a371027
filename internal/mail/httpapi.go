package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	logx "telepost/pkg/logx"
)

type HTTPConfig struct {
	Endpoint string
	APIKey   string
	From     string
	To       []string
	Timeout  time.Duration
}

// HTTPAPI is the fallback transport: a transactional-email HTTP API.
// Attachments are not supported on this path; the message body still goes
// through (accepted degradation).
type HTTPAPI struct {
	cfg    HTTPConfig
	client *http.Client
	log    logx.Logger
}

func NewHTTPAPI(cfg HTTPConfig, log logx.Logger) (*HTTPAPI, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, errors.New("fallback endpoint is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &HTTPAPI{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		log:    log,
	}, nil
}

func (t *HTTPAPI) Name() string { return TransportFallback }

func (t *HTTPAPI) Send(ctx context.Context, m Message) error {
	if len(m.Attachments) > 0 {
		t.log.Debug("fallback transport drops attachments", logx.Int("count", len(m.Attachments)))
	}

	payload := struct {
		From    string   `json:"from"`
		To      []string `json:"to"`
		Subject string   `json:"subject"`
		Text    string   `json:"text"`
	}{From: t.cfg.From, To: t.cfg.To, Subject: m.Subject, Text: m.Body}

	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.Endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if t.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(t.cfg.APIKey))
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var out struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&out)

	if resp.StatusCode/100 != 2 {
		detail := out.Error
		if detail == "" {
			detail = out.Message
		}
		if detail != "" {
			return fmt.Errorf("fallback send failed: %s (http=%d)", detail, resp.StatusCode)
		}
		return fmt.Errorf("fallback send failed: http=%d", resp.StatusCode)
	}
	return nil
}
