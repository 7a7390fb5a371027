package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "telepost/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.delivery.jsonl (append-only JSON Lines)
//   - <prefix>.inbound.jsonl  (append-only JSON Lines)
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	deliveryFile *os.File
	inboundFile  *os.File
}

type deliveryRecord struct {
	At        time.Time `json:"at"`
	Subject   string    `json:"subject"`
	Status    string    `json:"status"`
	Transport string    `json:"transport,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}

type inboundRecord struct {
	At     time.Time `json:"at"`
	Sender string    `json:"sender"`
	Handle string    `json:"handle,omitempty"`
	Text   string    `json:"text"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	df, err := os.OpenFile(prefix+".delivery.jsonl", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	inf, err := os.OpenFile(prefix+".inbound.jsonl", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		_ = df.Close()
		return nil, err
	}

	return &fileStore{log: log, deliveryFile: df, inboundFile: inf}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err1, err2 error
	if s.deliveryFile != nil {
		err1 = s.deliveryFile.Close()
		s.deliveryFile = nil
	}
	if s.inboundFile != nil {
		err2 = s.inboundFile.Close()
		s.inboundFile = nil
	}
	if err1 != nil {
		return err1
	}
	return err2
}

func (s *fileStore) AppendDelivery(ctx context.Context, e DeliveryEntry) error {
	_ = ctx
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deliveryFile == nil {
		return errors.New("delivery log closed")
	}
	rec := deliveryRecord{At: e.At, Subject: e.Subject, Status: e.Status, Transport: e.Transport, Detail: e.Detail}
	return json.NewEncoder(s.deliveryFile).Encode(rec)
}

func (s *fileStore) AppendInbound(ctx context.Context, e InboundEntry) error {
	_ = ctx
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inboundFile == nil {
		return errors.New("inbound log closed")
	}
	rec := inboundRecord{At: e.At, Sender: e.Sender, Handle: e.Handle, Text: e.Text}
	return json.NewEncoder(s.inboundFile).Encode(rec)
}
