package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cybercyphers/cyphbeta/internal/auth"
	"github.com/cybercyphers/cyphbeta/internal/backend"
)

// CredentialSaver persists credentials pushed by the gateway.
type CredentialSaver interface {
	Save(ctx context.Context, creds auth.Credentials) error
}

// Dialer opens sessions against a gateway at baseURL (http or https).
type Dialer struct {
	baseURL string
	http    *http.Client
	ws      *websocket.Dialer
	saver   CredentialSaver
	logger  *slog.Logger
}

var _ backend.Dialer = (*Dialer)(nil)

func NewDialer(baseURL string, timeout time.Duration, saver CredentialSaver, logger *slog.Logger) *Dialer {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dialer{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		ws: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: timeout,
		},
		saver:  saver,
		logger: logger,
	}
}

func (d *Dialer) eventsURL() (string, error) {
	u, err := url.Parse(d.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse gateway url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported gateway scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/events"
	return u.String(), nil
}

func (d *Dialer) Dial(ctx context.Context, creds auth.Credentials) (backend.Session, error) {
	wsURL, err := d.eventsURL()
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	if creds.Token != "" {
		header.Set("Authorization", "Bearer "+creds.Token)
	}

	conn, resp, err := d.ws.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			return nil, &backend.StatusError{StatusCode: resp.StatusCode, Body: string(body)}
		}
		return nil, fmt.Errorf("dial gateway: %w", err)
	}

	base := d.baseURL
	if strings.HasPrefix(base, "ws") {
		base = "http" + strings.TrimPrefix(base, "ws")
	}

	s := &session{
		api:    newAPIClient(base, d.http, creds.Token),
		conn:   conn,
		events: make(chan backend.Event, 64),
		done:   make(chan struct{}),
		saver:  d.saver,
		logger: d.logger,
	}
	go s.readLoop()
	return s, nil
}

type frame struct {
	Type       string            `json:"type"`
	Connection string            `json:"connection,omitempty"`
	StatusCode int               `json:"status_code,omitempty"`
	Creds      *auth.Credentials `json:"creds,omitempty"`
	Message    *backend.Message  `json:"message,omitempty"`
}

type session struct {
	api    *apiClient
	conn   *websocket.Conn
	events chan backend.Event
	done   chan struct{}
	once   sync.Once
	saver  CredentialSaver
	logger *slog.Logger
}

func (s *session) Events() <-chan backend.Event { return s.events }

func (s *session) SendText(ctx context.Context, chat, text string) (string, error) {
	return s.api.SendText(ctx, chat, text)
}

func (s *session) SendPresence(ctx context.Context, p backend.Presence) error {
	return s.api.SendPresence(ctx, p)
}

func (s *session) RequestPairingCode(ctx context.Context, phone string) (string, error) {
	return s.api.RequestPairingCode(ctx, phone)
}

func (s *session) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		err = s.conn.Close()
	})
	return err
}

func (s *session) emit(ev backend.Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

func (s *session) readLoop() {
	defer close(s.events)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.emit(backend.Event{Kind: backend.EventClose, StatusCode: closeStatus(err), Err: err})
			return
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			s.logger.Warn("gateway_frame_invalid", "error", err.Error())
			continue
		}

		switch f.Type {
		case "connection.update":
			switch f.Connection {
			case "connecting":
				if !s.emit(backend.Event{Kind: backend.EventConnecting}) {
					return
				}
			case "open":
				if !s.emit(backend.Event{Kind: backend.EventOpen}) {
					return
				}
			case "close":
				s.emit(backend.Event{Kind: backend.EventClose, StatusCode: f.StatusCode})
				return
			}
		case "creds.update":
			if f.Creds == nil {
				continue
			}
			if err := s.saver.Save(context.Background(), *f.Creds); err != nil {
				s.logger.Error("gateway_creds_save_failed", "error", err.Error())
				continue
			}
			s.api.setToken(f.Creds.Token)
		case "message":
			if f.Message == nil {
				continue
			}
			if !s.emit(backend.Event{Kind: backend.EventMessage, Message: *f.Message}) {
				return
			}
		default:
			s.logger.Debug("gateway_frame_ignored", "type", f.Type)
		}
	}
}

// closeStatus maps application close codes 4000-4999 onto the status they carry.
func closeStatus(err error) int {
	var ce *websocket.CloseError
	if errors.As(err, &ce) && ce.Code >= 4000 && ce.Code < 5000 {
		return ce.Code - 4000
	}
	return 0
}
