package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"github.com/stacklok/bimsync/internal/sources"
	"github.com/stacklok/bimsync/internal/syncerr"
)

const (
	// graphQLSubprotocol is the GraphQL over WebSocket protocol name
	graphQLSubprotocol = "graphql-transport-ws"

	// DefaultHandshakeTimeout bounds the dial plus connection_ack wait
	DefaultHandshakeTimeout = 15 * time.Second

	commitCreatedQuery = `subscription CommitCreated($streamId: String!) {
  commitCreated(streamId: $streamId) { id message referencedObject createdAt status }
}`

	// closeForbidden is the protocol close code for a rejected connection_init
	closeForbidden = 4403

	subscriptionID = "1"
	writeTimeout   = 5 * time.Second
	eventBuffer    = 16
)

// message is one graphql-transport-ws frame
type message struct {
	ID      string `json:"id,omitempty"`
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// CollabOpener opens commit subscriptions over GraphQL on WebSocket
type CollabOpener struct {
	dialer   *websocket.Dialer
	endpoint string
}

// CollabOption configures a CollabOpener
type CollabOption func(*CollabOpener)

// WithHandshakeTimeout sets the dial and acknowledgement timeout
func WithHandshakeTimeout(d time.Duration) CollabOption {
	return func(o *CollabOpener) {
		o.dialer.HandshakeTimeout = d
	}
}

// WithEndpoint sets the path of the GraphQL endpoint, default /graphql
func WithEndpoint(path string) CollabOption {
	return func(o *CollabOpener) {
		o.endpoint = path
	}
}

// NewCollabOpener creates an opener for Collab sources
func NewCollabOpener(opts ...CollabOption) *CollabOpener {
	o := &CollabOpener{
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: DefaultHandshakeTimeout,
			Subprotocols:     []string{graphQLSubprotocol},
		},
		endpoint: "/graphql",
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Open dials the source, authenticates and subscribes to commitCreated for streamID.
// The credential is used for the handshake only and is not retained.
func (o *CollabOpener) Open(
	ctx context.Context, source sources.ExternalSource, credential, streamID string,
) (Stream, error) {
	if strings.TrimSpace(credential) == "" {
		return nil, &syncerr.AuthError{Reason: "credential is empty"}
	}

	target, err := websocketURL(source.BaseURL(), o.endpoint)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+credential)

	conn, resp, err := o.dialer.DialContext(ctx, target, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, &syncerr.AuthError{Reason: "subscription handshake rejected", StatusCode: resp.StatusCode}
		}
		return nil, fmt.Errorf("failed to dial %s: %w", target, err)
	}

	s := &collabStream{
		conn:   conn,
		events: make(chan sources.Version, eventBuffer),
		closed: make(chan struct{}),
		logger: logr.FromContextOrDiscard(ctx).WithValues("streamId", streamID),
	}

	if err := s.handshake(ctx, credential, o.dialer.HandshakeTimeout); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := s.write(message{
		ID:   subscriptionID,
		Type: "subscribe",
		Payload: map[string]any{
			"query":     commitCreatedQuery,
			"variables": map[string]string{"streamId": streamID},
		},
	}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to send subscribe: %w", err)
	}

	go s.read()
	return s, nil
}

// websocketURL maps an http(s) base URL to its ws(s) equivalent
func websocketURL(baseURL, endpoint string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL %q: %w", baseURL, err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + strings.TrimPrefix(endpoint, "/")
	return u.String(), nil
}

// collabStream is one open graphql-transport-ws connection
type collabStream struct {
	conn   *websocket.Conn
	events chan sources.Version
	logger logr.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

func (s *collabStream) Events() <-chan sources.Version {
	return s.events
}

func (s *collabStream) handshake(ctx context.Context, credential string, timeout time.Duration) error {
	if err := s.write(message{
		Type:    "connection_init",
		Payload: map[string]string{"Authorization": "Bearer " + credential},
	}); err != nil {
		return fmt.Errorf("failed to send connection_init: %w", err)
	}

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = s.conn.SetReadDeadline(deadline)
	defer func() { _ = s.conn.SetReadDeadline(time.Time{}) }()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) && closeErr.Code == closeForbidden {
				return &syncerr.AuthError{Reason: "subscription connection forbidden"}
			}
			return fmt.Errorf("failed waiting for connection_ack: %w", err)
		}
		switch gjson.GetBytes(data, "type").String() {
		case "connection_ack":
			return nil
		case "ping":
			if err := s.write(message{Type: "pong"}); err != nil {
				return err
			}
		}
	}
}

func (s *collabStream) read() {
	defer close(s.events)
	defer s.release()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.closed:
			default:
				s.logger.Info("Subscription connection dropped", "error", err.Error())
			}
			return
		}

		msg := gjson.ParseBytes(data)
		switch msg.Get("type").String() {
		case "next":
			raw := msg.Get("payload.data.commitCreated")
			if !raw.Exists() {
				continue
			}
			version, err := sources.ParseCollabVersion([]byte(raw.Raw))
			if err != nil {
				s.logger.Info("Ignoring malformed commit event", "error", err.Error())
				continue
			}
			select {
			case s.events <- version:
			case <-s.closed:
				return
			}
		case "ping":
			_ = s.write(message{Type: "pong"})
		case "error":
			s.logger.Info("Subscription error from upstream", "payload", msg.Get("payload").Raw)
		case "complete":
			return
		}
	}
}

func (s *collabStream) write(msg message) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteJSON(msg)
}

// release closes the connection after the stream ended upstream
func (s *collabStream) release() {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeTimeout))
		s.writeMu.Unlock()
		_ = s.conn.Close()
	})
}

// Unsubscribe sends complete and closes the connection. It fails when the
// connection was dropped under it, and is a no-op once the stream has ended.
func (s *collabStream) Unsubscribe(_ context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		if werr := s.write(message{ID: subscriptionID, Type: "complete"}); werr != nil {
			err = fmt.Errorf("failed to send complete: %w", werr)
		} else {
			s.writeMu.Lock()
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeTimeout))
			s.writeMu.Unlock()
		}
		if cerr := s.conn.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close connection: %w", cerr)
		}
	})
	return err
}

// pushUnsupportedOpener serves sources without push support
type pushUnsupportedOpener struct{}

func (pushUnsupportedOpener) Open(context.Context, sources.ExternalSource, string, string) (Stream, error) {
	return nil, ErrPushUnsupported
}

// kindOpener dispatches to the opener of the source kind
type kindOpener struct {
	openers map[sources.Kind]Opener
}

// NewOpener returns the default opener: Collab over WebSocket, ACC unsupported
func NewOpener(opts ...CollabOption) Opener {
	return &kindOpener{openers: map[sources.Kind]Opener{
		sources.KindCollab: NewCollabOpener(opts...),
		sources.KindACC:    pushUnsupportedOpener{},
	}}
}

func (k *kindOpener) Open(
	ctx context.Context, source sources.ExternalSource, credential, streamID string,
) (Stream, error) {
	opener, ok := k.openers[source.Kind()]
	if !ok {
		return nil, ErrPushUnsupported
	}
	return opener.Open(ctx, source, credential, streamID)
}
