// Package fabric is a concrete implementation of the downstream
// publisher interface treated as opaque elsewhere: verify_version,
// create_provider, register_login, submit. It is a websocket client
// that dials out to a configured list of server hostnames, the
// client-side mirror of a server-side hub/client pattern.
package fabric

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"marketpsych-feed/src/logger"
	"marketpsych-feed/src/models"
)

const (
	writeWait  = 2 * time.Second
	dialWait   = 5 * time.Second
	pingPeriod = 30 * time.Second
)

// -----------------------------------------------------------------------------
// Wire frames
// -----------------------------------------------------------------------------

// frameKind tags the JSON envelope written/read over the websocket.
type frameKind string

const (
	frameLoginRequest     frameKind = "login_request"
	frameLoginResponse    frameKind = "login_response"
	frameCmdError         frameKind = "cmd_error"
	frameRefresh          frameKind = "refresh"
	frameTokenGrant       frameKind = "token_grant"
	frameServiceDirectory frameKind = "service_directory"
)

type frame struct {
	Kind frameKind       `json:"kind"`
	Body json.RawMessage `json:"body"`
}

// LoginResponse mirrors the MMT_LOGIN (stream_state, data_state) pair
// Session's state machine switches on.
type LoginResponse struct {
	StreamState string `json:"stream_state"` // "Open" | "Closed"
	DataState   string `json:"data_state"`   // "Ok" | "Suspect"
	Text        string `json:"text"`
	MajorVer    int    `json:"major_version"`
	MinorVer    int    `json:"minor_version"`
}

// CmdError mirrors a CmdErrorEvent.
type CmdError struct {
	Text string `json:"text"`
}

// TokenGrant is an inbound frame carrying a per-ric token. Session's
// event pump does not apply grants (it counts them as discarded);
// tokens are assigned locally by Session.ResetTokens.
type TokenGrant struct {
	RIC   string `json:"ric"`
	Token string `json:"token"`
}

// Event is a decoded inbound frame, dispatched by Conn's read pump.
type Event struct {
	Login *LoginResponse
	Error *CmdError
	Grant *TokenGrant
}

// -----------------------------------------------------------------------------
// Conn
// -----------------------------------------------------------------------------

// Conn is one session's wire connection. It owns exactly one
// websocket and runs its own read/write pumps, following a
// readPump/writePump split.
type Conn struct {
	log    *logger.Logger
	conn   *websocket.Conn
	server string

	events chan Event
	send   chan frame
	done   chan struct{}
}

// Dial tries each server in order (first reachable wins, following
// SessionConfig.Servers ordering) and returns a connected Conn.
func Dial(ctx context.Context, name string, servers []string, port int) (*Conn, error) {
	if len(servers) == 0 {
		return nil, fmt.Errorf("fabric: no servers configured")
	}

	dialer := &websocket.Dialer{HandshakeTimeout: dialWait}
	var lastErr error
	for _, host := range servers {
		url := fmt.Sprintf("ws://%s:%d/psych", host, port)
		dctx, cancel := context.WithTimeout(ctx, dialWait)
		conn, _, err := dialer.DialContext(dctx, url, nil)
		cancel()
		if err != nil {
			lastErr = err
			continue
		}
		c := &Conn{
			log:    logger.New("fabric." + name),
			conn:   conn,
			server: host,
			events: make(chan Event, 64),
			send:   make(chan frame, 64),
			done:   make(chan struct{}),
		}
		go c.readPump()
		go c.writePump()
		return c, nil
	}
	return nil, fmt.Errorf("fabric: no reachable server, last error: %w", lastErr)
}

// -----------------------------------------------------------------------------

// VerifyVersion performs the one-shot RWF version handshake. The
// downstream here is versionless at the transport layer (JSON
// frames), so this always succeeds once connected; it exists to keep
// the four-operation interface shape (verify_version, create_provider,
// register_login, submit) that the downstream publisher exposes.
func (c *Conn) VerifyVersion() bool {
	return c.conn != nil
}

// RegisterLogin sends the login request frame.
func (c *Conn) RegisterLogin(user, appID, instanceID, position string) error {
	body, err := json.Marshal(map[string]string{
		"user":        user,
		"app_id":      appID,
		"instance_id": instanceID,
		"position":    position,
	})
	if err != nil {
		return err
	}
	return c.enqueue(frame{Kind: frameLoginRequest, Body: body})
}

// Submit writes one refresh message carrying the given
// token. A nil token still ships the message frame; the downstream
// treats an absent token as unlocked/best-effort, matching the
// real wire library's rule that a message still ships unlocked on
// lock failure rather than this transport's own delivery guarantee.
func (c *Conn) Submit(token models.Token, msg models.RefreshMessage) error {
	body, err := json.Marshal(wireRefresh(token, msg))
	if err != nil {
		return err
	}
	return c.enqueue(frame{Kind: frameRefresh, Body: body})
}

// SubmitDirectory ships the service directory a Session builds on
// login. dir is opaque to fabric (the provider's concrete directory
// shape lives above this package); it is marshaled as-is.
func (c *Conn) SubmitDirectory(dir interface{}) error {
	body, err := json.Marshal(dir)
	if err != nil {
		return err
	}
	return c.enqueue(frame{Kind: frameServiceDirectory, Body: body})
}

func (c *Conn) enqueue(f frame) error {
	select {
	case c.send <- f:
		return nil
	case <-c.done:
		return fmt.Errorf("fabric: connection to %s closed", c.server)
	}
}

// Events returns the channel of decoded inbound events (login
// responses, command errors, token grants) for Session to consume.
func (c *Conn) Events() <-chan Event {
	return c.events
}

// Close tears down the connection and stops both pumps.
func (c *Conn) Close() error {
	select {
	case <-c.done:
		return nil
	default:
		close(c.done)
	}
	return c.conn.Close()
}

// -----------------------------------------------------------------------------

func (c *Conn) readPump() {
	defer close(c.events)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.log.Warning("malformed frame from %s: %v", c.server, err)
			continue
		}
		ev, ok := decode(f)
		if !ok {
			continue
		}
		select {
		case c.events <- ev:
		case <-c.done:
			return
		}
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case <-c.done:
			return
		case f := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(f); err != nil {
				c.log.Warning("write to %s failed: %v", c.server, err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// -----------------------------------------------------------------------------

func decode(f frame) (Event, bool) {
	switch f.Kind {
	case frameLoginResponse:
		var lr LoginResponse
		if err := json.Unmarshal(f.Body, &lr); err != nil {
			return Event{}, false
		}
		return Event{Login: &lr}, true
	case frameCmdError:
		var ce CmdError
		if err := json.Unmarshal(f.Body, &ce); err != nil {
			return Event{}, false
		}
		return Event{Error: &ce}, true
	case frameTokenGrant:
		var tg TokenGrant
		if err := json.Unmarshal(f.Body, &tg); err != nil {
			return Event{}, false
		}
		return Event{Grant: &tg}, true
	default:
		return Event{}, false
	}
}

func wireRefresh(token models.Token, msg models.RefreshMessage) map[string]interface{} {
	fields := make([]map[string]interface{}, 0, len(msg.Fields))
	for _, f := range msg.Fields {
		entry := map[string]interface{}{"id": f.ID}
		switch f.Kind {
		case models.KindASCII, models.KindRMTES:
			entry["str"] = f.Str
		case models.KindInt64:
			if f.Blank {
				entry["blank"] = true
			} else {
				entry["mantissa"] = f.Mantissa
				entry["exponent"] = f.Exponent
			}
		}
		fields = append(fields, entry)
	}
	ric := ""
	if msg.Stream != nil {
		ric = msg.Stream.RIC
	}
	return map[string]interface{}{
		"ric":    ric,
		"token":  token,
		"fields": fields,
		"lock":   msg.Lock,
	}
}
