package hass

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"gopkg.in/yaml.v3"

	"github.com/example/speech-trainer/api-go/internal/apperr"
)

// Client reads exposed entities and areas over the Home Assistant WebSocket API.
type Client struct {
	// URI is either a full ws:// or wss:// URL or a host[:port], which
	// expands to ws://host[:port]/api/websocket.
	URI     string
	Token   string
	Dialer  *websocket.Dialer
	Timeout time.Duration
}

// EntityValue maps a spoken name to an entity id.
type EntityValue struct {
	In  string `yaml:"in"`
	Out string `yaml:"out"`
}

// Exposed is the slot-list document trained into sentences.
type Exposed struct {
	Entity struct {
		Values []EntityValue `yaml:"values"`
	} `yaml:"entity"`
	Area struct {
		Values []string `yaml:"values"`
	} `yaml:"area"`
}

// YAML renders {lists: ...} ready to paste into a sentences file.
func (e Exposed) YAML() ([]byte, error) {
	return yaml.Marshal(struct {
		Lists Exposed `yaml:"lists"`
	}{Lists: e})
}

type message struct {
	ID          int             `json:"id,omitempty"`
	Type        string          `json:"type"`
	AccessToken string          `json:"access_token,omitempty"`
	Success     *bool           `json:"success,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

type state struct {
	EntityID   string `json:"entity_id"`
	Attributes struct {
		FriendlyName string `json:"friendly_name"`
	} `json:"attributes"`
}

type area struct {
	AreaID string `json:"area_id"`
	Name   string `json:"name"`
}

// URL returns the WebSocket endpoint for c.URI.
func (c Client) URL() string {
	uri := strings.TrimSpace(c.URI)
	if strings.Contains(uri, "://") {
		return uri
	}
	return "ws://" + strings.TrimSuffix(uri, "/") + "/api/websocket"
}

// Fetch authenticates and collects entities exposed to the conversation
// agent, named by their friendly names, plus every area name.
func (c Client) Fetch(ctx context.Context) (Exposed, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dialer := c.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, c.URL(), nil)
	if err != nil {
		return Exposed{}, apperr.Transport("connect to home assistant", err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
		_ = conn.SetWriteDeadline(deadline)
	}

	s := session{conn: conn}
	if err := s.auth(c.Token); err != nil {
		return Exposed{}, err
	}

	var exposedList struct {
		ExposedEntities map[string]map[string]bool `json:"exposed_entities"`
	}
	if err := s.call("homeassistant/expose_entity/list", &exposedList); err != nil {
		return Exposed{}, err
	}
	var states []state
	if err := s.call("get_states", &states); err != nil {
		return Exposed{}, err
	}
	var areas []area
	if err := s.call("config/area_registry/list", &areas); err != nil {
		return Exposed{}, err
	}

	var out Exposed
	out.Entity.Values = []EntityValue{}
	out.Area.Values = []string{}
	for _, st := range states {
		if !exposedList.ExposedEntities[st.EntityID]["conversation"] {
			continue
		}
		name := strings.TrimSpace(st.Attributes.FriendlyName)
		if name == "" {
			continue
		}
		out.Entity.Values = append(out.Entity.Values, EntityValue{In: name, Out: st.EntityID})
	}
	for _, a := range areas {
		if name := strings.TrimSpace(a.Name); name != "" {
			out.Area.Values = append(out.Area.Values, name)
		}
	}
	return out, nil
}

type session struct {
	conn   *websocket.Conn
	nextID int
}

func (s *session) auth(token string) error {
	var msg message
	if err := s.conn.ReadJSON(&msg); err != nil {
		return apperr.Transport("read auth request", err)
	}
	if msg.Type != "auth_required" {
		return apperr.Transport(fmt.Sprintf("unexpected message %q", msg.Type), nil)
	}
	if err := s.conn.WriteJSON(message{Type: "auth", AccessToken: token}); err != nil {
		return apperr.Transport("send auth", err)
	}
	if err := s.conn.ReadJSON(&msg); err != nil {
		return apperr.Transport("read auth result", err)
	}
	if msg.Type != "auth_ok" {
		return apperr.Transport("home assistant rejected token", fmt.Errorf("%s: %s", msg.Type, msg.Message))
	}
	return nil
}

// call sends a command and decodes its result into v. Messages for other
// ids are skipped.
func (s *session) call(command string, v any) error {
	s.nextID++
	id := s.nextID
	if err := s.conn.WriteJSON(message{ID: id, Type: command}); err != nil {
		return apperr.Transport("send "+command, err)
	}
	for {
		var msg message
		if err := s.conn.ReadJSON(&msg); err != nil {
			return apperr.Transport("read "+command, err)
		}
		if msg.Type != "result" || msg.ID != id {
			continue
		}
		if msg.Success == nil || !*msg.Success {
			cause := fmt.Errorf("unknown error")
			if msg.Error != nil {
				cause = fmt.Errorf("%s: %s", msg.Error.Code, msg.Error.Message)
			}
			return apperr.Transport(command+" failed", cause)
		}
		if err := json.Unmarshal(msg.Result, v); err != nil {
			return apperr.Transport("decode "+command, err)
		}
		return nil
	}
}
