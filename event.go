package main

import (
	"encoding/json"
	"fmt"
)

// The wire format is the externally-tagged union the mobile clients already
// speak: an object whose single key names the variant, except that variants
// without fields travel as the bare tag string.

// ClientEvent is one decoded inbound frame.
type ClientEvent interface {
	clientEvent()
}

type ConnectEvent struct {
	Name string `json:"name"`
}

type ChatEvent struct {
	Message string `json:"message"`
}

type JoinGameEvent struct {
	Game uint16 `json:"game"`
}

type LeaveGameEvent struct{}

type CreateGameEvent struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Minutes uint32  `json:"minutes"`
}

type StartGameEvent struct{}

type UpdatePositionEvent struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type TagPlayerEvent struct {
	Player int64  `json:"player"`
	Photo  string `json:"photo"`
}

func (ConnectEvent) clientEvent()        {}
func (ChatEvent) clientEvent()           {}
func (JoinGameEvent) clientEvent()       {}
func (LeaveGameEvent) clientEvent()      {}
func (CreateGameEvent) clientEvent()     {}
func (StartGameEvent) clientEvent()      {}
func (UpdatePositionEvent) clientEvent() {}
func (TagPlayerEvent) clientEvent()      {}

// ServerEvent is one outbound frame awaiting encoding.
type ServerEvent interface {
	serverEvent()
}

type ConnectedMessage struct {
	ID int64 `json:"id"`
}

type ChatMessage struct {
	Sender  int64  `json:"sender"`
	Message string `json:"message"`
}

type ErrorMessage struct {
	Message string `json:"message"`
}

type JoinedGameMessage struct {
	ID      uint16        `json:"id"`
	X       float64       `json:"x"`
	Y       float64       `json:"y"`
	Players []PlayerEntry `json:"players"`
	Host    int64         `json:"host"`
}

type PlayerJoinedMessage struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type PlayerLeftMessage struct {
	ID      int64 `json:"id"`
	NewHost int64 `json:"new_host"`
}

type LeftGameMessage struct{}

type GameStartedMessage struct {
	Seeker int64 `json:"seeker"`
}

type PlayerTaggedMessage struct {
	Tagger int64  `json:"tagger"`
	Tagged int64  `json:"tagged"`
	Photo  string `json:"photo"`
}

type ScoreUpdateMessage struct {
	Scores      map[int64]float32 `json:"scores"`
	SecondsLeft int64             `json:"seconds_left"`
}

type GameEndedMessage struct {
	Winner int64 `json:"winner"`
}

func (ConnectedMessage) serverEvent()    {}
func (ChatMessage) serverEvent()         {}
func (ErrorMessage) serverEvent()        {}
func (JoinedGameMessage) serverEvent()   {}
func (PlayerJoinedMessage) serverEvent() {}
func (PlayerLeftMessage) serverEvent()   {}
func (LeftGameMessage) serverEvent()     {}
func (GameStartedMessage) serverEvent()  {}
func (PlayerTaggedMessage) serverEvent() {}
func (ScoreUpdateMessage) serverEvent()  {}
func (GameEndedMessage) serverEvent()    {}

// PlayerEntry serialises as a two-element [id, name] array.
type PlayerEntry struct {
	ID   int64
	Name string
}

func (p PlayerEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{p.ID, p.Name})
}

func (p *PlayerEntry) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("player entry must have 2 elements, got %d", len(pair))
	}
	if err := json.Unmarshal(pair[0], &p.ID); err != nil {
		return err
	}
	return json.Unmarshal(pair[1], &p.Name)
}

// DecodeClientEvent decodes one inbound text frame. Unit variants are
// accepted both as "Tag" and as {"Tag": null}.
func DecodeClientEvent(data []byte) (ClientEvent, error) {
	var tag string
	if err := json.Unmarshal(data, &tag); err == nil {
		event, err := clientEventByTag(tag, nil)
		if err != nil {
			return nil, err
		}
		return event, nil
	}

	var tagged map[string]json.RawMessage
	if err := json.Unmarshal(data, &tagged); err != nil {
		return nil, fmt.Errorf("expected a tagged event object: %w", err)
	}
	if len(tagged) != 1 {
		return nil, fmt.Errorf("expected exactly one variant tag, got %d", len(tagged))
	}

	for tag, payload := range tagged {
		return clientEventByTag(tag, payload)
	}

	return nil, fmt.Errorf("unreachable")
}

func decodeVariant[T ClientEvent](tag string, payload json.RawMessage) (ClientEvent, error) {
	var event T
	if len(payload) == 0 {
		return nil, fmt.Errorf("variant %q requires a payload", tag)
	}
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("variant %q: %w", tag, err)
	}
	return event, nil
}

func clientEventByTag(tag string, payload json.RawMessage) (ClientEvent, error) {
	switch tag {
	case "Connect":
		return decodeVariant[ConnectEvent](tag, payload)
	case "Chat":
		return decodeVariant[ChatEvent](tag, payload)
	case "JoinGame":
		return decodeVariant[JoinGameEvent](tag, payload)
	case "LeaveGame":
		return LeaveGameEvent{}, nil
	case "CreateGame":
		return decodeVariant[CreateGameEvent](tag, payload)
	case "StartGame":
		return StartGameEvent{}, nil
	case "UpdatePosition":
		return decodeVariant[UpdatePositionEvent](tag, payload)
	case "TagPlayer":
		return decodeVariant[TagPlayerEvent](tag, payload)
	default:
		return nil, fmt.Errorf("unknown variant %q", tag)
	}
}

// EncodeServerEvent encodes one outbound event to a text frame.
func EncodeServerEvent(event ServerEvent) ([]byte, error) {
	var tag string

	switch event.(type) {
	case ConnectedMessage:
		tag = "Connected"
	case ChatMessage:
		tag = "Chat"
	case ErrorMessage:
		tag = "Error"
	case JoinedGameMessage:
		tag = "JoinedGame"
	case PlayerJoinedMessage:
		tag = "PlayerJoined"
	case PlayerLeftMessage:
		tag = "PlayerLeft"
	case LeftGameMessage:
		return json.Marshal("LeftGame")
	case GameStartedMessage:
		tag = "GameStarted"
	case PlayerTaggedMessage:
		tag = "PlayerTagged"
	case ScoreUpdateMessage:
		tag = "ScoreUpdate"
	case GameEndedMessage:
		tag = "GameEnded"
	default:
		return nil, fmt.Errorf("unencodable event %T", event)
	}

	return json.Marshal(map[string]ServerEvent{tag: event})
}
