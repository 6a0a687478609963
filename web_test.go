package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testServer runs the real coordinator loop behind the real routes.
func testServer(t *testing.T, cfg *Config) *httptest.Server {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())

	coord := newCoordinator(cfg)
	go coord.run(ctx)

	mux := httprouter.New()
	errs := make(chan error, 64)
	mux.GET("/ws", serveWS(cfg, coord))
	mux.GET("/healthz", serveHealthCheck(cfg, errs))
	mux.GET("/qr/:code", serveQR(cfg, errs))
	mux.GET("/robots.txt", serveRobots(cfg, errs))
	mux.GET("/version", serveVersion(cfg, errs))

	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})

	return srv
}

// testClient wraps one websocket connection speaking the wire protocol.
type testClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func dialClient(t *testing.T, srv *httptest.Server) *testClient {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return &testClient{t: t, conn: conn}
}

func (c *testClient) sendRaw(frame string) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteMessage(websocket.TextMessage, []byte(frame)))
}

// next reads one frame and returns its variant tag and payload.
func (c *testClient) next() (string, json.RawMessage) {
	c.t.Helper()

	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := c.conn.ReadMessage()
	require.NoError(c.t, err)

	var tag string
	if err := json.Unmarshal(data, &tag); err == nil {
		return tag, nil
	}

	var tagged map[string]json.RawMessage
	require.NoError(c.t, json.Unmarshal(data, &tagged))
	require.Len(c.t, tagged, 1)

	for tag, payload := range tagged {
		return tag, payload
	}
	return "", nil
}

// expect reads one frame, asserts its tag, and decodes the payload into out.
func (c *testClient) expect(tag string, out any) {
	c.t.Helper()

	got, payload := c.next()
	require.Equal(c.t, tag, got)
	if out != nil {
		require.NoError(c.t, json.Unmarshal(payload, out))
	}
}

func (c *testClient) connect(name string) int64 {
	c.t.Helper()

	c.sendRaw(fmt.Sprintf(`{"Connect": {"name": %q}}`, name))

	var connected struct {
		ID int64 `json:"id"`
	}
	c.expect("Connected", &connected)
	return connected.ID
}

func TestServeOperationalEndpoints(t *testing.T) {
	srv := testServer(t, testConfig())

	for path, want := range map[string]string{
		"/healthz":    "Ok\n",
		"/version":    "tagbox v" + releaseVersion + "\n",
		"/robots.txt": "User-agent: *\nDisallow: /",
	} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		require.NoError(t, err)

		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.Equal(t, want, string(body), path)
	}
}

func TestServeQR(t *testing.T) {
	srv := testServer(t, testConfig())

	resp, err := http.Get(srv.URL + "/qr/12345")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))

	resp, err = http.Get(srv.URL + "/qr/notanumber")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Codes are 16-bit.
	resp, err = http.Get(srv.URL + "/qr/70000")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSessionGating(t *testing.T) {
	srv := testServer(t, testConfig())
	client := dialClient(t, srv)

	// Anything before Connect is refused.
	client.sendRaw(`"StartGame"`)
	var failure struct {
		Message string `json:"message"`
	}
	client.expect("Error", &failure)
	assert.Equal(t, errNotConnected, failure.Message)

	// Garbage frames echo back a protocol error.
	client.sendRaw(`{"bogus`)
	client.expect("Error", &failure)
	assert.True(t, strings.HasPrefix(failure.Message, "Invalid message: "))

	client.connect("Alice")

	// A second Connect on the same session is refused.
	client.sendRaw(`{"Connect": {"name": "Mallory"}}`)
	client.expect("Error", &failure)
	assert.Equal(t, errAlreadyConnected, failure.Message)
}

func TestEndToEndMatch(t *testing.T) {
	cfg := testConfig()
	cfg.updateInterval = 25 * time.Millisecond
	srv := testServer(t, cfg)

	alice := dialClient(t, srv)
	bob := dialClient(t, srv)

	a := alice.connect("Alice")
	b := bob.connect("Bob")
	require.NotEqual(t, a, b)

	// Alice creates a lobby at the origin.
	alice.sendRaw(`{"CreateGame": {"x": 0, "y": 0, "minutes": 1}}`)
	var joined struct {
		ID      uint16  `json:"id"`
		Players [][]any `json:"players"`
		Host    int64   `json:"host"`
	}
	alice.expect("JoinedGame", &joined)
	assert.Empty(t, joined.Players)
	assert.Equal(t, a, joined.Host)

	// Bob joins and sees Alice in the pre-join snapshot.
	bob.sendRaw(fmt.Sprintf(`{"JoinGame": {"game": %d}}`, joined.ID))
	var joinedBob struct {
		Players [][]any `json:"players"`
	}
	bob.expect("JoinedGame", &joinedBob)
	require.Len(t, joinedBob.Players, 1)
	assert.Equal(t, "Alice", joinedBob.Players[0][1])

	var playerJoined struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	}
	alice.expect("PlayerJoined", &playerJoined)
	assert.Equal(t, b, playerJoined.ID)
	assert.Equal(t, "Bob", playerJoined.Name)

	// Alice starts the match; everyone learns the seeker.
	alice.sendRaw(`"StartGame"`)
	var started struct {
		Seeker int64 `json:"seeker"`
	}
	alice.expect("GameStarted", &started)
	require.Contains(t, []int64{a, b}, started.Seeker)
	bob.expect("GameStarted", nil)

	hider := alice
	hiderID := a
	if started.Seeker == a {
		hider, hiderID = bob, b
	}

	// The hider reports a position ~11m out and starts scoring.
	hider.sendRaw(`{"UpdatePosition": {"x": 0.0001, "y": 0}}`)

	deadline := time.Now().Add(5 * time.Second)
	for {
		require.True(t, time.Now().Before(deadline), "no score accrued before deadline")

		var update struct {
			Scores      map[string]float32 `json:"scores"`
			SecondsLeft int64              `json:"seconds_left"`
		}
		alice.expect("ScoreUpdate", &update)
		require.Len(t, update.Scores, 2)

		assert.Zero(t, update.Scores[fmt.Sprint(started.Seeker)])
		assert.LessOrEqual(t, update.SecondsLeft, int64(60))

		if update.Scores[fmt.Sprint(hiderID)] > 0 {
			break
		}
	}

	// The seeker tags the hider; both receive the transfer.
	seeker := alice
	if started.Seeker == b {
		seeker = bob
	}
	seeker.sendRaw(fmt.Sprintf(`{"TagPlayer": {"player": %d, "photo": "x"}}`, hiderID))

	var tagged struct {
		Tagger int64  `json:"tagger"`
		Tagged int64  `json:"tagged"`
		Photo  string `json:"photo"`
	}
	for {
		tag, payload := seeker.next()
		if tag != "PlayerTagged" {
			require.Equal(t, "ScoreUpdate", tag)
			continue
		}
		require.NoError(t, json.Unmarshal(payload, &tagged))
		break
	}
	assert.Equal(t, started.Seeker, tagged.Tagger)
	assert.Equal(t, hiderID, tagged.Tagged)
	assert.Equal(t, "x", tagged.Photo)

	// The hider leaves; with one player left the match ends.
	hider.sendRaw(`"LeaveGame"`)
	for {
		tag, _ := hider.next()
		if tag == "LeftGame" {
			break
		}
		require.Contains(t, []string{"ScoreUpdate", "PlayerTagged"}, tag)
	}

	for {
		tag, _ := seeker.next()
		if tag == "GameEnded" {
			break
		}
		require.Contains(t, []string{"ScoreUpdate", "PlayerTagged", "PlayerLeft"}, tag)
	}
}

func TestHeartbeatKeepsIdleClientAlive(t *testing.T) {
	cfg := testConfig()
	cfg.heartbeatInterval = 50 * time.Millisecond
	cfg.clientTimeout = 200 * time.Millisecond
	srv := testServer(t, cfg)

	client := dialClient(t, srv)
	client.connect("Alice")

	// Reading keeps the client's pong responses flowing, so the server must
	// not drop the connection even with no application traffic.
	require.NoError(t, client.conn.SetReadDeadline(time.Now().Add(3*cfg.clientTimeout)))
	_, _, err := client.conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "timeout") ||
		strings.Contains(err.Error(), "deadline"),
		"connection should stay open with no frames to read, got: %v", err)
}
