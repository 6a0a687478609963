package main

import (
	"context"
	"math/rand"
	"time"
)

// endpoint is the delivery handle a session registers at Connect. Delivery
// must not block the coordinator; a failed or dropped delivery is cleaned up
// by the transport's eventual Disconnect.
type endpoint interface {
	deliver(event ServerEvent)
}

type connectRequest struct {
	name     string
	endpoint endpoint
	reply    chan int64
}

type disconnectRequest struct {
	id int64
}

type clientRequest struct {
	sender int64
	event  ClientEvent
}

type tickRequest struct {
	code uint16
}

// Coordinator is the single owner of the player and game tables. All
// mutation happens on the goroutine running run(); sessions talk to it only
// through the request channels.
type Coordinator struct {
	cfg *Config

	connects    chan connectRequest
	disconnects chan disconnectRequest
	requests    chan clientRequest
	ticks       chan tickRequest

	players map[int64]*Player
	games   map[uint16]*Game
	rng     *rand.Rand
}

func newCoordinator(cfg *Config) *Coordinator {
	return &Coordinator{
		cfg:         cfg,
		connects:    make(chan connectRequest),
		disconnects: make(chan disconnectRequest, 64),
		requests:    make(chan clientRequest, 256),
		ticks:       make(chan tickRequest, 64),
		players:     make(map[int64]*Player),
		games:       make(map[uint16]*Game),
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *Coordinator) run(ctx context.Context) {
	for {
		select {
		case req := <-c.connects:
			req.reply <- c.handleConnect(req.name, req.endpoint)

		case req := <-c.disconnects:
			c.handleDisconnect(req.id)

		case req := <-c.requests:
			c.dispatch(req.sender, req.event)

		case req := <-c.ticks:
			c.handleTick(req.code)

		case <-ctx.Done():
			for _, game := range c.games {
				if playing, ok := game.state.(*playingState); ok {
					close(playing.stop)
				}
			}
			return
		}
	}
}

// Connect registers a session endpoint and returns its fresh player id.
func (c *Coordinator) Connect(name string, ep endpoint) int64 {
	reply := make(chan int64, 1)
	c.connects <- connectRequest{name: name, endpoint: ep, reply: reply}
	return <-reply
}

// Disconnect removes the player, leaving any game first. Unknown ids are a
// no-op, so the transport may report disconnects more than once.
func (c *Coordinator) Disconnect(id int64) {
	c.disconnects <- disconnectRequest{id: id}
}

// Handle queues one decoded client event for the coordinator loop.
func (c *Coordinator) Handle(sender int64, event ClientEvent) {
	c.requests <- clientRequest{sender: sender, event: event}
}

func (c *Coordinator) dispatch(sender int64, event ClientEvent) {
	switch event := event.(type) {
	case ChatEvent:
		c.handleChat(sender, event.Message)
	case JoinGameEvent:
		c.handleJoin(sender, event.Game)
	case LeaveGameEvent:
		c.handleLeave(sender)
	case CreateGameEvent:
		c.handleCreate(sender, event.X, event.Y, event.Minutes)
	case StartGameEvent:
		c.handleStart(sender)
	case UpdatePositionEvent:
		c.handleUpdatePosition(sender, event.X, event.Y)
	case TagPlayerEvent:
		c.handleTag(sender, event.Player, event.Photo)
	}
}

// send delivers one event to a single player, if still present.
func (c *Coordinator) send(id int64, event ServerEvent) {
	if player, ok := c.players[id]; ok {
		player.endpoint.deliver(event)
	}
}

func (c *Coordinator) sendError(id int64, message string) {
	c.send(id, ErrorMessage{Message: message})
}

// broadcast fans an event out to every roster member of a game. Missing
// games and missing players are skipped.
func (c *Coordinator) broadcast(code uint16, event ServerEvent) {
	c.broadcastExcept(code, event, -1)
}

func (c *Coordinator) broadcastExcept(code uint16, event ServerEvent, except int64) {
	game, ok := c.games[code]
	if !ok {
		return
	}
	for _, id := range game.roster {
		if id == except {
			continue
		}
		c.send(id, event)
	}
}

func (c *Coordinator) handleConnect(name string, ep endpoint) int64 {
	if name == "" {
		name = "Anonymous"
	}

	id := generateID(c.rng.Int63, c.players)
	c.players[id] = &Player{
		id:       id,
		name:     name,
		endpoint: ep,
	}

	logf(c.cfg, "GAMES: Player %q connected as %d", name, id)

	return id
}

func (c *Coordinator) handleDisconnect(id int64) {
	player, ok := c.players[id]
	if !ok {
		return
	}

	if player.inGame {
		c.handleLeave(id)
	}

	delete(c.players, id)

	logf(c.cfg, "GAMES: Player %q (%d) disconnected", player.name, id)
}

func (c *Coordinator) handleCreate(sender int64, x, y float64, minutes uint32) {
	player, ok := c.players[sender]
	if !ok {
		return
	}
	if player.inGame {
		c.sendError(sender, errAlreadyInGame)
		return
	}

	code := generateID(func() uint16 { return uint16(c.rng.Uint32()) }, c.games)
	c.games[code] = newGame(code, sender, x, y, minutes)
	player.game = code
	player.inGame = true

	// The creator is alone in the roster but receives an empty player list;
	// clients rely on this.
	c.send(sender, JoinedGameMessage{
		ID:      code,
		X:       x,
		Y:       y,
		Players: []PlayerEntry{},
		Host:    sender,
	})

	logf(c.cfg, "GAMES: Player %d created game %d (%d minute(s))", sender, code, minutes)
}

func (c *Coordinator) handleJoin(sender int64, code uint16) {
	player, ok := c.players[sender]
	if !ok {
		return
	}
	if player.inGame {
		c.sendError(sender, errAlreadyInGame)
		return
	}

	game, ok := c.games[code]
	if !ok {
		c.sendError(sender, errGameDoesNotExist)
		return
	}

	switch game.state.(type) {
	case *playingState:
		c.sendError(sender, errGameStarted)
		return
	case endedState:
		c.sendError(sender, errGameEnded)
		return
	}

	// Snapshot before appending, so the joiner is absent from their own list.
	snapshot := make([]PlayerEntry, 0, len(game.roster))
	for _, id := range game.roster {
		if member, ok := c.players[id]; ok {
			snapshot = append(snapshot, PlayerEntry{ID: id, Name: member.name})
		}
	}

	game.roster = append(game.roster, sender)
	player.game = code
	player.inGame = true

	c.send(sender, JoinedGameMessage{
		ID:      code,
		X:       game.x,
		Y:       game.y,
		Players: snapshot,
		Host:    game.host,
	})
	c.broadcastExcept(code, PlayerJoinedMessage{ID: sender, Name: player.name}, sender)

	logf(c.cfg, "GAMES: Player %q (%d) joined game %d", player.name, sender, code)
}

func (c *Coordinator) handleLeave(sender int64) {
	player, ok := c.players[sender]
	if !ok || !player.inGame {
		c.sendError(sender, errCouldNotLeave)
		return
	}

	game := c.games[player.game]
	code := game.code

	game.removeFromRoster(sender)
	player.inGame = false

	playing, wasPlaying := game.state.(*playingState)

	switch {
	case wasPlaying && len(game.roster) < 2:
		c.endGame(game)
	case wasPlaying && playing.seeker == sender:
		// A replacement seeker is chosen silently; the next score update
		// reveals it.
		playing.seeker = game.roster[c.rng.Intn(len(game.roster))]
	case len(game.roster) == 0:
		c.cancelGame(game)
	}

	// The host role follows the roster: whenever the departing host leaves a
	// surviving game behind, the oldest remaining member takes over.
	if _, live := c.games[code]; live && game.host == sender && len(game.roster) > 0 {
		game.host = game.roster[0]
	}

	c.send(sender, LeftGameMessage{})
	c.broadcastExcept(code, PlayerLeftMessage{ID: sender, NewHost: game.host}, sender)

	logf(c.cfg, "GAMES: Player %d left game %d", sender, code)
}

func (c *Coordinator) handleStart(sender int64) {
	player, ok := c.players[sender]
	if !ok {
		return
	}
	if !player.inGame {
		c.sendError(sender, errCouldNotStart)
		return
	}

	game := c.games[player.game]

	if game.host != sender {
		c.sendError(sender, errNotHost)
		return
	}
	if len(game.roster) < 2 {
		c.sendError(sender, errNotEnoughPlayers)
		return
	}
	if _, waiting := game.state.(waitingState); !waiting {
		c.sendError(sender, errCouldNotStart)
		return
	}

	scores := make(map[int64]float32, len(game.roster))
	for _, id := range game.roster {
		scores[id] = 0
	}

	seeker := game.roster[c.rng.Intn(len(game.roster))]
	stop := make(chan struct{})

	game.state = &playingState{
		seeker:    seeker,
		startedAt: time.Now(),
		scores:    scores,
		stop:      stop,
	}

	go c.runTicker(game.code, stop)

	c.broadcast(game.code, GameStartedMessage{Seeker: seeker})

	logf(c.cfg, "GAMES: Game %d started with seeker %d", game.code, seeker)
}

func (c *Coordinator) handleTag(sender, tagged int64, photo string) {
	player, ok := c.players[sender]
	if !ok || !player.inGame {
		c.sendError(sender, errCouldNotTag)
		return
	}

	game := c.games[player.game]
	playing, ok := game.state.(*playingState)
	if !ok || playing.seeker != sender || !game.inRoster(tagged) {
		c.sendError(sender, errCouldNotTag)
		return
	}

	playing.seeker = tagged

	c.broadcast(game.code, PlayerTaggedMessage{Tagger: sender, Tagged: tagged, Photo: photo})

	logf(c.cfg, "GAMES: Player %d tagged %d in game %d", sender, tagged, game.code)
}

func (c *Coordinator) handleUpdatePosition(sender int64, x, y float64) {
	player, ok := c.players[sender]
	if !ok {
		c.sendError(sender, errPlayerNotFound)
		return
	}

	player.pos = &position{x: x, y: y}
}

func (c *Coordinator) handleChat(sender int64, message string) {
	player, ok := c.players[sender]
	if !ok || !player.inGame {
		return
	}

	c.broadcast(player.game, ChatMessage{Sender: sender, Message: message})
}

// runTicker drives the periodic score updates for one game. It stops when
// the coordinator closes the stop channel on any transition out of Playing.
func (c *Coordinator) runTicker(code uint16, stop chan struct{}) {
	ticker := time.NewTicker(c.cfg.updateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			select {
			case c.ticks <- tickRequest{code: code}:
			case <-stop:
				return
			}
		case <-stop:
			return
		}
	}
}

func (c *Coordinator) handleTick(code uint16) {
	game, ok := c.games[code]
	if !ok {
		return
	}
	playing, ok := game.state.(*playingState)
	if !ok {
		// A queued tick can arrive just after the game left Playing.
		return
	}

	for id := range playing.scores {
		if id == playing.seeker {
			continue
		}
		player, ok := c.players[id]
		if !ok || player.pos == nil {
			continue
		}
		playing.scores[id] += scoreGain(game.originDistance(player.pos), c.cfg.updateInterval)
	}

	elapsed := time.Since(playing.startedAt)

	secondsLeft := int64(game.length.Seconds()) - int64(elapsed.Seconds())
	if secondsLeft < 0 {
		secondsLeft = 0
	}

	scores := make(map[int64]float32, len(playing.scores))
	for id, score := range playing.scores {
		scores[id] = score
	}

	c.broadcast(code, ScoreUpdateMessage{Scores: scores, SecondsLeft: secondsLeft})

	if elapsed >= game.length {
		c.endGame(game)
	}
}

// endGame stops the tick, announces the winner, and parks the record in the
// Ended state until its last member leaves.
func (c *Coordinator) endGame(game *Game) {
	playing, ok := game.state.(*playingState)
	if !ok {
		return
	}

	if len(playing.scores) == 0 {
		c.cancelGame(game)
		return
	}

	close(playing.stop)

	won := winner(playing.scores, game.roster)
	game.state = endedState{winner: won}

	c.broadcast(game.code, GameEndedMessage{Winner: won})

	logf(c.cfg, "GAMES: Game %d ended, won by %d", game.code, won)
}

// cancelGame drops the record entirely.
func (c *Coordinator) cancelGame(game *Game) {
	if playing, ok := game.state.(*playingState); ok {
		close(playing.stop)
	}

	c.broadcast(game.code, LeftGameMessage{})
	delete(c.games, game.code)

	logf(c.cfg, "GAMES: Game %d removed", game.code)
}
