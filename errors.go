/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"fmt"
	"log"
	"time"
)

// Application error strings are part of the wire contract; clients match on
// them verbatim.
const (
	errAlreadyConnected = "Already connected"
	errAlreadyInGame    = "Already in a game"
	errCouldNotLeave    = "Could not leave game"
	errCouldNotStart    = "Could not start game"
	errCouldNotTag      = "Could not tag player"
	errGameDoesNotExist = "Game does not exist"
	errGameEnded        = "Game already ended"
	errGameStarted      = "Game already started"
	errNotConnected     = "Not connected"
	errNotEnoughPlayers = "Not enough players to start the game"
	errNotHost          = "Only the host can start the game"
	errPlayerNotFound   = "Player not found"
)

func logf(cfg *Config, format string, args ...any) {
	if !cfg.verbose {
		return
	}

	log.Printf("%s | "+format, append([]any{time.Now().Format(logDate)}, args...)...)
}

func humanReadableSize(bytes int64) string {
	const unit int64 = 1000
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := unit, 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB",
		float64(bytes)/float64(div),
		"kMGTPE"[exp])
}
