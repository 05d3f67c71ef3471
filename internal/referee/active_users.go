package referee

import (
	"encoding/json"
	"net/http"
	"sort"

	"github.com/connect4/client/internal/protocol"
)

type ActivePlayer struct {
	Name   string `json:"name"`
	GameID string `json:"gameId"`
	Status string `json:"status"` // "waiting", "playing"
}

// ActivePlayers lists every seated, connected player.
func (h *Hub) ActivePlayers() []ActivePlayer {
	h.mu.Lock()
	defer h.mu.Unlock()

	players := make([]ActivePlayer, 0)
	for _, m := range h.matches {
		for _, s := range m.seats {
			if s.client == nil {
				continue
			}
			status := "waiting"
			if m.status == protocol.StatusPlaying {
				status = "playing"
			}
			players = append(players, ActivePlayer{Name: s.name, GameID: m.ID, Status: status})
		}
	}
	sort.Slice(players, func(i, j int) bool {
		if players[i].GameID != players[j].GameID {
			return players[i].GameID < players[j].GameID
		}
		return players[i].Name < players[j].Name
	})
	return players
}

// HandleActivePlayers is an HTTP handler for getting active players
func (h *Hub) HandleActivePlayers(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.ActivePlayers()); err != nil {
		h.log.Error("encode active players", err)
	}
}
