package tuning

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Server holds process-level settings read from server.yaml.
type Server struct {
	Name       string `yaml:"name"`
	MaxPlayers int    `yaml:"max_players"`
	GameKey    string `yaml:"game_key"`
	TickRateHz int    `yaml:"tick_rate_hz"`
	WorldID    string `yaml:"world_id"`
	DataPath   string `yaml:"data_path"`
	Guard      string `yaml:"guard"`
}

func DefaultServer() Server {
	return Server{
		Name:       "Duckov Headless Server",
		MaxPlayers: 4,
		GameKey:    "gameKey",
		TickRateHz: 60,
		WorldID:    "default",
		DataPath:   "Data",
		Guard:      "builtin",
	}
}

func (s Server) TickInterval() time.Duration {
	return time.Second / time.Duration(s.TickRateHz)
}

// LoadServerOrCreate reads server.yaml, writing defaults when missing.
// DUCKOV_GAME_KEY overrides game_key. On error the defaults are returned with it.
func LoadServerOrCreate(path string) (Server, error) {
	s, err := loadServer(path)
	if err != nil {
		s = DefaultServer()
	}
	if k := strings.TrimSpace(os.Getenv("DUCKOV_GAME_KEY")); k != "" {
		s.GameKey = k
	}
	return s, err
}

func loadServer(path string) (Server, error) {
	s := DefaultServer()
	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := writeYAML(path, s); err != nil {
			return s, fmt.Errorf("server.yaml: %w", err)
		}
	case err != nil:
		return s, err
	default:
		if err := yaml.Unmarshal(raw, &s); err != nil {
			return s, fmt.Errorf("server.yaml: %w", err)
		}
	}
	if s.MaxPlayers <= 0 {
		return s, errors.New("server.yaml: max_players must be > 0")
	}
	if s.TickRateHz <= 0 {
		return s, errors.New("server.yaml: tick_rate_hz must be > 0")
	}
	return s, nil
}
