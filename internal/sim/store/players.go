package store

import (
	"sort"
)

// AddPlayer registers a connected peer; an existing entry with the same id is replaced.
func (s *Store) AddPlayer(p PlayerState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := p
	s.players[p.PeerID] = &cp
}

// RemovePlayer drops the peer and clears it as a target of every AI.
func (s *Store) RemovePlayer(peer uint32) (PlayerState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.players[peer]
	if !ok {
		return PlayerState{}, false
	}
	delete(s.players, peer)
	for _, e := range s.entities {
		if e.Target == peer {
			e.Target = 0
		}
	}
	return *p, true
}

// UpdatePlayer applies fn to the stored player under the store lock.
func (s *Store) UpdatePlayer(peer uint32, fn func(p *PlayerState)) (PlayerState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.players[peer]
	if !ok {
		return PlayerState{}, false
	}
	fn(p)
	return *p, true
}

func (s *Store) Player(peer uint32) (PlayerState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.players[peer]
	if !ok {
		return PlayerState{}, false
	}
	return *p, true
}

// Players returns every connected player ordered by peer id.
func (s *Store) Players() []PlayerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PlayerState, 0, len(s.players))
	for _, p := range s.players {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeerID < out[j].PeerID })
	return out
}

func (s *Store) PlayerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.players)
}
