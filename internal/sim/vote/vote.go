// Package vote is the scene-transition consensus state machine.
// A Machine is not safe for concurrent use; its owner serializes access.
package vote

import (
	"errors"
	"sort"
)

var (
	ErrActive   = errors.New("vote already active")
	ErrInactive = errors.New("no active vote")
	ErrNoTarget = errors.New("vote target scene is empty")
)

type State struct {
	Active bool            `json:"active"`
	Target string          `json:"target_scene,omitempty"`
	Votes  map[uint32]bool `json:"votes,omitempty"`
}

// Voters returns the peer ids in Votes in ascending order.
func (s State) Voters() []uint32 {
	out := make([]uint32, 0, len(s.Votes))
	for id := range s.Votes {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Result describes what a call did. Passed means every voter was ready: the machine is
// back to inactive and the caller must transition to Target.
type Result struct {
	Changed bool
	Passed  bool
	Target  string
}

type Machine struct {
	active bool
	target string
	votes  map[uint32]bool
}

func New() *Machine { return &Machine{votes: map[uint32]bool{}} }

func (m *Machine) State() State {
	st := State{Active: m.active, Target: m.target}
	if len(m.votes) > 0 {
		st.Votes = make(map[uint32]bool, len(m.votes))
		for k, v := range m.votes {
			st.Votes[k] = v
		}
	}
	return st
}

// Start opens a vote for target. Every participant starts not ready, the requester ready.
// A vote whose only voter is the requester passes immediately.
func (m *Machine) Start(target string, requester uint32, participants []uint32) (Result, error) {
	if m.active {
		return Result{}, ErrActive
	}
	if target == "" {
		return Result{}, ErrNoTarget
	}
	m.active = true
	m.target = target
	m.votes = map[uint32]bool{}
	for _, p := range participants {
		m.votes[p] = false
	}
	m.votes[requester] = true
	return m.evaluate(), nil
}

// SetReady records a voter's readiness. Peers not yet in the vote are added.
func (m *Machine) SetReady(peer uint32, ready bool) (Result, error) {
	if !m.active {
		return Result{}, ErrInactive
	}
	m.votes[peer] = ready
	return m.evaluate(), nil
}

func (m *Machine) Cancel() Result {
	if !m.active {
		return Result{}
	}
	m.reset()
	return Result{Changed: true}
}

// Remove drops a departed voter. An emptied vote is cancelled; otherwise the remaining
// voters may now all be ready.
func (m *Machine) Remove(peer uint32) Result {
	if !m.active {
		return Result{}
	}
	if _, ok := m.votes[peer]; !ok {
		return Result{}
	}
	delete(m.votes, peer)
	return m.evaluate()
}

func (m *Machine) evaluate() Result {
	if len(m.votes) == 0 {
		m.reset()
		return Result{Changed: true}
	}
	for _, ready := range m.votes {
		if !ready {
			return Result{Changed: true}
		}
	}
	target := m.target
	m.reset()
	return Result{Changed: true, Passed: true, Target: target}
}

func (m *Machine) reset() {
	m.active = false
	m.target = ""
	m.votes = map[uint32]bool{}
}
