package security

import (
	"log"
	"strings"

	"github.com/go-gl/mathgl/mgl64"
)

// Backend is the second-stage cheat detector consulted after the built-in heuristics.
// A nil error passes; a *ViolationError rejects; any other error is logged and passes.
type Backend interface {
	Name() string
	Register(peer uint32) error
	Unregister(peer uint32)
	UpdatePosition(peer uint32, pos mgl64.Vec3)
	ValidatePosition(peer uint32, pos mgl64.Vec3, dt float64) error
	ValidateDamage(peer uint32, target int32, damage, distance float64) error
	ValidateHealth(peer uint32, oldHealth, newHealth, maxHealth float64) error
	Close() error
}

// Permissive accepts everything.
type Permissive struct{}

func (Permissive) Name() string                                           { return "permissive" }
func (Permissive) Register(uint32) error                                  { return nil }
func (Permissive) Unregister(uint32)                                      {}
func (Permissive) UpdatePosition(uint32, mgl64.Vec3)                      {}
func (Permissive) ValidatePosition(uint32, mgl64.Vec3, float64) error     { return nil }
func (Permissive) ValidateDamage(uint32, int32, float64, float64) error   { return nil }
func (Permissive) ValidateHealth(uint32, float64, float64, float64) error { return nil }
func (Permissive) Close() error                                           { return nil }

// OpenBackend selects a backend by name: "permissive", "builtin" or
// "plugin:<path to .so>". Anything that fails to load falls back to Permissive.
func OpenBackend(backend, serverKey string, logger *log.Logger) Backend {
	if logger == nil {
		logger = log.Default()
	}
	backend = strings.TrimSpace(backend)
	switch {
	case backend == "" || backend == "permissive":
		logger.Printf("guard: permissive backend")
		return Permissive{}
	case backend == "builtin":
		logger.Printf("guard: builtin backend")
		return NewBuiltin()
	case strings.HasPrefix(backend, "plugin:"):
		path := strings.TrimPrefix(backend, "plugin:")
		b, err := OpenPlugin(path, serverKey)
		if err != nil {
			logger.Printf("guard: plugin %s unavailable, using permissive: %v", path, err)
			return Permissive{}
		}
		logger.Printf("guard: plugin backend %s (%s)", b.Name(), path)
		return b
	default:
		logger.Printf("guard: unknown backend %q, using permissive", backend)
		return Permissive{}
	}
}
