package task

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"neuroga/internal/evo"
)

var (
	ErrTaskExists   = errors.New("task already registered")
	ErrTaskNotFound = errors.New("task not found")
)

// Params carries optional task inputs. Tasks ignore fields they do not use.
type Params struct {
	Input  []float64
	Target []float64
}

// Constructor validates a topology against a task and returns its factory.
type Constructor func(topology []int, params Params) (evo.TaskFactory, error)

var registry = struct {
	mu sync.RWMutex
	m  map[string]Constructor
}{
	m: make(map[string]Constructor),
}

func init() {
	mustRegister("target", newTarget)
	mustRegister("xor", newXOR)
}

func Register(name string, ctor Constructor) error {
	name = normalize(name)
	if name == "" {
		return errors.New("task name is required")
	}
	if ctor == nil {
		return fmt.Errorf("task %s: constructor is required", name)
	}

	registry.mu.Lock()
	defer registry.mu.Unlock()
	if _, ok := registry.m[name]; ok {
		return fmt.Errorf("%w: %s", ErrTaskExists, name)
	}
	registry.m[name] = ctor
	return nil
}

func mustRegister(name string, ctor Constructor) {
	if err := Register(name, ctor); err != nil {
		panic(err)
	}
}

// New builds the factory for a registered task.
func New(name string, topology []int, params Params) (evo.TaskFactory, error) {
	registry.mu.RLock()
	ctor, ok := registry.m[normalize(name)]
	registry.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, name)
	}
	return ctor(topology, params)
}

func Names() []string {
	registry.mu.RLock()
	defer registry.mu.RUnlock()

	names := make([]string, 0, len(registry.m))
	for name := range registry.m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalize(name string) string {
	return strings.TrimSpace(strings.ToLower(name))
}

func checkIO(name string, topology []int, inputs, outputs int) error {
	if len(topology) < 2 {
		return fmt.Errorf("%s: topology needs at least two layers", name)
	}
	if inputs > 0 && topology[0] != inputs {
		return fmt.Errorf("%s: requires %d inputs, topology has %d", name, inputs, topology[0])
	}
	if outputs > 0 && topology[len(topology)-1] != outputs {
		return fmt.Errorf("%s: requires %d outputs, topology has %d", name, outputs, topology[len(topology)-1])
	}
	return nil
}
