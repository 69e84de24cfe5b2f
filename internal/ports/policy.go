package ports

import "fmt"

// DispatchMode selects how the registry runs subscriber handlers.
type DispatchMode string

const (
	// DispatchSequential runs handlers on the publishing goroutine.
	DispatchSequential DispatchMode = "sequential"
	// DispatchPerHandler gives every subscription its own mailbox and goroutine.
	DispatchPerHandler DispatchMode = "per_handler"
	// DispatchPool pins each subscription to one of a fixed set of workers.
	DispatchPool DispatchMode = "pool"
)

type DispatchPolicy struct {
	Mode    DispatchMode `yaml:"dispatch"`
	Workers int          `yaml:"workers"`
	// MaxBatch bounds how many deliveries a worker drains per wakeup.
	MaxBatch int `yaml:"max_batch"`
}

func ParseDispatchMode(s string) (DispatchMode, error) {
	switch DispatchMode(s) {
	case DispatchSequential, DispatchPerHandler, DispatchPool:
		return DispatchMode(s), nil
	case "":
		return DispatchPerHandler, nil
	default:
		return "", fmt.Errorf("unknown dispatch mode %q", s)
	}
}
