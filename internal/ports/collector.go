package ports

import "github.com/ghalamif/AegisCDSS/internal/domain"

// Collector produces channel updates from a device or other telemetry source.
type Collector interface {
	Start(out chan<- *domain.Update) error
	Stop() error
}
