package reviewwatcher

import (
	"fmt"

	"github.com/c360studio/semstreams/component"
)

// RegistryInterface defines the minimal interface needed for registration.
type RegistryInterface interface {
	RegisterWithConfig(component.RegistrationConfig) error
}

// Register registers the review watcher component with the given registry.
func Register(registry RegistryInterface) error {
	if registry == nil {
		return fmt.Errorf("registry cannot be nil")
	}
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        "review-watcher",
		Factory:     NewComponent,
		Schema:      watcherSchema,
		Type:        "processor",
		Protocol:    "survey",
		Domain:      "research",
		Description: "Watches review decisions and resumes or terminates paused workflows",
		Version:     "0.1.0",
	})
}
