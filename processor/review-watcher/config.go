package reviewwatcher

import (
	"fmt"
	"reflect"

	"github.com/c360studio/semstreams/component"

	"github.com/c360studio/surveygen/storage"
)

// watcherSchema defines the configuration schema.
var watcherSchema = component.GenerateConfigSchema(reflect.TypeOf(Config{}))

// Config holds configuration for the review watcher component.
type Config struct {
	// ReviewsBucket is the KV bucket name to watch for review updates.
	ReviewsBucket string `json:"reviews_bucket" schema:"type:string,description:KV bucket to watch for review updates,category:basic,default:SURVEYGEN_REVIEWS"`

	// ConfigPath overrides config discovery for engine wiring.
	ConfigPath string `json:"config_path,omitempty" schema:"type:string,description:Path to surveygen config file,category:advanced"`

	// Ports contains input/output port definitions.
	Ports *component.PortConfig `json:"ports,omitempty" schema:"type:ports,description:Input/output port definitions,category:basic"`
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		ReviewsBucket: storage.BucketReviews,
		Ports: &component.PortConfig{
			Inputs: []component.PortDefinition{
				{
					Name:        "review-updates",
					Type:        "kv",
					Description: "Watch for review status changes",
					Required:    true,
				},
			},
			Outputs: []component.PortDefinition{
				{
					Name:        "review-events",
					Type:        "nats",
					Subject:     "survey.events.review.>",
					Description: "Publish review lifecycle events",
					Required:    false,
				},
			},
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.ReviewsBucket == "" {
		return fmt.Errorf("reviews_bucket is required")
	}
	return nil
}
