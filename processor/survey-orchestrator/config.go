package surveyorchestrator

import (
	"fmt"
	"reflect"

	"github.com/c360studio/semstreams/component"
)

// orchestratorSchema defines the configuration schema.
var orchestratorSchema = component.GenerateConfigSchema(reflect.TypeOf(Config{}))

// Config holds configuration for the survey orchestrator component.
type Config struct {
	// StreamName is the JetStream stream for consuming RFQ submissions.
	StreamName string `json:"stream_name" schema:"type:string,description:JetStream stream for RFQ submissions,category:basic,default:SURVEY"`

	// ConsumerName is the durable consumer name for submission consumption.
	ConsumerName string `json:"consumer_name" schema:"type:string,description:Durable consumer name for submission consumption,category:basic,default:survey-orchestrator"`

	// SubmitSubject is the subject pattern for RFQ submissions.
	SubmitSubject string `json:"submit_subject" schema:"type:string,description:Subject pattern for RFQ submissions,category:basic,default:survey.submit.rfq"`

	// ConfigPath overrides config discovery for engine wiring.
	ConfigPath string `json:"config_path,omitempty" schema:"type:string,description:Path to surveygen config file,category:advanced"`

	// Ports contains input/output port definitions.
	Ports *component.PortConfig `json:"ports,omitempty" schema:"type:ports,description:Input/output port definitions,category:basic"`
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		StreamName:    "SURVEY",
		ConsumerName:  "survey-orchestrator",
		SubmitSubject: "survey.submit.rfq",
		Ports: &component.PortConfig{
			Inputs: []component.PortDefinition{
				{
					Name:        "rfq-submissions",
					Type:        "jetstream",
					Subject:     "survey.submit.rfq",
					StreamName:  "SURVEY",
					Description: "Receive RFQ submissions",
					Required:    true,
				},
			},
			Outputs: []component.PortDefinition{
				{
					Name:        "progress-events",
					Type:        "nats",
					Subject:     "survey.progress.>",
					Description: "Publish workflow progress events",
					Required:    false,
				},
			},
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.StreamName == "" {
		return fmt.Errorf("stream_name is required")
	}
	if c.ConsumerName == "" {
		return fmt.Errorf("consumer_name is required")
	}
	if c.SubmitSubject == "" {
		return fmt.Errorf("submit_subject is required")
	}
	return nil
}
