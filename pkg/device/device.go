// Package device switches large loads on and off.
package device

import (
	"context"
	"fmt"

	"github.com/levenlabs/go-lflag"

	"github.com/raterudder/loadshift/pkg/homeassistant"
)

// Switch turns a device on or off. Both calls must be idempotent; the
// evaluator sends a command every time it runs, not only on transitions.
type Switch interface {
	TurnOn(ctx context.Context, id string) error
	TurnOff(ctx context.Context, id string) error
}

// Configured sets up the Switch provider based on flags.
func Configured(ha *homeassistant.Client) Switch {
	provider := lflag.String("device-provider", "homeassistant", "Device control provider to use (available: homeassistant, mqtt, dryrun)")

	var p struct{ Switch }

	mq := configuredMQTT()

	lflag.Do(func() {
		switch *provider {
		case "homeassistant":
			if err := ha.Validate(); err != nil {
				panic(fmt.Sprintf("homeassistant validation failed: %v", err))
			}
			p.Switch = NewHomeAssistant(ha)
		case "mqtt":
			if err := mq.Validate(); err != nil {
				panic(fmt.Sprintf("mqtt validation failed: %v", err))
			}
			p.Switch = mq
		case "dryrun":
			p.Switch = NewDryRun()
		default:
			panic(fmt.Sprintf("unknown device provider: %s", *provider))
		}
	})

	return &p
}
