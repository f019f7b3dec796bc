package storage

import (
	"context"
	"fmt"

	"github.com/levenlabs/go-lflag"

	"github.com/raterudder/loadshift/pkg/homeassistant"
)

// Configured sets up the Store provider based on flags.
func Configured(ha *homeassistant.Client) Store {
	provider := lflag.String("storage-provider", "homeassistant", "Storage provider to use (available: homeassistant, firestore, memory)")

	var p struct{ Store }

	fs := configuredFirestore()

	lflag.Do(func() {
		switch *provider {
		case "homeassistant":
			if err := ha.Validate(); err != nil {
				panic(fmt.Sprintf("homeassistant validation failed: %v", err))
			}
			p.Store = NewHomeAssistant(ha)
		case "firestore":
			if err := fs.Validate(); err != nil {
				panic(fmt.Sprintf("firestore validation failed: %v", err))
			}
			p.Store = fs
			if err := fs.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("firestore init failed: %v", err))
			}
		case "memory":
			p.Store = NewMemory(nil)
		default:
			panic(fmt.Sprintf("unknown storage provider: %s", *provider))
		}
	})

	return &p
}
