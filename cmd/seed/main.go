package main

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/levenlabs/go-lflag"

	"github.com/raterudder/loadshift/pkg/homeassistant"
	"github.com/raterudder/loadshift/pkg/log"
	"github.com/raterudder/loadshift/pkg/storage"
	"github.com/raterudder/loadshift/pkg/types"
)

// seed writes a default value for every entity the controller reads that is
// missing from the store. Existing values are left alone.
func main() {
	ha := homeassistant.Configured()
	s := storage.Configured(ha)
	devices := types.DefaultDevices()
	lflag.JSON(&devices, "devices", devices, "JSON list of device descriptors")
	lflag.Configure()

	ctx := context.Background()

	entities := types.DefaultEntities()
	defaults := map[string]string{
		entities.CurrentPrice: "25",
		entities.MinimumPrice: "25",
	}
	priced := map[string]bool{
		entities.CurrentPrice: true,
		entities.MinimumPrice: true,
	}
	if entities.DST != "" {
		defaults[entities.DST] = "off"
	}
	for _, d := range devices {
		defaults[d.StartEntity] = "00:00:00"
		defaults[d.StopEntity] = "07:00:00"
		defaults[d.OverrideEntity] = "off"
		defaults[d.ThresholdEntity] = "9"
		priced[d.ThresholdEntity] = true
		defaults[d.MinSlotsEntity] = "0"
	}

	var failed bool
	for entity, value := range defaults {
		if entity == "" {
			continue
		}
		ctx := log.WithAttrs(ctx, slog.String("entity", entity))
		_, err := s.GetState(ctx, entity)
		if err == nil {
			log.Ctx(ctx).DebugContext(ctx, "entity exists, skipping")
			continue
		}
		if !errors.Is(err, storage.ErrNotFound) {
			log.Ctx(ctx).ErrorContext(ctx, "failed to read entity", slog.Any("error", err))
			failed = true
			continue
		}
		var attrs map[string]any
		if priced[entity] {
			attrs = map[string]any{"unit_of_measurement": types.PriceUnit}
		}
		if err := s.SetState(ctx, entity, value, attrs); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to seed entity", slog.Any("error", err))
			failed = true
			continue
		}
		log.Ctx(ctx).InfoContext(ctx, "seeded entity", slog.String("value", value))
	}
	if err := s.Close(); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to close storage", slog.Any("error", err))
	}
	if failed {
		os.Exit(1)
	}
}
