package engine

import (
	"context"
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/cmmgraph/internal/apperr"
	"github.com/starford/cmmgraph/internal/models"
	"github.com/starford/cmmgraph/internal/module"
	"github.com/starford/cmmgraph/internal/modules"
)

// ListDevices returns every device binding.
func (e *Engine) ListDevices(_ context.Context) ([]models.Device, error) {
	return e.db.ListDevices()
}

// GetDevice returns one device binding.
func (e *Engine) GetDevice(_ context.Context, id string) (*models.Device, error) {
	return e.db.GetDevice(id)
}

// BindDevice stores a device binding. The device class must be answered by
// a device configuration module. Graphs bound to the device are rebuilt on
// next use so the new preference takes effect.
func (e *Engine) BindDevice(_ context.Context, d models.Device) (*models.Device, error) {
	if d.Class == "" {
		d.Class = "monitor"
	}
	if err := validation.ValidateStruct(&d,
		validation.Field(&d.ID, validation.Required, validation.Length(1, 128)),
		validation.Field(&d.Profile, validation.Required),
		validation.Field(&d.Preferred, validation.Length(4, 4)),
	); err != nil {
		return nil, fmt.Errorf("engine: device: %w: %w", apperr.ErrInvalid, err)
	}
	if _, ok := e.rt.Registry.Select(module.KindDeviceConfig, module.Criteria{
		Data: modules.DeviceQuery{Class: d.Class},
	}); !ok {
		return nil, fmt.Errorf("engine: device class %q: %w", d.Class, apperr.ErrModuleNotFound)
	}
	if d.Preferred != "" {
		if _, ok := e.rt.Registry.Lookup(d.Preferred); !ok {
			return nil, fmt.Errorf("engine: preferred module %q: %w", d.Preferred, apperr.ErrModuleNotFound)
		}
	}

	d.UpdatedAt = time.Now().UTC()
	if err := e.db.UpsertDevice(d); err != nil {
		return nil, err
	}
	names, err := e.db.GraphsForDevice(d.ID)
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		e.unload(name)
	}
	return e.db.GetDevice(d.ID)
}

// UnbindDevice removes a device binding.
func (e *Engine) UnbindDevice(_ context.Context, id string) error {
	if err := e.db.DeleteDevice(id); err != nil {
		return err
	}
	names, err := e.db.GraphsForDevice(id)
	if err != nil {
		return err
	}
	for _, name := range names {
		e.unload(name)
	}
	return nil
}
