package modules

import (
	"github.com/starford/cmmgraph/internal/module"
)

// DeviceQuery is the criteria data understood by device configuration
// records.
type DeviceQuery struct {
	Class string
}

// monitorConfig answers device configuration queries for monitors.
type monitorConfig struct {
	module.Record
}

func newMonitorConfig() *module.Module {
	return &module.Module{
		Info: module.Info{
			Signature:  "oyx1",
			Name:       "monitor config",
			Version:    module.Version{1, 0, 0},
			APIVersion: module.CoreAPIVersion,
		},
		APIs: []module.API{&monitorConfig{Record: module.Record{
			Capability: module.KindDeviceConfig,
			Path:       "sw/starford/config/device.monitor",
		}}},
	}
}

// Check returns RankUnknown for data it cannot interpret.
func (m *monitorConfig) Check(c module.Criteria) module.Rank {
	q, ok := c.Data.(DeviceQuery)
	if !ok {
		return module.RankUnknown
	}
	if q.Class != "monitor" {
		return 0
	}
	return m.Record.Check(c)
}
