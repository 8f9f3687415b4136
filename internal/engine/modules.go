package engine

import (
	"fmt"

	"github.com/starford/cmmgraph/internal/apperr"
	"github.com/starford/cmmgraph/internal/models"
	"github.com/starford/cmmgraph/internal/module"
)

// ListModules describes every registered module.
func (e *Engine) ListModules() []models.ModuleInfo {
	mods := e.rt.Registry.Modules()
	out := make([]models.ModuleInfo, 0, len(mods))
	for _, m := range mods {
		info := models.ModuleInfo{
			Signature:  m.Info.Signature,
			Name:       m.Info.Name,
			Version:    m.Info.Version.String(),
			APIVersion: m.Info.APIVersion.String(),
			Override:   m.Info.Override,
			Records:    make([]models.RecordRef, 0, len(m.APIs)),
		}
		for _, api := range m.APIs {
			info.Records = append(info.Records, models.RecordRef{
				Kind:         api.Kind().String(),
				Registration: api.Registration(),
			})
		}
		out = append(out, info)
	}
	return out
}

// QueryModules ranks the records of kind against pattern. An empty
// preferred falls back to the engine default.
func (e *Engine) QueryModules(kind, pattern, preferred string) ([]models.Candidate, error) {
	k, err := module.ParseKind(kind)
	if err != nil {
		return nil, fmt.Errorf("engine: query: %w: %w", apperr.ErrInvalid, err)
	}
	if preferred == "" {
		preferred = e.preferred
	}
	cands := e.rt.Registry.Query(k, module.Criteria{Pattern: pattern, Preferred: preferred})
	out := make([]models.Candidate, 0, len(cands))
	for _, c := range cands {
		out = append(out, models.Candidate{
			Signature:    c.Module.Info.Signature,
			Registration: c.API.Registration(),
			Raw:          int(c.Raw),
			Rank:         int(c.Rank),
			Preferred:    c.Preferred,
		})
	}
	return out, nil
}
