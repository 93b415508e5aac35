package services

import (
	"github.com/ekaya-inc/ekaya-dashboards/pkg/models"
)

// ExtractGlobalParameters links every global parameter of the dashboard's
// queries to one dashboard-level parameter per name.
//
// Widgets are visited rows top-to-bottom, left-to-right within a row, and each
// query's parameters in definition order. The first descriptor seen for a name
// seeds the value with a copy; every descriptor with that name, the first
// included, is appended to Locals. The dashboard is not modified.
func ExtractGlobalParameters(dashboard *models.Dashboard) []*models.GlobalParameter {
	globals := make([]*models.GlobalParameter, 0)
	if dashboard == nil {
		return globals
	}

	byName := make(map[string]*models.GlobalParameter)
	dashboard.EachWidget(func(w *models.Widget) {
		query := w.GetQuery()
		if query == nil {
			return
		}

		for _, param := range query.ParameterDefs() {
			if !param.Global {
				continue
			}

			global, ok := byName[param.Name]
			if !ok {
				global = &models.GlobalParameter{
					Parameter: param.Clone(),
					Locals:    make([]*models.Parameter, 0, 1),
				}
				byName[param.Name] = global
				globals = append(globals, global)
			}
			global.Locals = append(global.Locals, param)
		}
	})

	return globals
}

// PropagateGlobalParameters writes each global's value into all of its locals.
// Each local receives its own copy.
func PropagateGlobalParameters(globals []*models.GlobalParameter) {
	for _, global := range globals {
		for _, local := range global.Locals {
			local.Value = models.CloneValue(global.Value)
		}
	}
}

// findGlobal returns the global parameter named name, or nil.
func findGlobal(globals []*models.GlobalParameter, name string) *models.GlobalParameter {
	for _, g := range globals {
		if g.Name == name {
			return g
		}
	}
	return nil
}
