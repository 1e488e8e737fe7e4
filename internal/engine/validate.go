package engine

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/user/scraper-service/internal/entity"
	"github.com/user/scraper-service/internal/pipeline"
)

// Validate checks the structural invariants of a workflow definition without
// executing anything: field-level constraints, the init-first rule, step id
// uniqueness, per-kind config shape, provider registration and post-processing
// stage configuration. The report lists every violation found.
func (e *Engine) Validate(wf *entity.Workflow) *entity.ValidationReport {
	report := &entity.ValidationReport{}
	if wf == nil {
		report.Add("workflow", "workflow definition is required")
		return report
	}

	e.validateStruct(report, "", wf)

	if len(wf.Steps) > 0 {
		if wf.Steps[0].Kind != entity.StepInit {
			report.Add("steps[0].kind", "first step must be of kind init")
		}
		seen := make(map[string]struct{}, len(wf.Steps))
		for i := range wf.Steps {
			step := &wf.Steps[i]
			field := fmt.Sprintf("steps[%d]", i)

			if step.ID != "" {
				if _, dup := seen[step.ID]; dup {
					report.Add(field+".id", fmt.Sprintf("duplicate step id %q", step.ID))
				}
				seen[step.ID] = struct{}{}
			}
			if !step.Kind.Valid() {
				report.Add(field+".kind", fmt.Sprintf("unknown step kind %q", step.Kind))
				continue
			}
			e.validateStepConfig(report, field, step)
		}
	}

	if wf.Scraping.Provider != "" && !e.registry.HasScraper(wf.Scraping.Provider) {
		report.Add("scraping.provider",
			fmt.Sprintf("scraping provider %q is not registered (available: %v)", wf.Scraping.Provider, e.registry.Scrapers()))
	}
	if wf.Storage.Provider != "" && !e.registry.HasStorage(wf.Storage.Provider) {
		report.Add("storage.provider",
			fmt.Sprintf("storage provider %q is not registered (available: %v)", wf.Storage.Provider, e.registry.Storages()))
	}

	if _, err := pipeline.Build(wf.PostProcessing); err != nil {
		report.Add("post_processing", err.Error())
	}
	return report
}

// validateStepConfig checks that the config payload matches the step kind and
// satisfies its field constraints.
func (e *Engine) validateStepConfig(report *entity.ValidationReport, field string, step *entity.Step) {
	if step.Config == nil {
		report.Add(field+".config", fmt.Sprintf("%s step requires a config payload", step.Kind))
		return
	}

	var (
		cfg any
		ok  bool
	)
	switch step.Kind {
	case entity.StepInit:
		cfg, ok = step.Config.(entity.InitConfig)
	case entity.StepDiscover:
		cfg, ok = step.Config.(entity.DiscoverConfig)
	case entity.StepExtract:
		cfg, ok = step.Config.(entity.ExtractConfig)
	case entity.StepPaginate:
		cfg, ok = step.Config.(entity.PaginateConfig)
	}
	if !ok {
		report.Add(field+".config", fmt.Sprintf("config payload does not match step kind %q", step.Kind))
		return
	}
	e.validateStruct(report, field+".config", cfg)
}

// validateStruct runs tag-based field validation and folds the outcome into
// the report.
func (e *Engine) validateStruct(report *entity.ValidationReport, prefix string, v any) {
	err := e.vld.Struct(v)
	if err == nil {
		return
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		report.Add(prefix, err.Error())
		return
	}
	for _, fe := range verrs {
		field := fe.Namespace()
		if prefix != "" {
			field = prefix + "." + fe.Field()
		}
		msg := fmt.Sprintf("failed %q constraint", fe.Tag())
		if fe.Param() != "" {
			msg = fmt.Sprintf("failed %q=%s constraint", fe.Tag(), fe.Param())
		}
		report.Add(field, msg)
	}
}
