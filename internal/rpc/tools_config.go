package rpc

import (
	"context"

	"gopkg.in/yaml.v3"

	"github.com/contextkeep/ltmc/internal/platform/ltmerr"
)

func configTool(deps Deps) *Tool {
	return &Tool{
		Name:        "config",
		Description: "Runtime configuration: schema, validation, retrieval weights, redacted export.",
		WriteShaped: true,
		Actions: map[string]Handler{
			"get_schema":            configGetSchema(deps),
			"validate_config":       configValidate(deps),
			"get_retrieval_weights": configGetWeights(deps),
			"set_retrieval_weights": configSetWeights(deps),
			"export_config":         configExport(deps),
		},
	}
}

func configGetSchema(deps Deps) Handler {
	return func(ctx context.Context, args map[string]any) (map[string]any, error) {
		schema := deps.Config.Schema()
		return map[string]any{"options": schema, "count": len(schema)}, nil
	}
}

func configValidate(deps Deps) Handler {
	return func(ctx context.Context, args map[string]any) (map[string]any, error) {
		issues := deps.Config.Validate()
		if issues == nil {
			issues = []string{}
		}
		return map[string]any{"valid": len(issues) == 0, "issues": issues}, nil
	}
}

func configGetWeights(deps Deps) Handler {
	return func(ctx context.Context, args map[string]any) (map[string]any, error) {
		w, err := deps.Retrieval.Weights(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"weights": w}, nil
	}
}

// configSetWeights overrides only the coefficients the caller names; the
// rest keep their stored values.
func configSetWeights(deps Deps) Handler {
	return func(ctx context.Context, args map[string]any) (map[string]any, error) {
		w, err := deps.Retrieval.Weights(ctx)
		if err != nil {
			return nil, err
		}
		supplied := false
		for key, target := range map[string]*float64{
			"alpha":   &w.Alpha,
			"beta":    &w.Beta,
			"gamma":   &w.Gamma,
			"delta":   &w.Delta,
			"epsilon": &w.Epsilon,
		} {
			v, ok := args[key]
			if !ok {
				continue
			}
			f, ok := v.(float64)
			if !ok {
				return nil, ltmerr.Newf(ltmerr.KindInvalidParams, "config.set_retrieval_weights",
					"argument %q must be a number", key)
			}
			*target = f
			supplied = true
		}
		if !supplied {
			return nil, ltmerr.Newf(ltmerr.KindInvalidParams, "config.set_retrieval_weights",
				"at least one of alpha, beta, gamma, delta, epsilon is required")
		}
		if err := deps.Retrieval.SetWeights(ctx, w); err != nil {
			return nil, err
		}
		return map[string]any{"weights": w}, nil
	}
}

func configExport(deps Deps) Handler {
	return func(ctx context.Context, args map[string]any) (map[string]any, error) {
		exported := deps.Config.Export()
		switch format := optStringArg(args, "format", "json"); format {
		case "json":
			return map[string]any{"config": exported, "format": "json"}, nil
		case "yaml":
			raw, err := yaml.Marshal(exported)
			if err != nil {
				return nil, ltmerr.New(ltmerr.KindInternal, "config.export_config", err)
			}
			return map[string]any{"config": string(raw), "format": "yaml"}, nil
		default:
			return nil, ltmerr.Newf(ltmerr.KindInvalidParams, "config.export_config",
				"format %q is not one of json, yaml", format)
		}
	}
}
