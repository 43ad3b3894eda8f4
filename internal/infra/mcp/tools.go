package mcp

import (
	"context"

	"github.com/bryanwahyu/sans-pilot/internal/application/analyses"
	"github.com/bryanwahyu/sans-pilot/internal/application/models"
	"github.com/bryanwahyu/sans-pilot/internal/application/uploads"
	"github.com/bryanwahyu/sans-pilot/internal/domain/analysis"
	"github.com/bryanwahyu/sans-pilot/internal/middleware"
)

const (
	toolNameDescribe          = "describe-possibilities"
	toolNameListModels        = "list-sans-models"
	toolNameModelParameters   = "get-model-parameters"
	toolNamePolydisperse      = "get-polydisperse-parameters"
	toolNameListAnalyses      = "list-analyses"
	toolNameListUploadedFiles = "list-uploaded-files"
	toolNameRunAnalysis       = "run-analysis"
	toolNameListRecentRuns    = "list-recent-runs"
)

var toolOrder = []string{
	toolNameDescribe,
	toolNameListModels,
	toolNameModelParameters,
	toolNamePolydisperse,
	toolNameListAnalyses,
	toolNameListUploadedFiles,
	toolNameRunAnalysis,
	toolNameListRecentRuns,
}

const (
	maxListLimit      = 1000
	defaultRunsLimit  = 20
	maxRunsLimit      = 200
	describeSummary   = "This server can analyze SANS (Small Angle Neutron Scattering) data. " +
		"Available tools: " +
		"list-sans-models (see available models), " +
		"get-model-parameters (get parameter specs for a model), " +
		"get-polydisperse-parameters (see which parameters accept a size distribution), " +
		"list-analyses (see available analysis types), " +
		"list-uploaded-files (find data files), " +
		"run-analysis (execute an analysis and get fit results + plot), " +
		"list-recent-runs (see your previous analysis runs)."
)

// Services are the use cases the tools call into.
type Services struct {
	Analyses *analyses.Service
	Uploads  *uploads.Service
	Models   *models.Service
}

type call struct {
	user string
	args map[string]any
}

type toolHandler func(context.Context, call) (toolCallResult, error)

type toolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
	handler     toolHandler
}

func buildToolRegistry(svc Services) (map[string]toolDefinition, []string) {
	h := handlers{svc: svc}
	defs := []toolDefinition{
		{
			Name:        toolNameDescribe,
			Description: "Describe the capabilities of this SANS data analysis server.",
			InputSchema: emptySchema(),
			handler:     h.describe,
		},
		{
			Name:        toolNameListModels,
			Description: "List available SANS models which can be used for fitting data.",
			InputSchema: emptySchema(),
			handler:     h.listModels,
		},
		{
			Name: toolNameModelParameters,
			Description: "Get parameters for a SANS model. " +
				"Returns dict of parameter names with their default value, min, max, and vary flag.",
			InputSchema: modelNameSchema(),
			handler:     h.modelParameters,
		},
		{
			Name:        toolNamePolydisperse,
			Description: "List the parameters of a SANS model that support polydispersity.",
			InputSchema: modelNameSchema(),
			handler:     h.polydisperseParameters,
		},
		{
			Name:        toolNameListAnalyses,
			Description: "List available analysis types with their parameters.",
			InputSchema: emptySchema(),
			handler:     h.listAnalyses,
		},
		{
			Name: toolNameListUploadedFiles,
			Description: "List uploaded data files, newest first. " +
				"Optional: filter by extensions (e.g. ['csv']), limit results.",
			InputSchema: listFilesInputSchema(),
			handler:     h.listUploadedFiles,
		},
		{
			Name: toolNameRunAnalysis,
			Description: "Run a SANS analysis. " +
				"Args: name (analysis id from list-analyses), " +
				"parameters (dict with input_csv and analysis-specific options like model, engine, param_overrides). " +
				"Returns fit results and a plot image.",
			InputSchema: runAnalysisInputSchema(),
			handler:     h.runAnalysis,
		},
		{
			Name:        toolNameListRecentRuns,
			Description: "List your most recent analysis runs, newest first.",
			InputSchema: limitSchema(defaultRunsLimit, maxRunsLimit),
			handler:     h.listRecentRuns,
		},
	}

	registry := make(map[string]toolDefinition, len(defs))
	for _, d := range defs {
		registry[d.Name] = d
	}
	order := make([]string, 0, len(toolOrder))
	for _, name := range toolOrder {
		if _, ok := registry[name]; ok {
			order = append(order, name)
		}
	}
	return registry, order
}

type handlers struct {
	svc Services
}

func (h handlers) describe(_ context.Context, c call) (toolCallResult, error) {
	if err := assertNoUnknownArguments(c.args); err != nil {
		return toolCallResult{}, err
	}
	return plainText(describeSummary), nil
}

func (h handlers) listModels(ctx context.Context, c call) (toolCallResult, error) {
	if err := assertNoUnknownArguments(c.args); err != nil {
		return toolCallResult{}, err
	}
	names, err := h.svc.Models.ListModels(ctx)
	if err != nil {
		return toolCallResult{}, err
	}
	return textResult(names, map[string]any{"models": names})
}

func (h handlers) modelParameters(ctx context.Context, c call) (toolCallResult, error) {
	if err := assertNoUnknownArguments(c.args, "model_name"); err != nil {
		return toolCallResult{}, err
	}
	model, err := parseRequiredString(c.args, "model_name")
	if err != nil {
		return toolCallResult{}, err
	}
	params, err := h.svc.Models.Parameters(ctx, model)
	if err != nil {
		return toolCallResult{}, err
	}
	view := make(map[string]any, len(params))
	for name, p := range params {
		view[name] = specView(p)
	}
	return textResult(view, view)
}

func (h handlers) polydisperseParameters(ctx context.Context, c call) (toolCallResult, error) {
	if err := assertNoUnknownArguments(c.args, "model_name"); err != nil {
		return toolCallResult{}, err
	}
	model, err := parseRequiredString(c.args, "model_name")
	if err != nil {
		return toolCallResult{}, err
	}
	names, err := h.svc.Models.PolydisperseParameters(ctx, model)
	if err != nil {
		return toolCallResult{}, err
	}
	return textResult(names, map[string]any{"parameters": names})
}

func (h handlers) listAnalyses(_ context.Context, c call) (toolCallResult, error) {
	if err := assertNoUnknownArguments(c.args); err != nil {
		return toolCallResult{}, err
	}
	list := h.svc.Analyses.ListAnalyses()
	return textResult(list, list)
}

type uploadedFileView struct {
	OriginalName string `json:"original_name"`
	Name         string `json:"name"`
	RelativePath string `json:"relative_path"`
	Bytes        int64  `json:"bytes"`
	CreatedTime  string `json:"created_time"`
}

func (h handlers) listUploadedFiles(_ context.Context, c call) (toolCallResult, error) {
	if err := assertNoUnknownArguments(c.args, "extensions", "limit"); err != nil {
		return toolCallResult{}, err
	}
	extensions, err := parseOptionalStringSlice(c.args, "extensions")
	if err != nil {
		return toolCallResult{}, err
	}
	limit, err := parseOptionalInteger(c.args, "limit", uploads.DefaultListLimit)
	if err != nil {
		return toolCallResult{}, err
	}
	limit = middleware.ValidateLimit(limit, uploads.DefaultListLimit, maxListLimit)

	files, err := h.svc.Uploads.List(c.user, extensions, limit)
	if err != nil {
		return toolCallResult{}, err
	}
	view := make([]uploadedFileView, 0, len(files))
	for _, f := range files {
		view = append(view, uploadedFileView{
			OriginalName: f.OriginalName,
			Name:         f.Name,
			RelativePath: f.RelativePath,
			Bytes:        f.Bytes,
			CreatedTime:  f.CreatedTime.Format("2006-01-02T15:04:05.000Z07:00"),
		})
	}
	return textResult(view, map[string]any{"files": view})
}

func (h handlers) runAnalysis(ctx context.Context, c call) (toolCallResult, error) {
	if err := assertNoUnknownArguments(c.args, "name", "parameters"); err != nil {
		return toolCallResult{}, err
	}
	name, err := parseRequiredString(c.args, "name")
	if err != nil {
		return toolCallResult{}, err
	}
	params, err := parseOptionalObject(c.args, "parameters")
	if err != nil {
		return toolCallResult{}, err
	}

	out, err := h.svc.Analyses.Run(ctx, analyses.RunCommand{
		Name:       name,
		Parameters: analysis.Parameters(params),
		UserID:     c.user,
	})
	if err != nil {
		return toolCallResult{}, err
	}
	content, err := responseContent(out.Response)
	if err != nil {
		return toolCallResult{}, err
	}
	return toolCallResult{
		Content: content,
		StructuredContent: map[string]any{
			"analysis":   out.Run.Analysis,
			"run_token":  out.Run.Token,
			"output_dir": out.Run.OutputDir,
			"artifacts":  out.Response.Artifacts(),
			"details":    out.Details,
		},
	}, nil
}

func (h handlers) listRecentRuns(ctx context.Context, c call) (toolCallResult, error) {
	if err := assertNoUnknownArguments(c.args, "limit"); err != nil {
		return toolCallResult{}, err
	}
	limit, err := parseOptionalInteger(c.args, "limit", defaultRunsLimit)
	if err != nil {
		return toolCallResult{}, err
	}
	limit = middleware.ValidateLimit(limit, defaultRunsLimit, maxRunsLimit)
	recs, err := h.svc.Analyses.RecentRuns(ctx, c.user, limit)
	if err != nil {
		return toolCallResult{}, err
	}
	return textResult(recs, map[string]any{"runs": recs})
}

func emptySchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           map[string]any{},
	}
}

func modelNameSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"model_name": map[string]any{"type": "string", "description": "SANS model name, e.g. cylinder"},
		},
		"required": []string{"model_name"},
	}
}

func limitSchema(def, maxLimit int) map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"limit": map[string]any{"type": "integer", "minimum": 1, "maximum": maxLimit, "default": def},
		},
	}
}

func listFilesInputSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"extensions": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "File suffixes to keep, with or without the dot, e.g. ['csv']",
			},
			"limit": map[string]any{"type": "integer", "minimum": 1, "maximum": maxListLimit, "default": uploads.DefaultListLimit},
		},
	}
}

func runAnalysisInputSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"name": map[string]any{"type": "string", "description": "Analysis id from list-analyses"},
			"parameters": map[string]any{
				"type":                 "object",
				"additionalProperties": true,
				"description":          "input_csv plus analysis-specific options",
			},
		},
		"required": []string{"name"},
	}
}

// ToolNames returns the registered tool names in listing order.
func (s *Server) ToolNames() []string {
	return append([]string(nil), s.order...)
}
