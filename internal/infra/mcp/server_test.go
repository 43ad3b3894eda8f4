package mcp

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/bryanwahyu/sans-pilot/internal/application/analyses"
	"github.com/bryanwahyu/sans-pilot/internal/application/models"
	"github.com/bryanwahyu/sans-pilot/internal/application/uploads"
	"github.com/bryanwahyu/sans-pilot/internal/catalog"
	"github.com/bryanwahyu/sans-pilot/internal/infra/db/memory"
	"github.com/bryanwahyu/sans-pilot/internal/infra/fitter/fake"
	"github.com/bryanwahyu/sans-pilot/internal/middleware"
)

const sampleCSV = "q,I,dI\n0.01,120.5,1.2\n0.02,80.1,0.9\n0.05,20.3,0.4\n0.1,3.2,0.1\n"

type harness struct {
	srv     *Server
	uploads string
	runs    string
}

func newHarness(t *testing.T) harness {
	t.Helper()
	return newTracedHarness(t, nil)
}

// newTracedHarness records the spans of both the server and the dispatcher
// into sr when sr is not nil.
func newTracedHarness(t *testing.T, sr *tracetest.SpanRecorder) harness {
	t.Helper()
	var (
		dispatcherOpts []analyses.DispatcherOption
		serverOpts     []Option
	)
	if sr != nil {
		tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
		dispatcherOpts = append(dispatcherOpts, analyses.WithTracer(tp.Tracer("analyses")))
		serverOpts = append(serverOpts, WithTracer(tp.Tracer("mcp")))
	}
	root := t.TempDir()
	h := harness{uploads: filepath.Join(root, "uploads"), runs: filepath.Join(root, "runs")}
	require.NoError(t, os.MkdirAll(h.uploads, 0o755))

	fitters := fake.NewFactory()
	registry := analyses.NewRegistry(catalog.Manifest(catalog.Deps{Fitters: fitters}), nil)
	resolver := uploads.NewResolver(h.uploads)
	h.srv = NewServer(Services{
		Analyses: &analyses.Service{
			Registry:   registry,
			Dispatcher: analyses.NewDispatcher(registry, 2, dispatcherOpts...),
			Allocator:  analyses.NewAllocator(h.runs, nil),
			Resolver:   resolver,
			Ledger:     memory.NewRunRepository(memory.DefaultCapacity),
		},
		Uploads: uploads.NewService(resolver),
		Models:  models.NewService(fitters),
	}, serverOpts...)
	return h
}

func (h harness) write(t *testing.T, rel, content string) {
	t.Helper()
	path := filepath.Join(h.uploads, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func rpc(t *testing.T, ctx context.Context, srv *Server, method string, params any) map[string]any {
	t.Helper()
	raw, err := json.Marshal(map[string]any{"jsonrpc": "2.0", "id": 1, "method": method, "params": params})
	require.NoError(t, err)
	resp := srv.Handle(ctx, raw)
	require.NotNil(t, resp)
	data, err := json.Marshal(resp)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func callTool(t *testing.T, ctx context.Context, srv *Server, name string, args map[string]any) map[string]any {
	t.Helper()
	out := rpc(t, ctx, srv, "tools/call", map[string]any{"name": name, "arguments": args})
	require.Nil(t, out["error"])
	result, ok := out["result"].(map[string]any)
	require.True(t, ok)
	return result
}

func errorCodeOf(t *testing.T, result map[string]any) string {
	t.Helper()
	require.Equal(t, true, result["isError"])
	sc := result["structuredContent"].(map[string]any)
	return sc["error"].(map[string]any)["code"].(string)
}

func TestInitializeEchoesProtocolVersion(t *testing.T) {
	h := newHarness(t)
	out := rpc(t, context.Background(), h.srv, "initialize", map[string]any{"protocolVersion": "2024-11-05"})
	result := out["result"].(map[string]any)
	assert.Equal(t, "2024-11-05", result["protocolVersion"])
	assert.Equal(t, "sans-pilot", result["serverInfo"].(map[string]any)["name"])

	out = rpc(t, context.Background(), h.srv, "initialize", map[string]any{})
	assert.Equal(t, defaultProtocolVersion, out["result"].(map[string]any)["protocolVersion"])
}

func TestToolsListOrder(t *testing.T) {
	h := newHarness(t)
	out := rpc(t, context.Background(), h.srv, "tools/list", nil)
	tools := out["result"].(map[string]any)["tools"].([]any)
	require.Len(t, tools, len(toolOrder))
	for i, tool := range tools {
		def := tool.(map[string]any)
		assert.Equal(t, toolOrder[i], def["name"])
		assert.NotEmpty(t, def["description"])
		assert.Equal(t, "object", def["inputSchema"].(map[string]any)["type"])
	}
	assert.Equal(t, toolOrder, h.srv.ToolNames())
}

func TestUnknownMethodAndTool(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	out := rpc(t, ctx, h.srv, "resources/list", nil)
	require.NotNil(t, out["error"])
	assert.EqualValues(t, codeMethodNotFound, out["error"].(map[string]any)["code"])

	result := callTool(t, ctx, h.srv, "does-not-exist", nil)
	assert.Equal(t, "UNKNOWN_TOOL", errorCodeOf(t, result))
}

func TestParseErrorAndNotification(t *testing.T) {
	h := newHarness(t)
	resp := h.srv.Handle(context.Background(), []byte("{not json"))
	require.NotNil(t, resp)
	assert.Equal(t, codeParseError, resp.Error.Code)

	assert.Nil(t, h.srv.Handle(context.Background(), []byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`)))
}

func TestListAnalysesAndModels(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	result := callTool(t, ctx, h.srv, toolNameListAnalyses, nil)
	sc := result["structuredContent"].(map[string]any)
	assert.Contains(t, sc, catalog.CylinderFit)
	assert.Contains(t, sc, catalog.SphereFit)
	assert.Contains(t, sc, catalog.CustomFit)

	result = callTool(t, ctx, h.srv, toolNameListModels, nil)
	models := result["structuredContent"].(map[string]any)["models"].([]any)
	assert.Contains(t, models, "cylinder")

	result = callTool(t, ctx, h.srv, toolNameModelParameters, map[string]any{"model_name": "cylinder"})
	params := result["structuredContent"].(map[string]any)
	radius := params["radius"].(map[string]any)
	assert.EqualValues(t, 20, radius["value"])
	assert.Equal(t, "inf", params["scale"].(map[string]any)["max"])

	result = callTool(t, ctx, h.srv, toolNameModelParameters, map[string]any{"model_name": "torus"})
	assert.Equal(t, "NOT_FOUND", errorCodeOf(t, result))

	result = callTool(t, ctx, h.srv, toolNameModelParameters, map[string]any{"model_name": "cylinder", "extra": 1})
	assert.Equal(t, "INVALID_REQUEST", errorCodeOf(t, result))

	result = callTool(t, ctx, h.srv, toolNamePolydisperse, map[string]any{"model_name": "sphere"})
	assert.Equal(t, []any{"radius"}, result["structuredContent"].(map[string]any)["parameters"])
}

func TestRunCylinderEndToEnd(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.write(t, "data.csv", sampleCSV)

	result := callTool(t, ctx, h.srv, toolNameRunAnalysis, map[string]any{
		"name":       catalog.CylinderFit,
		"parameters": map[string]any{"input_csv": "data.csv"},
	})
	require.Nil(t, result["isError"], "%v", result)

	content := result["content"].([]any)
	require.Len(t, content, 2)
	text := content[0].(map[string]any)
	assert.Equal(t, "text", text["type"])
	assert.Contains(t, text["text"], "cylinder")

	image := content[1].(map[string]any)
	assert.Equal(t, "image", image["type"])
	assert.Equal(t, "image/png", image["mimeType"])
	assert.Equal(t, catalog.LabelPlot, image["name"])
	data, err := base64.StdEncoding.DecodeString(image["data"].(string))
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("\x89PNG")))

	sc := result["structuredContent"].(map[string]any)
	outDir := sc["output_dir"].(string)
	assert.True(t, strings.HasPrefix(outDir, filepath.Join(h.runs, catalog.CylinderFit)))
	assert.FileExists(t, filepath.Join(outDir, catalog.PlotFile))

	result = callTool(t, ctx, h.srv, toolNameListRecentRuns, map[string]any{"limit": 5})
	runs := result["structuredContent"].(map[string]any)["runs"].([]any)
	require.Len(t, runs, 1)
	assert.Equal(t, "success", runs[0].(map[string]any)["status"])
}

func TestRunCustomReturnsParameterFile(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.write(t, "nested/custom.csv", sampleCSV)

	result := callTool(t, ctx, h.srv, toolNameRunAnalysis, map[string]any{
		"name": catalog.CustomFit,
		"parameters": map[string]any{
			"input_csv":       "custom.csv",
			"model":           "sphere",
			"param_overrides": map[string]any{"radius": map[string]any{"value": 30, "vary": true}},
		},
	})
	require.Nil(t, result["isError"], "%v", result)

	content := result["content"].([]any)
	require.Len(t, content, 3)
	assert.Equal(t, "text", content[0].(map[string]any)["type"])
	link := content[1].(map[string]any)
	assert.Equal(t, "resource_link", link["type"])
	assert.True(t, strings.HasPrefix(link["uri"].(string), "file://"))
	assert.Equal(t, "image", content[2].(map[string]any)["type"])
}

func TestRunAnalysisErrors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.write(t, "a/sample.csv", sampleCSV)
	h.write(t, "b/sample.csv", sampleCSV)

	result := callTool(t, ctx, h.srv, toolNameRunAnalysis, map[string]any{
		"name":       catalog.CylinderFit,
		"parameters": map[string]any{"input_csv": "sample.csv"},
	})
	assert.Equal(t, "AMBIGUOUS", errorCodeOf(t, result))

	result = callTool(t, ctx, h.srv, toolNameRunAnalysis, map[string]any{
		"name":       catalog.CylinderFit,
		"parameters": map[string]any{"input_csv": "a/sample.csv"},
	})
	assert.Nil(t, result["isError"])

	result = callTool(t, ctx, h.srv, toolNameRunAnalysis, map[string]any{
		"name":       catalog.CylinderFit,
		"parameters": map[string]any{"input_csv": "missing.csv"},
	})
	assert.Equal(t, "NOT_FOUND", errorCodeOf(t, result))

	result = callTool(t, ctx, h.srv, toolNameRunAnalysis, map[string]any{"name": "fitting-with-torus-model"})
	assert.Equal(t, "INVALID_REQUEST", errorCodeOf(t, result))
	msg := result["structuredContent"].(map[string]any)["error"].(map[string]any)["message"].(string)
	assert.Contains(t, msg, catalog.CylinderFit)

	result = callTool(t, ctx, h.srv, toolNameRunAnalysis, map[string]any{})
	assert.Equal(t, "INVALID_REQUEST", errorCodeOf(t, result))
}

func TestRunAnalysisFailureCodes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.write(t, "data.csv", sampleCSV)

	custom := func(extra map[string]any) map[string]any {
		params := map[string]any{"input_csv": "data.csv", "model": "sphere", "param_overrides": map[string]any{}}
		for k, v := range extra {
			params[k] = v
		}
		return callTool(t, ctx, h.srv, toolNameRunAnalysis, map[string]any{"name": catalog.CustomFit, "parameters": params})
	}
	message := func(result map[string]any) string {
		return result["structuredContent"].(map[string]any)["error"].(map[string]any)["message"].(string)
	}

	// the engine does not know the model: a unit failure, not a missing file
	result := custom(map[string]any{"model": "no-such-model"})
	assert.Equal(t, "EXECUTION_FAILURE", errorCodeOf(t, result))
	assert.Contains(t, message(result), "no-such-model")
	assert.Contains(t, message(result), catalog.CustomFit)

	result = custom(map[string]any{"structure_factor": "no-such-factor"})
	assert.Equal(t, "EXECUTION_FAILURE", errorCodeOf(t, result))

	// the caller's own parameters are rejected as such
	result = custom(map[string]any{"engine": "scipy"})
	assert.Equal(t, "INVALID_REQUEST", errorCodeOf(t, result))

	result = custom(map[string]any{"param_overrides": map[string]any{"radius": map[string]any{"value": "big"}}})
	assert.Equal(t, "INVALID_REQUEST", errorCodeOf(t, result))
	assert.Contains(t, message(result), "value must be a number")

	result = custom(map[string]any{"colour": "blue"})
	assert.Equal(t, "INVALID_REQUEST", errorCodeOf(t, result))
}

func TestToolCallSpans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	h := newTracedHarness(t, sr)
	ctx := context.Background()
	h.write(t, "data.csv", sampleCSV)

	result := callTool(t, ctx, h.srv, toolNameRunAnalysis, map[string]any{
		"name": catalog.CustomFit,
		"parameters": map[string]any{
			"input_csv": "data.csv", "model": "no-such-model", "param_overrides": map[string]any{},
		},
	})
	require.Equal(t, "EXECUTION_FAILURE", errorCodeOf(t, result))

	spans := sr.Ended()
	require.Len(t, spans, 2)
	execute, call := spans[0], spans[1]
	assert.Equal(t, "analysis.execute", execute.Name())
	assert.Equal(t, "mcp.tools_call", call.Name())
	assert.Equal(t, call.SpanContext().TraceID(), execute.SpanContext().TraceID())
	assert.Equal(t, call.SpanContext().SpanID(), execute.Parent().SpanID())
	for _, s := range spans {
		assert.Equal(t, codes.Error, s.Status().Code)
		assert.Equal(t, "EXECUTION_FAILURE", s.Status().Description)
	}

	callTool(t, ctx, h.srv, toolNameListAnalyses, nil)
	spans = sr.Ended()
	require.Len(t, spans, 3)
	assert.Equal(t, "mcp.tools_call", spans[2].Name())
	assert.Equal(t, codes.Unset, spans[2].Status().Code)
}

func TestListUploadedFilesPerUser(t *testing.T) {
	h := newHarness(t)
	h.write(t, "alice/one.csv", sampleCSV)
	h.write(t, "alice/notes.txt", "x")
	h.write(t, "bob/two.csv", sampleCSV)

	ctx := middleware.WithUser(context.Background(), "alice")
	result := callTool(t, ctx, h.srv, toolNameListUploadedFiles, map[string]any{"extensions": []string{"csv"}})
	files := result["structuredContent"].(map[string]any)["files"].([]any)
	require.Len(t, files, 1)
	assert.Equal(t, "one.csv", files[0].(map[string]any)["relative_path"])

	result = callTool(t, ctx, h.srv, toolNameListUploadedFiles, map[string]any{"limit": "ten"})
	assert.Equal(t, "INVALID_REQUEST", errorCodeOf(t, result))
}

func TestDescribePossibilities(t *testing.T) {
	h := newHarness(t)
	result := callTool(t, context.Background(), h.srv, toolNameDescribe, nil)
	text := result["content"].([]any)[0].(map[string]any)["text"].(string)
	for _, name := range []string{toolNameListModels, toolNameRunAnalysis, toolNameListUploadedFiles} {
		assert.Contains(t, text, name)
	}
}

func TestServeHTTP(t *testing.T) {
	h := newHarness(t)
	ts := httptest.NewServer(h.srv)
	defer ts.Close()

	resp, err := http.Post(ts.URL, "application/json",
		strings.NewReader(`{"jsonrpc":"2.0","id":"a","method":"ping"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "a", body["id"])

	note, err := http.Post(ts.URL, "application/json",
		strings.NewReader(`{"jsonrpc":"2.0","method":"notifications/initialized"}`))
	require.NoError(t, err)
	note.Body.Close()
	assert.Equal(t, http.StatusAccepted, note.StatusCode)

	get, err := http.Get(ts.URL)
	require.NoError(t, err)
	get.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, get.StatusCode)
}

func TestServeStdio(t *testing.T) {
	h := newHarness(t)
	in := strings.NewReader(strings.Join([]string{
		`{"jsonrpc":"2.0","id":1,"method":"ping"}`,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		``,
		`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`,
	}, "\n"))
	var out bytes.Buffer
	require.NoError(t, h.srv.ServeStdio(context.Background(), in, &out))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	ids := map[float64]bool{}
	for _, line := range lines {
		var msg map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &msg))
		ids[msg["id"].(float64)] = true
	}
	assert.Equal(t, map[float64]bool{1: true, 2: true}, ids)
}
