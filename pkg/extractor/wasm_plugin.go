package extractor

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/takeoffworks/estimator/pkg/types"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// PluginConfig bounds a WASM extractor plugin's resource use: deny by
// default, no filesystem, no network — the plugin receives only the file
// bytes on stdin and may only write BoQ rows as JSON lines on stdout.
type PluginConfig struct {
	MemoryLimitBytes int64
	CPUTimeLimit     time.Duration
}

// DefaultPluginConfig bounds a plugin to 64MB and 5 seconds, generous
// enough for a single-file takeoff without letting one plugin starve the
// worker pool.
func DefaultPluginConfig() PluginConfig {
	return PluginConfig{MemoryLimitBytes: 64 * 1024 * 1024, CPUTimeLimit: 5 * time.Second}
}

// WASMPlugin runs a third-party extractor compiled to WebAssembly inside
// a wazero runtime instantiated with no filesystem, network or ambient
// authority. It cannot reach the store or the broker because nothing in
// its sandbox can resolve a network address or open a path outside
// stdin/stdout.
type WASMPlugin struct {
	runtime  wazero.Runtime
	wasmCode []byte
	config   PluginConfig
}

// NewWASMPlugin sets up a sandboxed runtime for wasmCode. The code is
// compiled on each Extract call, not here.
func NewWASMPlugin(ctx context.Context, wasmCode []byte, cfg PluginConfig) (*WASMPlugin, error) {
	runtimeCfg := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if cfg.MemoryLimitBytes > 0 {
		pages := uint32(cfg.MemoryLimitBytes / (64 * 1024))
		if pages == 0 {
			pages = 1
		}
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(pages)
	}

	r := wazero.NewRuntimeWithConfig(ctx, runtimeCfg)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, r); err != nil {
		_ = r.Close(ctx)
		return nil, fmt.Errorf("extractor: instantiate WASI: %w", err)
	}

	return &WASMPlugin{runtime: r, wasmCode: wasmCode, config: cfg}, nil
}

func (p *WASMPlugin) Close(ctx context.Context) error {
	return p.runtime.Close(ctx)
}

// Extract feeds the file's raw bytes to the plugin on stdin and parses
// its stdout as newline-delimited JSON BoqRow objects. mapping is passed
// as a JSON object on a second stdin line so a plugin can honor a
// project's cost-code dictionary without needing store access itself.
func (p *WASMPlugin) Extract(ctx context.Context, fileType types.FileType, filePath string, mapping map[string]string) (RowIterator, error) {
	fileBytes, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("extractor: read %s: %w", filePath, err)
	}
	mappingJSON, err := json.Marshal(mapping)
	if err != nil {
		return nil, fmt.Errorf("extractor: encode mapping: %w", err)
	}

	var stdin bytes.Buffer
	stdin.Write(fileBytes)
	stdin.WriteByte('\n')
	stdin.Write(mappingJSON)
	stdin.WriteByte('\n')

	execCtx := ctx
	if p.config.CPUTimeLimit > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, p.config.CPUTimeLimit)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	modCfg := wazero.NewModuleConfig().
		WithName("extractor-plugin").
		WithStdin(&stdin).
		WithStdout(&stdout).
		WithStderr(&stderr).
		WithStartFunctions("_start")
	// Deliberately no WithFSConfig, no WithSysNanotime, no WithRandSource,
	// no WithEnv — the plugin gets stdin/stdout/stderr and nothing else.

	compiled, err := p.runtime.CompileModule(execCtx, p.wasmCode)
	if err != nil {
		return nil, fmt.Errorf("extractor: compile plugin: %w", err)
	}
	defer func() { _ = compiled.Close(execCtx) }()

	mod, err := p.runtime.InstantiateModule(execCtx, compiled, modCfg)
	if err != nil {
		if execCtx.Err() != nil {
			return nil, fmt.Errorf("extractor: plugin exceeded time limit %v", p.config.CPUTimeLimit)
		}
		return nil, fmt.Errorf("extractor: plugin instantiation failed: %w", err)
	}
	defer func() { _ = mod.Close(execCtx) }()

	rows, err := parsePluginOutput(stdout.Bytes())
	if err != nil {
		return nil, fmt.Errorf("extractor: plugin output: %w (stderr: %s)", err, stderr.String())
	}
	return newSliceIterator(rows), nil
}

func parsePluginOutput(out []byte) ([]*BoqRow, error) {
	var rows []*BoqRow
	scanner := bufio.NewScanner(bytes.NewReader(out))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var in rowInput
		if err := json.Unmarshal(line, &in); err != nil {
			return nil, fmt.Errorf("bad JSON line: %w", err)
		}
		rows = append(rows, &BoqRow{
			Code:        in.Code,
			Description: in.Description,
			Unit:        in.Unit,
			Qty:         RoundQty(in.Unit, in.Qty),
			SourceRef:   in.SourceRef,
		})
	}
	return rows, scanner.Err()
}
