// Package engine wires the resource layer, the asset system and the frame
// batcher into one context object driven once per frame.
package engine

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Faultbox/maple/internal/engine/asset"
	"github.com/Faultbox/maple/internal/engine/frame"
	"github.com/Faultbox/maple/internal/engine/gpu"
	"github.com/Faultbox/maple/internal/engine/resource"
)

// Config sizes the engine's subsystems.
type Config struct {
	Resources resource.Config
	Assets    asset.Config

	// WatchRoot, when set, is watched for changed asset files. Reloads run
	// at the start of the next frame.
	WatchRoot string
}

// Engine owns one backend's resources, assets and frame state. Methods must
// be called from the frame thread.
type Engine struct {
	id      uuid.UUID
	log     *zap.Logger
	backend gpu.Backend

	res     *resource.Manager
	assets  *asset.Manager
	batcher *frame.Batcher
	frame   *frame.Frame
	watcher *asset.Watcher

	frames uint64
}

// New creates an engine drawing through backend and reading assets from src.
func New(cfg Config, backend gpu.Backend, src asset.FileSource, log *zap.Logger) (*Engine, error) {
	if log == nil {
		log = zap.NewNop()
	}
	id := uuid.New()
	log = log.With(zap.String("engine", id.String()))

	res, err := resource.New(cfg.Resources, backend, log.Named("resource"))
	if err != nil {
		return nil, fmt.Errorf("creating resource manager: %w", err)
	}
	assets := asset.NewManager(cfg.Assets, res, src, log.Named("asset"))

	e := &Engine{
		id:      id,
		log:     log,
		backend: backend,
		res:     res,
		assets:  assets,
		batcher: frame.NewBatcher(assets, res, log.Named("frame")),
		frame:   frame.NewFrame(),
	}

	if cfg.WatchRoot != "" {
		w, err := asset.NewWatcher(cfg.WatchRoot, asset.DefaultDebounce, assets.RequestReload, log.Named("watcher"))
		if err != nil {
			e.Shutdown()
			return nil, fmt.Errorf("watching %s: %w", cfg.WatchRoot, err)
		}
		e.watcher = w
	}

	log.Info("engine ready", zap.String("backend", backend.Name()))
	return e, nil
}

// ID identifies this engine instance in logs.
func (e *Engine) ID() uuid.UUID {
	return e.id
}

// Backend returns the GPU backend.
func (e *Engine) Backend() gpu.Backend {
	return e.backend
}

// Resources returns the resource layer.
func (e *Engine) Resources() *resource.Manager {
	return e.res
}

// Assets returns the asset manager.
func (e *Engine) Assets() *asset.Manager {
	return e.assets
}

// Frames returns the number of frames submitted.
func (e *Engine) Frames() uint64 {
	return e.frames
}

// BeginFrame applies pending asset reloads and rewinds per-frame state.
func (e *Engine) BeginFrame() {
	if n, err := e.assets.ProcessReloads(); n > 0 || err != nil {
		e.log.Info("assets reloaded", zap.Int("count", n), zap.Error(err))
	}
	e.res.BeginFrame()
	e.frame.Begin()
}

// SetGlobals queues an upload of data to the global uniform buffer ahead
// of this frame's draws.
func (e *Engine) SetGlobals(data []byte) error {
	if len(data) > e.assets.GlobalUniformSize() {
		return fmt.Errorf("%w: %d bytes of globals for a %d byte buffer",
			resource.ErrUniformOverflow, len(data), e.assets.GlobalUniformSize())
	}
	h, err := e.assets.GlobalUniform()
	if err != nil {
		return err
	}
	obj, err := e.res.Buffer(h)
	if err != nil {
		return err
	}

	buf := e.frame.Arena.Bytes(len(data))
	copy(buf, data)
	e.frame.Output.Append(gpu.UpdateBuffer{Target: obj, Data: buf, Size: uint32(len(buf))})
	return nil
}

// Submit batches cmds and hands the result to the backend. Call it once
// per frame, after BeginFrame. On a batching error nothing from cmds
// reaches the backend.
func (e *Engine) Submit(cmds ...frame.Command) (frame.Stats, error) {
	e.frame.Push(cmds...)
	stats, err := e.batcher.Build(e.frame)
	if err != nil {
		e.log.Error("frame rejected", zap.Uint64("frame", e.frames), zap.Error(err))
		return stats, err
	}
	if err := e.backend.Submit(e.frame.Output); err != nil {
		return stats, fmt.Errorf("submitting frame %d: %w", e.frames, err)
	}
	e.frames++
	return stats, nil
}

// Shutdown stops the watcher, then frees assets before the resources they
// reference.
func (e *Engine) Shutdown() {
	if e.watcher != nil {
		if err := e.watcher.Close(); err != nil {
			e.log.Warn("closing asset watcher", zap.Error(err))
		}
		e.watcher = nil
	}
	e.assets.Shutdown()
	e.res.Shutdown()
	e.log.Info("engine shut down", zap.Uint64("frames", e.frames))
}

// GlobalsData packs view and projection matrices for the global uniform
// block, column-major little-endian.
func GlobalsData(view, projection mgl32.Mat4) []byte {
	buf := make([]byte, 128)
	for i, f := range view {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	for i, f := range projection {
		binary.LittleEndian.PutUint32(buf[64+i*4:], math.Float32bits(f))
	}
	return buf
}
