package main

import (
	"fmt"
	"path"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/veandco/go-sdl2/sdl"
	"go.uber.org/zap"

	"github.com/Faultbox/maple/internal/config"
	"github.com/Faultbox/maple/internal/engine"
	"github.com/Faultbox/maple/internal/engine/asset"
	"github.com/Faultbox/maple/internal/engine/camera"
	"github.com/Faultbox/maple/internal/engine/frame"
	"github.com/Faultbox/maple/internal/engine/gpu"
	"github.com/Faultbox/maple/internal/engine/gpu/glbackend"
	"github.com/Faultbox/maple/internal/engine/handle"
	"github.com/Faultbox/maple/internal/engine/input"
	"github.com/Faultbox/maple/internal/engine/resource"
	"github.com/Faultbox/maple/internal/engine/window"
	"github.com/Faultbox/maple/internal/logger"
)

// modelSpacing separates consecutive models along +X.
const modelSpacing = 4

const leftButtonMask = 1 << (sdl.BUTTON_LEFT - 1)

type instance struct {
	name     string
	model    handle.Handle
	material handle.Handle
	offset   mgl32.Vec3
}

type viewer struct {
	cfg *config.Config
	log *zap.Logger

	window *window.Window // nil when headless
	input  *input.Input
	gl     *glbackend.Backend

	engine    *engine.Engine
	camera    *camera.OrbitCamera
	instances []instance

	width, height int
}

func newViewer(cfg *config.Config) (*viewer, error) {
	v := &viewer{
		cfg:    cfg,
		log:    logger.Named("viewer"),
		camera: camera.NewOrbitCamera(),
		width:  cfg.Renderer.Width,
		height: cfg.Renderer.Height,
	}

	var backend gpu.Backend
	if cfg.Renderer.Backend == config.BackendHeadless {
		backend = gpu.NewHeadless(gpu.DefaultUniformAlignment, logger.Named("headless"))
	} else {
		win, err := window.New(window.Config{
			Title:      "Maple Viewer",
			Width:      cfg.Renderer.Width,
			Height:     cfg.Renderer.Height,
			Fullscreen: cfg.Renderer.Fullscreen,
			VSync:      cfg.Renderer.VSync,
		}, logger.Named("window"))
		if err != nil {
			return nil, fmt.Errorf("failed to create window: %w", err)
		}
		v.window = win
		v.input = input.New()
		v.width, v.height = win.DrawableSize()

		gb, err := glbackend.New(logger.Named("gl"))
		if err != nil {
			win.Close()
			return nil, fmt.Errorf("failed to create GL backend: %w", err)
		}
		v.gl = gb
		backend = gb
	}

	ecfg := engine.Config{
		Resources: resource.Config{
			InitialCapacity: cfg.Registry.InitialCapacity,
			MaxCapacity:     cfg.Registry.MaxCapacity,
			ObjectCapacity:  cfg.Uniforms.ObjectCapacity,
			ObjectStride:    cfg.Uniforms.ObjectStride,
		},
		Assets: asset.Config{
			InitialCapacity: cfg.Registry.InitialCapacity,
			MaxCapacity:     cfg.Registry.MaxCapacity,
		},
	}
	if cfg.Assets.Watch {
		ecfg.WatchRoot = cfg.Assets.Root
	}

	e, err := engine.New(ecfg, backend, asset.NewDirSource(cfg.Assets.Root), logger.Named("engine"))
	if err != nil {
		v.closeDisplay()
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}
	v.engine = e

	if err := v.loadScene(); err != nil {
		v.Close()
		return nil, err
	}

	v.log.Info("viewer initialized",
		zap.String("backend", backend.Name()),
		zap.Int("instances", len(v.instances)),
	)
	return v, nil
}

// loadScene loads every configured material and pairs each model with one
// of them in order.
func (v *viewer) loadScene() error {
	assets := v.engine.Assets()

	var materials []handle.Handle
	for _, name := range v.cfg.Assets.Materials {
		h, err := assets.Load(handle.TypeMaterial, asset.MaterialParams{Filename: name})
		if err != nil {
			return fmt.Errorf("loading material %s: %w", name, err)
		}
		materials = append(materials, h)
	}
	if len(materials) == 0 && len(v.cfg.Assets.Models) > 0 {
		return fmt.Errorf("no materials configured for %d models", len(v.cfg.Assets.Models))
	}

	var sceneMin, sceneMax mgl32.Vec3
	for i, name := range v.cfg.Assets.Models {
		h, err := assets.Load(handle.TypeModel, asset.ModelParams{Filename: name})
		if err != nil {
			return fmt.Errorf("loading model %s: %w", name, err)
		}
		inst := instance{
			name:     path.Base(name),
			model:    h,
			material: materials[i%len(materials)],
			offset:   mgl32.Vec3{float32(i) * modelSpacing, 0, 0},
		}
		v.instances = append(v.instances, inst)

		m, _ := assets.Model(h)
		lo, hi := m.Bounds()
		lo, hi = lo.Add(inst.offset), hi.Add(inst.offset)
		if i == 0 {
			sceneMin, sceneMax = lo, hi
		}
		for k := 0; k < 3; k++ {
			sceneMin[k] = min(sceneMin[k], lo[k])
			sceneMax[k] = max(sceneMax[k], hi[k])
		}
	}
	if len(v.instances) > 0 {
		v.camera.FitToBounds(sceneMin, sceneMax)
	}
	return nil
}

// Run drives frames until the window closes or MaxFrames is reached. A
// headless run with no frame limit renders a single frame.
func (v *viewer) Run() error {
	maxFrames := uint64(v.cfg.Renderer.MaxFrames)
	if v.window == nil && maxFrames == 0 {
		maxFrames = 1
	}

	start := time.Now()
	fpsTimer := start
	var fpsFrames int
	var cmds []frame.Command

	v.log.Info("starting frame loop", zap.Uint64("max_frames", maxFrames))

	for maxFrames == 0 || v.engine.Frames() < maxFrames {
		if v.pollInput() {
			break
		}

		v.engine.BeginFrame()
		t := float32(time.Since(start).Seconds())
		globals := engine.GlobalsData(v.camera.ViewMatrix(), v.camera.ProjectionMatrix(v.width, v.height))
		if err := v.engine.SetGlobals(globals); err != nil {
			return fmt.Errorf("setting globals: %w", err)
		}

		cmds = v.buildCommands(cmds[:0], t)

		if v.gl != nil {
			v.gl.Clear()
		}
		stats, err := v.engine.Submit(cmds...)
		if err != nil {
			return fmt.Errorf("frame %d: %w", v.engine.Frames(), err)
		}
		if v.window != nil {
			v.window.SwapBuffers()
		}

		fpsFrames++
		if time.Since(fpsTimer) >= time.Second {
			v.log.Debug("frame stats",
				zap.Int("fps", fpsFrames),
				zap.Int("materials", stats.Materials),
				zap.Int("draws", stats.Draws),
				zap.Int("skipped", stats.Skipped),
			)
			if v.window != nil {
				v.window.SetTitle(fmt.Sprintf("Maple Viewer - %d FPS - %d draws", fpsFrames, stats.Draws))
			}
			fpsFrames = 0
			fpsTimer = time.Now()
		}
	}

	v.log.Info("frame loop finished", zap.Uint64("frames", v.engine.Frames()))
	return nil
}

// pollInput handles window events. Returns true when the viewer should quit.
func (v *viewer) pollInput() bool {
	if v.input == nil {
		return false
	}
	if v.input.Update() {
		return true
	}
	if w, h, ok := v.input.Resized(); ok {
		v.width, v.height = w, h
		if v.window != nil {
			v.width, v.height = v.window.DrawableSize()
		}
	}
	for _, e := range v.input.Events() {
		switch e.Type {
		case input.EventMouseMove:
			if e.Button&leftButtonMask != 0 {
				v.camera.HandleDrag(float32(e.DeltaX), float32(e.DeltaY))
			}
		case input.EventMouseWheel:
			v.camera.HandleZoom(float32(e.DeltaY))
		}
	}
	if v.input.IsKeyPressed(sdl.SCANCODE_ESCAPE) {
		return true
	}
	if v.input.IsKeyPressed(sdl.SCANCODE_R) {
		v.engine.Assets().RequestReloadAll()
	}
	return false
}

func (v *viewer) buildCommands(cmds []frame.Command, t float32) []frame.Command {
	cmds = append(cmds,
		frame.SetViewport{Width: float32(v.width), Height: float32(v.height), MaxDepth: 1},
		frame.SetScissor{Width: uint32(v.width), Height: uint32(v.height)},
	)

	assets := v.engine.Assets()
	for _, inst := range v.instances {
		m, err := assets.Model(inst.model)
		if err != nil {
			v.log.Warn("model unavailable", zap.String("model", inst.name), zap.Error(err))
			continue
		}
		transform := mgl32.Translate3D(inst.offset.X(), inst.offset.Y(), inst.offset.Z()).
			Mul4(mgl32.HomogRotate3DY(t * 0.5))
		cmds = frame.DrawModel(cmds, inst.model, m, inst.material, transform)
	}
	return cmds
}

func (v *viewer) closeDisplay() {
	if v.gl != nil {
		v.gl.Close()
		v.gl = nil
	}
	if v.window != nil {
		v.window.Close()
		v.window = nil
	}
}

// Close shuts down the engine before the GL context it draws into.
func (v *viewer) Close() {
	if v.engine != nil {
		v.engine.Shutdown()
		v.engine = nil
	}
	v.closeDisplay()
}
