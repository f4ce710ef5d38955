// Package asset loads models and materials, uploads their GPU data through
// the resource layer, and publishes them behind generational handles.
package asset

import (
	"errors"
	"fmt"
	"path"
	"slices"
	"sync"

	"github.com/go-gl/mathgl/mgl32"
	"go.uber.org/zap"

	"github.com/Faultbox/maple/internal/engine/handle"
	"github.com/Faultbox/maple/internal/engine/registry"
	"github.com/Faultbox/maple/internal/engine/resource"
	"github.com/Faultbox/maple/pkg/formats"
)

// Asset errors.
var (
	ErrMalformedAsset   = errors.New("malformed asset")
	ErrUnknownAssetType = errors.New("unknown asset type")
	ErrWrongAssetType   = errors.New("handle refers to a different asset type")
)

// DefaultGlobalUniformSize fits a view and a projection matrix.
const DefaultGlobalUniformSize = 128

// ModelParams loads a .mdl file and its companion blob.
type ModelParams struct {
	Filename string
}

// MaterialParams loads a TOML material from Filename, or from Def when set.
// Shader paths in the definition are relative to Filename's directory.
type MaterialParams struct {
	Filename string
	Def      *MaterialDef
}

// Asset is one published asset. Exactly one of Model and Material is set.
type Asset struct {
	Type     handle.Type
	Name     string
	Model    *Model
	Material *Material

	params any
	deps   []string
}

// Config sizes the asset registry.
type Config struct {
	InitialCapacity   int
	MaxCapacity       int
	GlobalUniformSize int
}

type assetKey struct {
	t    handle.Type
	name string
}

// Manager owns loaded assets. All methods except RequestReload and
// RequestReloadAll must be called from the frame thread.
type Manager struct {
	res *resource.Manager
	src FileSource
	log *zap.Logger
	reg *registry.Registry[Asset]

	byName     map[assetKey]handle.Handle
	globals    handle.Handle
	globalSize int

	mu        sync.Mutex
	pending   []string
	reloadAll bool
}

// NewManager creates an asset manager that uploads through res and reads
// files from src.
func NewManager(cfg Config, res *resource.Manager, src FileSource, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.GlobalUniformSize <= 0 {
		cfg.GlobalUniformSize = DefaultGlobalUniformSize
	}
	m := &Manager{
		res:        res,
		src:        src,
		log:        log,
		byName:     make(map[assetKey]handle.Handle),
		globalSize: cfg.GlobalUniformSize,
	}
	m.reg = registry.New(registry.Config[Asset]{
		Name:            "asset",
		InitialCapacity: cfg.InitialCapacity,
		MaxCapacity:     cfg.MaxCapacity,
		Tracked:         []handle.Type{handle.TypeModel},
		Teardown:        m.teardown,
		Logger:          log,
	})
	return m
}

// Load builds an asset of type t and publishes it. A file that is already
// loaded with the same type returns its existing handle.
func (m *Manager) Load(t handle.Type, params any) (handle.Handle, error) {
	key, err := keyFor(t, params)
	if err != nil {
		return handle.Invalid, err
	}
	if key.name != "" {
		if h, ok := m.byName[key]; ok && m.reg.IsValid(h) {
			return h, nil
		}
	}

	a, err := m.build(t, params)
	if err != nil {
		m.log.Error("asset load failed",
			zap.Stringer("type", t),
			zap.String("name", key.name),
			zap.Error(err),
		)
		return handle.Invalid, err
	}

	h, err := m.reg.Add(t, a)
	if err != nil {
		m.release(t, &a)
		return handle.Invalid, err
	}
	if key.name != "" {
		m.byName[key] = h
	}

	m.log.Debug("asset loaded", zap.Stringer("handle", h), zap.String("name", a.Name))
	return h, nil
}

func keyFor(t handle.Type, params any) (assetKey, error) {
	switch p := params.(type) {
	case ModelParams:
		if t == handle.TypeModel {
			return assetKey{t, p.Filename}, nil
		}
	case MaterialParams:
		if t == handle.TypeMaterial {
			if p.Def != nil {
				return assetKey{t: t}, nil
			}
			return assetKey{t, p.Filename}, nil
		}
	}
	return assetKey{}, fmt.Errorf("%w: %s with %T", ErrUnknownAssetType, t, params)
}

// build reads, parses and uploads an asset without publishing it. On error
// nothing it created is left alive.
func (m *Manager) build(t handle.Type, params any) (Asset, error) {
	switch p := params.(type) {
	case ModelParams:
		return m.loadModel(p.Filename)
	case MaterialParams:
		return m.loadMaterial(p)
	}
	return Asset{}, fmt.Errorf("%w: %s with %T", ErrUnknownAssetType, t, params)
}

func (m *Manager) loadModel(name string) (Asset, error) {
	data, err := m.src.ReadFile(name)
	if err != nil {
		return Asset{}, fmt.Errorf("loading model %s: %w", name, err)
	}
	f, err := formats.ParseModel(data)
	if err != nil {
		return Asset{}, fmt.Errorf("%w: %s: %w", ErrMalformedAsset, name, err)
	}

	blobName := path.Join(path.Dir(name), f.BinaryFile)
	blob, err := m.src.ReadFile(blobName)
	if err != nil {
		return Asset{}, fmt.Errorf("loading model data %s: %w", blobName, err)
	}
	if err := f.ValidateBlob(uint64(len(blob))); err != nil {
		return Asset{}, fmt.Errorf("%w: %s: %w", ErrMalformedAsset, name, err)
	}

	model := newModel(f)
	if err := m.upload(name, f, blob, model); err != nil {
		m.releaseModel(model)
		return Asset{}, err
	}

	return Asset{
		Type:   handle.TypeModel,
		Name:   name,
		Model:  model,
		params: ModelParams{Filename: name},
		deps:   []string{name, blobName},
	}, nil
}

func (m *Manager) upload(name string, f *formats.Model, blob []byte, model *Model) error {
	for i := range f.Primitives {
		src := &f.Primitives[i]
		dst := &model.Primitives[i]

		if src.IsIndexed() {
			off, n := src.IndicesOffset(), src.IndexBytes()
			h, err := m.res.Load(handle.TypeIndexBuffer, resource.IndexBufferInfo{
				Name:   fmt.Sprintf("%s#%d.index", name, i),
				Data:   blob[off : off+n],
				Stride: src.IndexStride,
			})
			if err != nil {
				return fmt.Errorf("uploading %s primitive %d: %w", name, i, err)
			}
			dst.IndexBuffer = h
		}

		if n := src.VertexBytes(); n > 0 {
			off := src.VerticesOffset()
			h, err := m.res.Load(handle.TypeVertexBuffer, resource.VertexBufferInfo{
				Name:   fmt.Sprintf("%s#%d.vertex", name, i),
				Data:   blob[off : off+n],
				Stride: src.VertexStride,
			})
			if err != nil {
				return fmt.Errorf("uploading %s primitive %d: %w", name, i, err)
			}
			dst.VertexBuffer = h
		}
	}
	return nil
}

func (m *Manager) loadMaterial(p MaterialParams) (Asset, error) {
	def := p.Def
	deps := []string{}
	if def == nil {
		data, err := m.src.ReadFile(p.Filename)
		if err != nil {
			return Asset{}, fmt.Errorf("loading material %s: %w", p.Filename, err)
		}
		if def, err = ParseMaterialDef(data); err != nil {
			return Asset{}, fmt.Errorf("%s: %w", p.Filename, err)
		}
		deps = append(deps, p.Filename)
	} else if err := def.Validate(); err != nil {
		return Asset{}, fmt.Errorf("%w: %w", ErrMalformedAsset, err)
	}

	dir := path.Dir(p.Filename)
	readShader := func(file string) (string, error) {
		if file == "" {
			return "", nil
		}
		name := path.Join(dir, file)
		data, err := m.src.ReadFile(name)
		if err != nil {
			return "", fmt.Errorf("loading shader %s: %w", name, err)
		}
		deps = append(deps, name)
		return string(data), nil
	}
	vs, err := readShader(def.VertexShader)
	if err != nil {
		return Asset{}, err
	}
	fs, err := readShader(def.FragmentShader)
	if err != nil {
		return Asset{}, err
	}

	mat := &Material{
		Name:      def.Name,
		Diffuse:   mgl32.Vec4(def.DiffuseColour),
		Shininess: def.Shininess,
	}
	if err := m.createMaterialResources(mat, def, vs, fs); err != nil {
		m.releaseMaterial(mat)
		return Asset{}, fmt.Errorf("material %s: %w", def.Name, err)
	}

	name := p.Filename
	if name == "" {
		name = def.Name
	}
	return Asset{
		Type:     handle.TypeMaterial,
		Name:     name,
		Material: mat,
		params:   p,
		deps:     deps,
	}, nil
}

func (m *Manager) createMaterialResources(mat *Material, def *MaterialDef, vs, fs string) error {
	pipe, err := m.res.Load(handle.TypePipeline, resource.PipelineInfo{Desc: def.pipelineDesc(vs, fs)})
	if err != nil {
		return err
	}
	mat.Pipeline = pipe
	mat.owned = append(mat.owned, pipe)

	for slot, sd := range def.setDefs() {
		if sd == nil {
			continue
		}

		var (
			buf  handle.Handle
			size uint32
		)
		switch slot {
		case GlobalSet:
			if buf, err = m.GlobalUniform(); err != nil {
				return err
			}
			size = uint32(m.globalSize)
		case DynamicSet:
			buf, err = m.res.Load(handle.TypeUniformBuffer, resource.UniformBufferInfo{
				Name: def.Name + ".material",
				Data: def.uniformData(),
			})
			if err != nil {
				return err
			}
			mat.owned = append(mat.owned, buf)
		case StaticSet:
			buf = m.res.ObjectUniform()
			size = m.res.ObjectDynamicUniform().Stride
		}

		set, err := m.res.Load(handle.TypeDescriptorSet, resource.DescriptorSetInfo{
			Name:     fmt.Sprintf("%s.set%d", def.Name, slot),
			Pipeline: pipe,
			Slot:     uint32(slot),
			Buffer:   buf,
			Size:     size,
		})
		if err != nil {
			return err
		}
		mat.owned = append(mat.owned, set)
		mat.Sets[slot] = DescriptorSlot{Block: sd.Block, Set: set}
	}
	return nil
}

// GlobalUniform returns the uniform buffer shared by every material's
// global set, creating it on first use.
func (m *Manager) GlobalUniform() (handle.Handle, error) {
	if m.res.IsValid(m.globals) {
		return m.globals, nil
	}
	h, err := m.res.Load(handle.TypeUniformBuffer, resource.UniformBufferInfo{
		Name: "globals",
		Size: m.globalSize,
	})
	if err != nil {
		return handle.Invalid, fmt.Errorf("creating global uniform buffer: %w", err)
	}
	m.globals = h
	return h, nil
}

// GlobalUniformSize returns the size of the shared global uniform buffer.
func (m *Manager) GlobalUniformSize() int {
	return m.globalSize
}

// Get returns a copy of the asset behind h.
func (m *Manager) Get(h handle.Handle) (Asset, error) {
	a, err := m.reg.Get(h)
	if err != nil {
		return Asset{}, err
	}
	return *a, nil
}

// Model returns the model behind h.
func (m *Manager) Model(h handle.Handle) (*Model, error) {
	if h.Type != handle.TypeModel {
		return nil, fmt.Errorf("%w: %s is not a model", ErrWrongAssetType, h)
	}
	a, err := m.reg.Get(h)
	if err != nil {
		return nil, err
	}
	return a.Model, nil
}

// Material returns the material behind h.
func (m *Manager) Material(h handle.Handle) (*Material, error) {
	if h.Type != handle.TypeMaterial {
		return nil, fmt.Errorf("%w: %s is not a material", ErrWrongAssetType, h)
	}
	a, err := m.reg.Get(h)
	if err != nil {
		return nil, err
	}
	return a.Material, nil
}

// GetList returns a snapshot of every live asset of type filter.
// handle.TypeInvalid selects all assets.
func (m *Manager) GetList(filter handle.Type) []Asset {
	return m.reg.GetAll(filter)
}

// Handles returns the handles of every live asset of type filter.
func (m *Manager) Handles(filter handle.Type) []handle.Handle {
	return m.reg.Handles(filter)
}

// IsValid reports whether h refers to a live asset.
func (m *Manager) IsValid(h handle.Handle) bool {
	return m.reg.IsValid(h)
}

// Count returns the number of live assets.
func (m *Manager) Count() int {
	return m.reg.Count()
}

// Free releases the asset behind h and its GPU resources.
func (m *Manager) Free(h handle.Handle) error {
	a, err := m.reg.Get(h)
	if err != nil {
		return err
	}
	key := assetKey{h.Type, a.Name}
	if err := m.reg.Remove(h); err != nil {
		return err
	}
	if m.byName[key] == h {
		delete(m.byName, key)
	}
	return nil
}

// Reload rebuilds the asset behind h from its source files. The handle
// stays valid; on failure the previous content is kept.
func (m *Manager) Reload(h handle.Handle) error {
	a, err := m.reg.Get(h)
	if err != nil {
		return err
	}
	if inv, ok := m.src.(invalidator); ok {
		for _, dep := range a.deps {
			inv.Invalidate(dep)
		}
	}

	fresh, err := m.build(h.Type, a.params)
	if err != nil {
		return fmt.Errorf("reloading %s: %w", a.Name, err)
	}
	m.release(h.Type, a)
	*a = fresh

	m.log.Info("asset reloaded", zap.Stringer("handle", h), zap.String("name", a.Name))
	return nil
}

// RequestReload queues a reload of every asset built from file name.
// Safe to call from any goroutine.
func (m *Manager) RequestReload(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !slices.Contains(m.pending, name) {
		m.pending = append(m.pending, name)
	}
}

// RequestReloadAll queues a reload of every asset, dropping any cached
// file contents first. Safe to call from any goroutine.
func (m *Manager) RequestReloadAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reloadAll = true
}

// ProcessReloads drains queued reload requests. Returns the number of
// assets reloaded and any reload failures joined.
func (m *Manager) ProcessReloads() (int, error) {
	m.mu.Lock()
	names, all := m.pending, m.reloadAll
	m.pending, m.reloadAll = nil, false
	m.mu.Unlock()

	inv, _ := m.src.(invalidator)
	if all {
		if inv != nil {
			inv.InvalidateAll()
		}
		return m.reloadMatching(func(*Asset) bool { return true })
	}
	if len(names) == 0 {
		return 0, nil
	}

	for _, name := range names {
		if inv != nil {
			inv.Invalidate(name)
		}
	}
	return m.reloadMatching(func(a *Asset) bool {
		for _, name := range names {
			if slices.Contains(a.deps, name) {
				return true
			}
		}
		return false
	})
}

func (m *Manager) reloadMatching(match func(*Asset) bool) (int, error) {
	var (
		reloaded int
		errs     []error
	)
	for _, h := range m.reg.Handles(handle.TypeInvalid) {
		a, err := m.reg.Get(h)
		if err != nil || !match(a) {
			continue
		}
		if err := m.Reload(h); err != nil {
			m.log.Error("hot reload failed", zap.String("asset", a.Name), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		reloaded++
	}
	return reloaded, errors.Join(errs...)
}

// Shutdown frees every asset, then the global uniform buffer.
func (m *Manager) Shutdown() {
	n := m.reg.Count()
	m.reg.Clear()
	clear(m.byName)
	if m.res.IsValid(m.globals) {
		m.freeResource(m.globals)
	}
	m.globals = handle.Invalid
	m.log.Info("asset manager shut down", zap.Int("released", n))
}

func (m *Manager) teardown(h handle.Handle, a *Asset) {
	m.release(h.Type, a)
}

func (m *Manager) release(t handle.Type, a *Asset) {
	switch t {
	case handle.TypeModel:
		if a.Model != nil {
			m.releaseModel(a.Model)
		}
	case handle.TypeMaterial:
		if a.Material != nil {
			m.releaseMaterial(a.Material)
		}
	}
}

func (m *Manager) releaseModel(model *Model) {
	for i := range model.Primitives {
		p := &model.Primitives[i]
		if !p.IndexBuffer.IsNil() {
			m.freeResource(p.IndexBuffer)
			p.IndexBuffer = handle.Invalid
		}
		if !p.VertexBuffer.IsNil() {
			m.freeResource(p.VertexBuffer)
			p.VertexBuffer = handle.Invalid
		}
	}
}

// releaseMaterial frees owned resources newest first, so descriptor sets go
// before the pipeline they were created against.
func (m *Manager) releaseMaterial(mat *Material) {
	for i := len(mat.owned) - 1; i >= 0; i-- {
		m.freeResource(mat.owned[i])
	}
	mat.owned = nil
}

func (m *Manager) freeResource(h handle.Handle) {
	if err := m.res.Free(h); err != nil {
		m.log.Error("releasing asset resource", zap.Stringer("handle", h), zap.Error(err))
	}
}
