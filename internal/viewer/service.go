// Package viewer implements the command service of the scene viewer. Each
// command runs against a scratch arena that lives for one request; loaded
// scenes, their GPU resources and the render targets each live in arenas
// whose lifetime matches theirs.
package viewer

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/pkg/errors"

	"github.com/fbxview/arena"
	"github.com/fbxview/arena/internal/gfx"
)

const (
	defaultTargetSize = 256
	maxTargetSize     = 16384
	maxSamples        = 16
	bytesPerPixel     = 4
)

// ErrClosed is returned by Call once the service has been closed.
var ErrClosed = errors.New("viewer: service closed")

var clearColor = [bytesPerPixel]byte{0x33, 0x33, 0x33, 0xff}

type scene struct {
	arena *arena.Arena // root arena owning name and data
	name  string
	data  []byte
	view  *sceneView
}

// sceneView is the GPU side of a scene, created on first render.
type sceneView struct {
	arena    *arena.Arena // child of the service arena
	vertices gfx.Handle
	shader   gfx.Handle
	pipeline gfx.Handle
}

type framebuffer struct {
	maxWidth, maxHeight uint32
	curWidth, curHeight uint32
	samples             uint32

	color, depth, pass                gfx.Handle
	deferColor, deferDepth, deferPass *gfx.Handle
}

// Service executes viewer commands. It is safe for concurrent use; commands
// are serialized.
type Service struct {
	mu   sync.Mutex
	dev  *gfx.Device
	log  logr.Logger
	opts []arena.Option

	root    arena.Arena
	fbArena *arena.Arena
	targets map[uint32]*framebuffer
	scenes  []*scene
	pixels  []byte

	pretty  bool
	verbose bool
	closed  bool
}

// New creates a service drawing on dev. opts apply to every arena the
// service creates.
func New(dev *gfx.Device, log logr.Logger, opts ...arena.Option) (*Service, error) {
	s := &Service{
		dev:     dev,
		log:     log,
		opts:    opts,
		targets: make(map[uint32]*framebuffer),
	}
	if err := s.root.Init(nil, opts...); err != nil {
		return nil, errors.Wrap(err, "service arena")
	}
	return s, nil
}

// Call decodes one JSON request, executes it and returns the encoded
// response. Failures are reported inside the response.
func (s *Service) Call(input []byte) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	if s.verbose {
		s.log.Info("request", "body", string(input))
	}

	var resp Response
	if s.closed {
		resp.Error = ErrClosed.Error()
	} else {
		var tmp arena.Arena
		if err := tmp.Init(nil, s.opts...); err != nil {
			resp.Error = err.Error()
		} else {
			resp = s.handle(&tmp, input)
			tmp.Free()
		}
	}
	resp.RPC.Duration = time.Since(start).Seconds()

	out := s.encode(&resp)
	if s.verbose {
		s.log.Info("response", "body", string(out))
	}
	return out
}

func (s *Service) encode(resp *Response) []byte {
	var (
		out []byte
		err error
	)
	if s.pretty {
		out, err = json.MarshalIndent(resp, "", "  ")
	} else {
		out, err = json.Marshal(resp)
	}
	if err != nil {
		s.log.Error(err, "encode response")
		return []byte(fmt.Sprintf(`{"error":%q}`, err.Error()))
	}
	return out
}

func (s *Service) handle(tmp *arena.Arena, input []byte) Response {
	body, err := tmp.AllocCopy(1, len(input), input)
	if err != nil {
		return fail("Out of memory: %v", err)
	}
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		return fail("Failed to parse JSON: %v", err)
	}
	s.log.V(1).Info("command", "cmd", req.Cmd)

	switch req.Cmd {
	case "init":
		return s.cmdInit(&req)
	case "loadScene":
		return s.cmdLoadScene(tmp, &req)
	case "render":
		return s.cmdRender(&req)
	case "present":
		return s.cmdPresent(&req)
	case "getPixels":
		return s.cmdGetPixels(&req)
	case "freeResources":
		return s.cmdFreeResources(&req)
	case "":
		return fail("Unknown cmd: '(missing)'")
	default:
		return fail("Unknown cmd: '%s'", req.Cmd)
	}
}

func fail(format string, args ...any) Response {
	return Response{Error: fmt.Sprintf(format, args...)}
}

func (s *Service) cmdInit(req *Request) Response {
	if req.Pretty != nil {
		s.pretty = *req.Pretty
	}
	if req.Verbose != nil {
		s.verbose = *req.Verbose
	}
	pretty, verbose := s.pretty, s.verbose
	return Response{Pretty: &pretty, Verbose: &verbose}
}

func (s *Service) findScene(name string) *scene {
	for _, sc := range s.scenes {
		if sc.name == name {
			return sc
		}
	}
	return nil
}

func (s *Service) cmdLoadScene(tmp *arena.Arena, req *Request) Response {
	if req.Name == "" {
		return fail("Missing field: 'name'")
	}
	if len(req.Data) == 0 {
		return fail("Bad data range: { %d bytes }", len(req.Data))
	}

	sc := s.findScene(req.Name)
	if sc == nil {
		a, err := arena.New(nil, s.opts...)
		if err != nil {
			return fail("Failed to load scene: %v", err)
		}
		name, err := a.AllocString(req.Name)
		if err != nil {
			a.Free()
			return fail("Failed to load scene: %v", err)
		}
		sc = &scene{arena: a, name: name}
		s.scenes = append(s.scenes, sc)
	} else {
		// New contents invalidate everything derived from the old ones.
		s.freeView(sc)
		sc.arena.Release(sc.data)
		sc.data = nil
	}

	data, err := sc.arena.AllocCopy(1, len(req.Data), req.Data)
	if err != nil {
		msg, _ := tmp.AllocString(err.Error())
		return fail("Failed to load scene:\n%s", msg)
	}
	sc.data = data
	return Response{Scene: &SceneInfo{Name: sc.name, Bytes: len(data)}}
}

func (s *Service) cmdRender(req *Request) Response {
	if req.Target == nil {
		return fail("Missing field: 'target'")
	}
	if req.Desc == nil {
		return fail("Missing field: 'desc'")
	}
	if req.Desc.SceneName == "" {
		return fail("Missing field: 'sceneName'")
	}
	sc := s.findScene(req.Desc.SceneName)
	if sc == nil {
		return fail("Scene not found: '%s'", req.Desc.SceneName)
	}

	target := *req.Target
	if target.Width == 0 {
		target.Width = defaultTargetSize
	}
	if target.Height == 0 {
		target.Height = defaultTargetSize
	}
	if target.Samples == 0 {
		target.Samples = 1
	}
	if err := checkTarget(target); err != nil {
		return fail("Failed to create target: %v", err)
	}

	if sc.view == nil {
		v, err := s.makeView(sc)
		if err != nil {
			return fail("Failed to create scene: %v", err)
		}
		sc.view = v
	}
	if err := s.initFramebuffer(target); err != nil {
		return fail("Failed to create target: %v", err)
	}
	return Response{}
}

func (s *Service) makeView(sc *scene) (*sceneView, error) {
	a, err := arena.New(&s.root)
	if err != nil {
		return nil, err
	}
	v := &sceneView{arena: a}
	if v.vertices, _, err = s.dev.MakeOwned(a, gfx.KindBuffer, len(sc.data)); err == nil {
		if v.shader, _, err = s.dev.MakeOwned(a, gfx.KindShader, 0); err == nil {
			v.pipeline, _, err = s.dev.MakeOwned(a, gfx.KindPipeline, 0)
		}
	}
	if err != nil {
		a.Free()
		return nil, err
	}
	s.log.V(1).Info("scene view created", "scene", sc.name, "bytes", len(sc.data))
	return v, nil
}

func (s *Service) freeView(sc *scene) {
	if sc.view == nil {
		return
	}
	sc.view.arena.Free()
	sc.view = nil
}

// initFramebuffer sizes the render target for a render of the given size.
// Targets only grow; a larger request or a different sample count replaces
// the images, destroying the old ones on the spot.
func (s *Service) initFramebuffer(desc TargetDesc) error {
	fb := s.targets[desc.Index]
	if fb == nil {
		fb = &framebuffer{}
		s.targets[desc.Index] = fb
	}
	fb.curWidth, fb.curHeight = desc.Width, desc.Height
	if desc.Width <= fb.maxWidth && desc.Height <= fb.maxHeight && desc.Samples == fb.samples {
		return nil
	}

	if s.fbArena == nil {
		a, err := arena.New(&s.root)
		if err != nil {
			return err
		}
		s.fbArena = a
	}
	for _, p := range []*gfx.Handle{fb.deferPass, fb.deferColor, fb.deferDepth} {
		if p != nil {
			arena.CancelValue(s.fbArena, p, true)
		}
	}
	width := max(desc.Width, fb.maxWidth)
	height := max(desc.Height, fb.maxHeight)
	fb.deferPass, fb.deferColor, fb.deferDepth = nil, nil, nil
	fb.color, fb.depth, fb.pass = gfx.Handle{}, gfx.Handle{}, gfx.Handle{}
	// Stays zero until every image exists so a failed resize is retried.
	fb.maxWidth, fb.maxHeight = 0, 0

	size := int(width) * int(height) * bytesPerPixel * int(desc.Samples)

	var err error
	if fb.color, fb.deferColor, err = s.dev.MakeOwned(s.fbArena, gfx.KindImage, size); err != nil {
		return err
	}
	if fb.depth, fb.deferDepth, err = s.dev.MakeOwned(s.fbArena, gfx.KindImage, size); err != nil {
		return err
	}
	if fb.pass, fb.deferPass, err = s.dev.MakeOwned(s.fbArena, gfx.KindPass, 0); err != nil {
		return err
	}
	fb.maxWidth, fb.maxHeight = width, height
	fb.samples = desc.Samples
	s.log.V(1).Info("framebuffer resized", "target", desc.Index, "width", width, "height", height, "samples", desc.Samples)
	return nil
}

// checkTarget bounds render targets. Framebuffer and pixel buffer sizes are
// derived from these values, so anything past the limit is refused up front.
func checkTarget(desc TargetDesc) error {
	if desc.Width > maxTargetSize || desc.Height > maxTargetSize {
		return errors.Errorf("target %dx%d exceeds %dx%d", desc.Width, desc.Height, maxTargetSize, maxTargetSize)
	}
	if desc.Samples > maxSamples {
		return errors.Errorf("%d samples exceeds %d", desc.Samples, maxSamples)
	}
	return nil
}

func (s *Service) framebufferFor(index, width, height uint32) (*framebuffer, error) {
	fb := s.targets[index]
	if fb == nil || !fb.color.Valid() {
		return nil, errors.Errorf("target %d not rendered", index)
	}
	if width > fb.maxWidth || height > fb.maxHeight {
		return nil, errors.Errorf("target %d is %dx%d, requested %dx%d", index, fb.maxWidth, fb.maxHeight, width, height)
	}
	return fb, nil
}

func (s *Service) cmdPresent(req *Request) Response {
	if _, err := s.framebufferFor(req.TargetIndex, req.Width, req.Height); err != nil {
		return fail("Failed to present: %v", err)
	}
	return Response{}
}

func (s *Service) cmdGetPixels(req *Request) Response {
	if _, err := s.framebufferFor(req.TargetIndex, req.Width, req.Height); err != nil {
		return fail("Failed to get pixels: %v", err)
	}

	required := int(req.Width) * int(req.Height) * bytesPerPixel
	if arena.Capacity(s.pixels) < required {
		s.log.V(1).Info("growing pixel buffer", "from", arena.Capacity(s.pixels), "to", required)
	}
	pixels, err := s.root.Realloc(1, required, s.pixels)
	if err != nil {
		return fail("Failed to get pixels: %v", err)
	}
	s.pixels = pixels
	for i := 0; i < len(pixels); i += bytesPerPixel {
		copy(pixels[i:], clearColor[:])
	}
	return Response{Pixels: &PixelsInfo{
		Width:    req.Width,
		Height:   req.Height,
		Bytes:    len(pixels),
		Capacity: arena.Capacity(pixels),
	}}
}

func (s *Service) cmdFreeResources(req *Request) Response {
	if req.Scenes {
		for _, sc := range s.scenes {
			s.freeView(sc)
		}
	}
	if req.Targets {
		s.freeTargets()
	}
	return Response{}
}

func (s *Service) freeTargets() {
	if s.fbArena != nil {
		s.fbArena.Free()
		s.fbArena = nil
	}
	clear(s.targets)
}

// Pixels returns the buffer filled by the last getPixels command. It is
// overwritten by the next one and invalid after Close.
func (s *Service) Pixels() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pixels
}

// Stats reports the arenas the service owns by name: "service",
// "framebuffers" and "scene:<name>" for every loaded scene.
func (s *Service) Stats() map[string]arena.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := map[string]arena.Stats{}
	if s.closed {
		return stats
	}
	stats["service"] = s.root.Stats()
	if s.fbArena != nil {
		stats["framebuffers"] = s.fbArena.Stats()
	}
	for _, sc := range s.scenes {
		stats["scene:"+sc.name] = sc.arena.Stats()
	}
	return stats
}

// Close frees every scene, view and target. Later calls fail with ErrClosed.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for _, sc := range s.scenes {
		sc.arena.Free()
	}
	s.scenes = nil
	// Views and the framebuffer arena are children of the service arena.
	s.root.Free()
	s.fbArena = nil
	clear(s.targets)
	s.pixels = nil
}
