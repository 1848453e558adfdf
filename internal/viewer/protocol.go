package viewer

import jsoniter "github.com/json-iterator/go"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Request is one viewer command. Cmd selects the command; the other fields
// are read by the commands that need them.
type Request struct {
	Cmd string `json:"cmd"`

	// init
	Pretty  *bool `json:"pretty,omitempty"`
	Verbose *bool `json:"verbose,omitempty"`

	// loadScene
	Name string `json:"name,omitempty"`
	Data []byte `json:"data,omitempty"`

	// render
	Target *TargetDesc `json:"target,omitempty"`
	Desc   *RenderDesc `json:"desc,omitempty"`

	// present, getPixels
	TargetIndex uint32 `json:"targetIndex,omitempty"`
	Width       uint32 `json:"width,omitempty"`
	Height      uint32 `json:"height,omitempty"`

	// freeResources
	Scenes  bool `json:"scenes,omitempty"`
	Targets bool `json:"targets,omitempty"`
}

type TargetDesc struct {
	Index   uint32 `json:"index"`
	Width   uint32 `json:"width"`
	Height  uint32 `json:"height"`
	Samples uint32 `json:"samples"`
}

type RenderDesc struct {
	SceneName string  `json:"sceneName"`
	Camera    *Camera `json:"camera,omitempty"`
}

type Camera struct {
	Position    []float32 `json:"position,omitempty"`
	Target      []float32 `json:"target,omitempty"`
	FieldOfView float32   `json:"fieldOfView,omitempty"`
	NearPlane   float32   `json:"nearPlane,omitempty"`
	FarPlane    float32   `json:"farPlane,omitempty"`
}

// Response is the reply to a Request. Error is set when the command failed.
type Response struct {
	RPC   RPCInfo `json:"rpc"`
	Error string  `json:"error,omitempty"`

	Pretty  *bool       `json:"pretty,omitempty"`
	Verbose *bool       `json:"verbose,omitempty"`
	Scene   *SceneInfo  `json:"scene,omitempty"`
	Pixels  *PixelsInfo `json:"pixels,omitempty"`
}

type RPCInfo struct {
	Duration float64 `json:"duration"`
}

type SceneInfo struct {
	Name  string `json:"name"`
	Bytes int    `json:"bytes"`
}

type PixelsInfo struct {
	Width    uint32 `json:"width"`
	Height   uint32 `json:"height"`
	Bytes    int    `json:"bytes"`
	Capacity int    `json:"capacity"`
}
