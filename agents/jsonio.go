package agents

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/git5001/agentpipe"
	"github.com/git5001/agentpipe/engine"
)

// loadJSONState remembers whether the file was already emitted.
type loadJSONState struct {
	Done bool `json:"done"`
}

// LoadJSON is a source that reads one JSON document from a file and emits
// the decoded value once.
type LoadJSON struct {
	*engine.BaseAgent
	path  string
	state *loadJSONState
}

// NewLoadJSON creates the source for the given file path.
func NewLoadJSON(id, path string) *LoadJSON {
	state := &loadJSONState{}
	return &LoadJSON{
		BaseAgent: engine.NewBaseAgent("load_json",
			engine.WithUUID(id),
			engine.WithState(state, 1),
		),
		path:  path,
		state: state,
	}
}

func (a *LoadJSON) Step() (engine.Activity, error) {
	if a.state.Done {
		return engine.Idle, nil
	}
	a.state.Done = true
	data, err := os.ReadFile(a.path)
	if err != nil {
		return engine.Productive, fmt.Errorf("load %s: %w", a.path, err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return engine.Productive, fmt.Errorf("decode %s: %w", a.path, err)
	}
	if err := a.Output().Send(v, engine.Parents{}); err != nil {
		return engine.Productive, err
	}
	return engine.Productive, nil
}

// saveJSONState carries the running file sequence number.
type saveJSONState struct {
	Seq int `json:"seq"`
}

// SaveJSON is a sink that writes every message as a numbered JSON file into
// a directory.
type SaveJSON struct {
	*engine.BaseAgent
	dir   string
	state *saveJSONState
}

// NewSaveJSON creates the sink writing into dir.
func NewSaveJSON(id, dir string) *SaveJSON {
	state := &saveJSONState{}
	a := &SaveJSON{dir: dir, state: state}
	a.BaseAgent = engine.NewBaseAgent("save_json",
		engine.WithUUID(id),
		engine.WithInput(nil),
		engine.WithState(state, 1),
		engine.WithRun(a.save),
	)
	return a
}

func (a *SaveJSON) save(v any) (any, error) {
	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	name := filepath.Join(a.dir, fmt.Sprintf("msg_%05d.json", a.state.Seq))
	a.state.Seq++
	if err := os.WriteFile(name, data, 0o644); err != nil {
		return nil, err
	}
	return nil, nil
}

func init() {
	agentpipe.Register("load_json", func(def agentpipe.AgentDef) (engine.Agent, error) {
		path := def.GetString("path", "")
		if path == "" {
			return nil, fmt.Errorf("load_json %s: path is required", def.Name)
		}
		return NewLoadJSON(def.Name, path), nil
	})
	agentpipe.Register("save_json", func(def agentpipe.AgentDef) (engine.Agent, error) {
		dir := def.GetString("dir", "")
		if dir == "" {
			return nil, fmt.Errorf("save_json %s: dir is required", def.Name)
		}
		return NewSaveJSON(def.Name, dir), nil
	})
}
