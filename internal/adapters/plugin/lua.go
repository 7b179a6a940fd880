package plugin

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/jobrunner/mapshell/internal/domain"
	"github.com/jobrunner/mapshell/internal/ports/output"
	"github.com/jobrunner/mapshell/pkg/pluginapi"
)

// LuaExtension is the file extension of Lua plugins.
const LuaExtension = ".lua"

// DefaultCallTimeout bounds a single call into a Lua plugin.
const DefaultCallTimeout = 5 * time.Second

// Global names used by Lua plugins.
const (
	luaPluginTable = "plugin"
	luaHostTable   = "host"
)

// Lua loads plugins written in Lua. A Lua plugin assigns a table to the
// global "plugin" with optional methods plugin:initialize(host),
// plugin:shutdown() and plugin:on_message(topic, payload), and an optional
// entry_points table of strings.
//
// Methods report failure by raising an error or returning false followed by
// a message.
type Lua struct {
	logger  *slog.Logger
	timeout time.Duration
}

var _ output.PluginLoader = (*Lua)(nil)

// NewLua creates a Lua plugin loader.
func NewLua(logger *slog.Logger) *Lua {
	return &Lua{logger: logger, timeout: DefaultCallTimeout}
}

// Matches implements output.PluginLoader.
func (l *Lua) Matches(path string) bool {
	return strings.EqualFold(filepath.Ext(path), LuaExtension)
}

// ReadMetadata implements output.PluginLoader.
func (l *Lua) ReadMetadata(path string) (pluginapi.Metadata, error) {
	return ReadMetadata(path)
}

// Open runs the script in a fresh sandboxed state.
func (l *Lua) Open(path string) (output.PluginBinary, error) {
	meta, err := ReadMetadata(path)
	if err != nil {
		return nil, err
	}

	L := newSandbox()
	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()
	L.SetContext(ctx)
	err = L.DoFile(path)
	L.RemoveContext()
	if err != nil {
		L.Close()
		return nil, fmt.Errorf("running %s: %w", path, err)
	}

	return &luaBinary{
		path:    path,
		info:    meta.Info,
		L:       L,
		timeout: l.timeout,
		logger:  l.logger.With("plugin", meta.Info.ID),
	}, nil
}

// newSandbox opens only libraries without file system or process access.
func newSandbox() *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "require", "module"} {
		L.SetGlobal(name, lua.LNil)
	}
	return L
}

type message struct {
	topic   string
	payload any
	toSink  bool
}

type luaBinary struct {
	path    string
	info    pluginapi.Info
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.Mutex
	L      *lua.LState
	closed bool

	// outbox collects messages sent from Lua during a call. They are
	// delivered after the state is unlocked so handlers may call back in.
	outbox []message
	sink   func(topic string, payload any)
	ctx    pluginapi.Context
}

func (b *luaBinary) Instance() (pluginapi.Plugin, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("%s: state closed: %w", b.path, domain.ErrUnavailable)
	}
	if _, ok := b.L.GetGlobal(luaPluginTable).(*lua.LTable); !ok {
		return nil, fmt.Errorf("%s does not define a %q table: %w", b.path, luaPluginTable, domain.ErrCapability)
	}
	return &luaPlugin{b: b}, nil
}

func (b *luaBinary) Release() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		b.L.Close()
	}
	return nil
}

// call invokes plugin[name] if it exists.
func (b *luaBinary) call(name string, args ...lua.LValue) error {
	b.mu.Lock()
	err := b.callLocked(name, args...)
	pending := b.outbox
	b.outbox = nil
	ctx, sink := b.ctx, b.sink
	b.mu.Unlock()

	for _, m := range pending {
		switch {
		case m.toSink && sink != nil:
			sink(m.topic, m.payload)
		case !m.toSink && ctx != nil:
			ctx.SendMessage(m.topic, m.payload)
		}
	}
	return err
}

func (b *luaBinary) callLocked(name string, args ...lua.LValue) error {
	if b.closed {
		return fmt.Errorf("%s: state closed: %w", b.path, domain.ErrUnavailable)
	}
	tbl, ok := b.L.GetGlobal(luaPluginTable).(*lua.LTable)
	if !ok {
		return fmt.Errorf("%q table missing: %w", luaPluginTable, domain.ErrCapability)
	}
	fn, ok := tbl.RawGetString(name).(*lua.LFunction)
	if !ok {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()
	b.L.SetContext(ctx)
	defer b.L.RemoveContext()

	callArgs := append([]lua.LValue{tbl}, args...)
	if err := b.L.CallByParam(lua.P{Fn: fn, NRet: 2, Protect: true}, callArgs...); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	ok2, msg := b.L.Get(-2), b.L.Get(-1)
	b.L.Pop(2)

	if ok2 == lua.LFalse {
		if msg == lua.LNil {
			return fmt.Errorf("%s returned false", name)
		}
		return fmt.Errorf("%s: %s", name, msg.String())
	}
	return nil
}

// hostTable exposes the plugin context to Lua. It is built while the state
// is locked.
func (b *luaBinary) hostTable(ctx pluginapi.Context) *lua.LTable {
	L := b.L
	host := L.NewTable()
	L.SetFuncs(host, map[string]lua.LGFunction{
		"send_message": func(L *lua.LState) int {
			b.outbox = append(b.outbox, message{topic: L.CheckString(1), payload: fromLua(L.Get(2))})
			return 0
		},
		"emit": func(L *lua.LState) int {
			b.outbox = append(b.outbox, message{topic: L.CheckString(1), payload: fromLua(L.Get(2)), toSink: true})
			return 0
		},
		"get_config": func(L *lua.LState) int {
			L.Push(toLua(L, ctx.Config(L.CheckString(1), fromLua(L.Get(2)))))
			return 1
		},
		"set_config": func(L *lua.LState) int {
			if err := ctx.SetConfig(L.CheckString(1), fromLua(L.Get(2))); err != nil {
				L.Push(lua.LFalse)
				L.Push(lua.LString(err.Error()))
				return 2
			}
			L.Push(lua.LTrue)
			return 1
		},
		"has_service": func(L *lua.LState) int {
			_, ok := ctx.Service(L.CheckString(1))
			L.Push(lua.LBool(ok))
			return 1
		},
		"log": func(L *lua.LState) int {
			level, msg := strings.ToLower(L.CheckString(1)), L.CheckString(2)
			logger := ctx.Logger()
			switch level {
			case "debug":
				logger.Debug(msg)
			case "warn", "warning":
				logger.Warn(msg)
			case "error":
				logger.Error(msg)
			default:
				logger.Info(msg)
			}
			return 0
		},
	})
	return host
}

type luaPlugin struct {
	b *luaBinary
}

func (p *luaPlugin) Info() pluginapi.Info {
	return p.b.info
}

func (p *luaPlugin) Initialize(ctx pluginapi.Context) error {
	b := p.b
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("%s: state closed: %w", b.path, domain.ErrUnavailable)
	}
	host := b.hostTable(ctx)
	b.L.SetGlobal(luaHostTable, host)
	b.ctx = ctx
	b.mu.Unlock()

	if err := b.call("initialize", host); err != nil {
		b.mu.Lock()
		b.ctx = nil
		b.mu.Unlock()
		return err
	}
	return nil
}

func (p *luaPlugin) Shutdown() error {
	err := p.b.call("shutdown")
	p.b.mu.Lock()
	p.b.ctx, p.b.sink = nil, nil
	p.b.mu.Unlock()
	return err
}

func (p *luaPlugin) EntryPoints() pluginapi.EntryPoints {
	b := p.b
	b.mu.Lock()
	defer b.mu.Unlock()

	var ep pluginapi.EntryPoints
	if b.closed {
		return ep
	}
	tbl, ok := b.L.GetGlobal(luaPluginTable).(*lua.LTable)
	if !ok {
		return ep
	}
	entries, ok := tbl.RawGetString("entry_points").(*lua.LTable)
	if !ok {
		return ep
	}
	field := func(name string) string {
		if s, ok := entries.RawGetString(name).(lua.LString); ok {
			return string(s)
		}
		return ""
	}
	ep.Main = field("main")
	ep.Settings = field("settings")
	ep.Toolbar = field("toolbar")
	ep.SidePanel = field("side_panel")
	return ep
}

func (p *luaPlugin) SetMessageSink(sink func(topic string, payload any)) {
	p.b.mu.Lock()
	p.b.sink = sink
	p.b.mu.Unlock()
}

func (p *luaPlugin) OnMessage(topic string, payload any) {
	b := p.b
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	arg := toLua(b.L, payload)
	b.mu.Unlock()

	if err := b.call("on_message", lua.LString(topic), arg); err != nil {
		b.logger.Warn("lua plugin message handler failed", "topic", topic, "error", err)
	}
}

// toLua converts a Go value into a Lua value. Types without a direct mapping
// go through their JSON form.
func toLua(L *lua.LState, v any) lua.LValue {
	switch v := v.(type) {
	case nil:
		return lua.LNil
	case lua.LValue:
		return v
	case bool:
		return lua.LBool(v)
	case string:
		return lua.LString(v)
	case int:
		return lua.LNumber(v)
	case int32:
		return lua.LNumber(v)
	case int64:
		return lua.LNumber(v)
	case uint:
		return lua.LNumber(v)
	case float32:
		return lua.LNumber(v)
	case float64:
		return lua.LNumber(v)
	case []any:
		t := L.CreateTable(len(v), 0)
		for _, item := range v {
			t.Append(toLua(L, item))
		}
		return t
	case []string:
		t := L.CreateTable(len(v), 0)
		for _, item := range v {
			t.Append(lua.LString(item))
		}
		return t
	case map[string]any:
		t := L.CreateTable(0, len(v))
		for k, item := range v {
			t.RawSetString(k, toLua(L, item))
		}
		return t
	case map[string]string:
		t := L.CreateTable(0, len(v))
		for k, item := range v {
			t.RawSetString(k, lua.LString(item))
		}
		return t
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return lua.LString(fmt.Sprint(v))
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return lua.LString(fmt.Sprint(v))
	}
	return toLua(L, generic)
}

// fromLua converts a Lua value into a Go value. Sequences become []any,
// other tables map[string]any, integral numbers int64.
func fromLua(v lua.LValue) any {
	return fromLuaVisited(v, make(map[*lua.LTable]bool))
}

func fromLuaVisited(v lua.LValue, visited map[*lua.LTable]bool) any {
	switch v := v.(type) {
	case lua.LBool:
		return bool(v)
	case lua.LString:
		return string(v)
	case lua.LNumber:
		f := float64(v)
		if f == float64(int64(f)) {
			return int64(f)
		}
		return f
	case *lua.LTable:
		if visited[v] {
			return nil
		}
		visited[v] = true
		defer delete(visited, v)

		if n := v.Len(); n > 0 {
			count := 0
			v.ForEach(func(_, _ lua.LValue) { count++ })
			if count == n {
				out := make([]any, n)
				for i := 1; i <= n; i++ {
					out[i-1] = fromLuaVisited(v.RawGetInt(i), visited)
				}
				return out
			}
		}
		out := make(map[string]any)
		v.ForEach(func(k, item lua.LValue) {
			out[k.String()] = fromLuaVisited(item, visited)
		})
		return out
	default:
		return nil
	}
}
