package plugin

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jobrunner/mapshell/internal/domain"
	"github.com/jobrunner/mapshell/pkg/pluginapi"
)

const helloMeta = `-- MAPSHELL_PLUGIN_METADATA {"iid":"io.mapshell.plugin/1","metadata":{"id":"hello","name":"Hello","version":"1.0.0","type":"tool"}}
`

const helloScript = helloMeta + `
plugin = {
  entry_points = { main = "hello.qml", toolbar = "hello-tool" },
  received = {},
}

function plugin:initialize(host)
  self.host = host
  local ok = host.set_config("hello.greeting", "hi")
  host.send_message("hello.ready", { name = host.get_config("hello.greeting", "none"), count = 2, ok = ok })
  return true
end

function plugin:on_message(topic, payload)
  table.insert(self.received, topic)
  self.host.send_message("hello.echo", topic)
  self.host.emit("hello.seen", payload.id)
end

function plugin:shutdown()
  self.host.log("info", "bye")
end
`

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type sent struct {
	topic   string
	payload any
}

type fakeContext struct {
	sent   []sent
	config map[string]any
}

func newFakeContext() *fakeContext {
	return &fakeContext{config: make(map[string]any)}
}

func (c *fakeContext) Service(name string) (any, bool) {
	return nil, name == "MessageBus"
}

func (c *fakeContext) SendMessage(topic string, payload any) {
	c.sent = append(c.sent, sent{topic, payload})
}

func (c *fakeContext) Config(key string, def any) any {
	if v, ok := c.config[key]; ok {
		return v
	}
	return def
}

func (c *fakeContext) SetConfig(key string, value any) error {
	c.config[key] = value
	return nil
}

func (c *fakeContext) Logger() *slog.Logger {
	return quietLogger()
}

func writeScript(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestParseMetadata(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantID  string
		wantErr bool
	}{
		{
			name:   "lua comment",
			data:   helloMeta,
			wantID: "hello",
		},
		{
			name:   "binary noise and whitespace",
			data:   "\x00\x01ELF" + pluginapi.MetadataMarker + "\n\t {\"iid\":\"x\",\"metadata\":{\"id\":\"native\"}}\x00\x00",
			wantID: "native",
		},
		{
			name:   "marker without json then a real block",
			data:   pluginapi.MetadataMarker + "\x00" + pluginapi.MetadataMarker + ` {"metadata":{"id":"second"}}`,
			wantID: "second",
		},
		{
			name:    "no marker",
			data:    "plugin = {}",
			wantErr: true,
		},
		{
			name:    "broken json",
			data:    pluginapi.MetadataMarker + ` {"metadata":`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			meta, err := parseMetadata([]byte(tt.data))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseMetadata() = %+v, want error", meta)
				}
				if !errors.Is(err, domain.ErrNotFound) {
					t.Errorf("parseMetadata() error = %v, want ErrNotFound", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseMetadata() error = %v", err)
			}
			if meta.Info.ID != tt.wantID {
				t.Errorf("ID = %q, want %q", meta.Info.ID, tt.wantID)
			}
		})
	}
}

func TestReadMetadata(t *testing.T) {
	path := writeScript(t, "hello.lua", helloScript)

	meta, err := ReadMetadata(path)
	if err != nil {
		t.Fatalf("ReadMetadata() error = %v", err)
	}
	if meta.IID != pluginapi.InterfaceID {
		t.Errorf("IID = %q", meta.IID)
	}
	if meta.Info.Name != "Hello" || meta.Info.Version != "1.0.0" || meta.Info.Type != pluginapi.TypeTool {
		t.Errorf("Info = %+v", meta.Info)
	}

	if _, err := ReadMetadata(filepath.Join(t.TempDir(), "missing.lua")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("ReadMetadata(missing) error = %v", err)
	}
}

func openLua(t *testing.T, script string) (*Lua, pluginapi.Plugin) {
	t.Helper()
	loader := NewLua(quietLogger())
	binary, err := loader.Open(writeScript(t, "p.lua", script))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = binary.Release() })

	p, err := binary.Instance()
	if err != nil {
		t.Fatalf("Instance() error = %v", err)
	}
	return loader, p
}

func TestLuaPluginLifecycle(t *testing.T) {
	_, p := openLua(t, helloScript)

	if p.Info().ID != "hello" {
		t.Errorf("Info().ID = %q", p.Info().ID)
	}

	ctx := newFakeContext()
	if err := p.Initialize(ctx); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if ctx.config["hello.greeting"] != "hi" {
		t.Errorf("config = %v", ctx.config)
	}
	if len(ctx.sent) != 1 || ctx.sent[0].topic != "hello.ready" {
		t.Fatalf("sent = %+v", ctx.sent)
	}
	payload, ok := ctx.sent[0].payload.(map[string]any)
	if !ok {
		t.Fatalf("payload type %T", ctx.sent[0].payload)
	}
	if payload["name"] != "hi" || payload["count"] != int64(2) || payload["ok"] != true {
		t.Errorf("payload = %v", payload)
	}

	ep, ok := p.(pluginapi.EntryPointProvider)
	if !ok {
		t.Fatal("lua plugin does not provide entry points")
	}
	if got := ep.EntryPoints(); got.Main != "hello.qml" || got.Toolbar != "hello-tool" || got.Settings != "" {
		t.Errorf("EntryPoints() = %+v", got)
	}

	var emitted []sent
	p.(pluginapi.MessageEmitter).SetMessageSink(func(topic string, payload any) {
		emitted = append(emitted, sent{topic, payload})
	})
	p.(pluginapi.MessageReceiver).OnMessage("source.added", map[string]any{"id": "a"})

	if len(ctx.sent) != 2 || ctx.sent[1].topic != "hello.echo" || ctx.sent[1].payload != "source.added" {
		t.Errorf("sent after message = %+v", ctx.sent)
	}
	if len(emitted) != 1 || emitted[0].topic != "hello.seen" || emitted[0].payload != "a" {
		t.Errorf("emitted = %+v", emitted)
	}

	if err := p.Shutdown(); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestLuaPluginInitializeFailure(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"returns false", `function plugin:initialize() return false, "no network" end`, "no network"},
		{"raises", `function plugin:initialize() error("boom") end`, "boom"},
		{"false without message", `function plugin:initialize() return false end`, "returned false"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, p := openLua(t, helloMeta+"plugin = {}\n"+tt.body+"\n")
			err := p.Initialize(newFakeContext())
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Initialize() error = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestLuaPluginOptionalFunctions(t *testing.T) {
	_, p := openLua(t, helloMeta+"plugin = {}\n")

	if err := p.Initialize(newFakeContext()); err != nil {
		t.Errorf("Initialize() error = %v", err)
	}
	p.(pluginapi.MessageReceiver).OnMessage("app.started", nil)
	if got := p.(pluginapi.EntryPointProvider).EntryPoints(); got != (pluginapi.EntryPoints{}) {
		t.Errorf("EntryPoints() = %+v, want empty", got)
	}
	if err := p.Shutdown(); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestLuaMissingPluginTable(t *testing.T) {
	loader := NewLua(quietLogger())
	binary, err := loader.Open(writeScript(t, "empty.lua", helloMeta+"local x = 1\n"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer func() { _ = binary.Release() }()

	if _, err := binary.Instance(); !errors.Is(err, domain.ErrCapability) {
		t.Errorf("Instance() error = %v, want ErrCapability", err)
	}
}

func TestLuaSandbox(t *testing.T) {
	tests := []struct {
		name   string
		script string
	}{
		{"os", `os.exit(1)`},
		{"io", `io.open("/etc/passwd")`},
		{"dofile", `dofile("/tmp/x.lua")`},
		{"require", `require("socket")`},
	}
	loader := NewLua(quietLogger())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := loader.Open(writeScript(t, "bad.lua", helloMeta+tt.script+"\n")); err == nil {
				t.Errorf("Open() ran %s", tt.name)
			}
		})
	}
}

func TestLuaCallTimeout(t *testing.T) {
	loader := NewLua(quietLogger())
	loader.timeout = 50 * time.Millisecond

	binary, err := loader.Open(writeScript(t, "spin.lua", helloMeta+"plugin = {}\nfunction plugin:initialize() while true do end end\n"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer func() { _ = binary.Release() }()
	p, err := binary.Instance()
	if err != nil {
		t.Fatalf("Instance() error = %v", err)
	}

	start := time.Now()
	if err := p.Initialize(newFakeContext()); err == nil {
		t.Error("Initialize() error = nil, want timeout")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Initialize() took %v", elapsed)
	}
}

func TestLuaReleasedState(t *testing.T) {
	loader := NewLua(quietLogger())
	binary, err := loader.Open(writeScript(t, "p.lua", helloScript))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	p, err := binary.Instance()
	if err != nil {
		t.Fatalf("Instance() error = %v", err)
	}
	if err := binary.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if err := binary.Release(); err != nil {
		t.Errorf("second Release() error = %v", err)
	}
	if err := p.Initialize(newFakeContext()); !errors.Is(err, domain.ErrUnavailable) {
		t.Errorf("Initialize() after release error = %v, want ErrUnavailable", err)
	}
	if _, err := binary.Instance(); !errors.Is(err, domain.ErrUnavailable) {
		t.Errorf("Instance() after release error = %v", err)
	}
}

func TestCompositeLoader(t *testing.T) {
	loader := NewLoader(quietLogger())

	tests := []struct {
		path string
		want bool
	}{
		{"/plugins/hello.lua", true},
		{"/plugins/HELLO.LUA", true},
		{"/plugins/native.so", true},
		{"/plugins/readme.txt", false},
		{"/plugins/noext", false},
	}
	for _, tt := range tests {
		if got := loader.Matches(tt.path); got != tt.want {
			t.Errorf("Matches(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}

	script := writeScript(t, "hello.lua", helloScript)
	meta, err := loader.ReadMetadata(script)
	if err != nil || meta.Info.ID != "hello" {
		t.Errorf("ReadMetadata() = %+v, %v", meta, err)
	}
	binary, err := loader.Open(script)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	_ = binary.Release()

	if _, err := loader.ReadMetadata("/plugins/readme.txt"); !errors.Is(err, domain.ErrCapability) {
		t.Errorf("ReadMetadata(txt) error = %v, want ErrCapability", err)
	}
	if _, err := loader.Open("/plugins/readme.txt"); !errors.Is(err, domain.ErrCapability) {
		t.Errorf("Open(txt) error = %v, want ErrCapability", err)
	}
}

func TestNativeMatchesPerPlatform(t *testing.T) {
	tests := []struct {
		goos string
		path string
		want bool
	}{
		{"linux", "/plugins/a.so", true},
		{"linux", "/plugins/a.SO", true},
		{"linux", "/plugins/a.dylib", false},
		{"linux", "/plugins/a.dll", false},
		{"darwin", "/plugins/a.dylib", true},
		{"darwin", "/plugins/a.bundle", true},
		{"darwin", "/plugins/a.so", true},
		{"darwin", "/plugins/a.dll", false},
		{"freebsd", "/plugins/a.so", true},
		{"windows", "/plugins/a.dll", false},
		{"windows", "/plugins/a.so", false},
	}
	for _, tt := range tests {
		t.Run(tt.goos+" "+filepath.Base(tt.path), func(t *testing.T) {
			if got := matchesExtension(tt.goos, tt.path); got != tt.want {
				t.Errorf("matchesExtension(%q, %q) = %v, want %v", tt.goos, tt.path, got, tt.want)
			}
		})
	}
}

func TestNativeOpenFailure(t *testing.T) {
	path := writeScript(t, "fake.so", helloMeta)
	if _, err := (Native{}).Open(path); err == nil {
		t.Error("Open() accepted a file that is not a shared object")
	}
	meta, err := (Native{}).ReadMetadata(path)
	if err != nil || meta.Info.ID != "hello" {
		t.Errorf("ReadMetadata() = %+v, %v", meta, err)
	}
}
