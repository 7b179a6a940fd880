package bus

import (
	"log/slog"
	"os"
	"reflect"
	"testing"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestMatch(t *testing.T) {
	tests := []struct {
		pattern string
		topic   string
		want    bool
	}{
		{"*", "source.added", true},
		{"source.*", "source.added", true},
		{"source.*", "source.error", true},
		{"source.*", "sources.added", false},
		{"source.*", "source", false},
		{"source.added", "source.added", true},
		{"source.added", "source.removed", false},
		{"plugin.loaded", "plugin.loaded.extra", false},
	}
	for _, tt := range tests {
		t.Run(tt.pattern+" "+tt.topic, func(t *testing.T) {
			if got := Match(tt.pattern, tt.topic); got != tt.want {
				t.Errorf("Match(%q, %q) = %v, want %v", tt.pattern, tt.topic, got, tt.want)
			}
		})
	}
}

func TestMemoryPublishSubscribe(t *testing.T) {
	b := NewMemory(quietLogger())

	var got []string
	b.Subscribe("*", func(topic string, _ any) { got = append(got, "all:"+topic) })
	unsubscribe := b.Subscribe("source.*", func(topic string, _ any) { got = append(got, "source:"+topic) })
	b.Subscribe("plugin.loaded", func(topic string, payload any) {
		got = append(got, "plugin:"+payload.(map[string]any)["id"].(string))
	})

	b.Publish("source.added", nil)
	b.Publish("plugin.loaded", map[string]any{"id": "hello"})
	unsubscribe()
	unsubscribe()
	b.Publish("source.removed", nil)

	want := []string{
		"all:source.added",
		"source:source.added",
		"all:plugin.loaded",
		"plugin:hello",
		"all:source.removed",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("deliveries = %v, want %v", got, want)
	}
}

func TestMemoryPanickingHandler(t *testing.T) {
	b := NewMemory(quietLogger())

	delivered := false
	b.Subscribe("*", func(string, any) { panic("boom") })
	b.Subscribe("*", func(string, any) { delivered = true })

	b.Publish("app.ready", nil)
	if !delivered {
		t.Error("panic stopped delivery to later handlers")
	}
}

func TestMemorySubscribeDuringDelivery(t *testing.T) {
	b := NewMemory(quietLogger())

	calls := 0
	b.Subscribe("*", func(string, any) {
		calls++
		b.Subscribe("*", func(string, any) { calls++ })
	})

	b.Publish("a", nil)
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

type recorder struct{ topics []string }

func (r *recorder) Publish(topic string, _ any) { r.topics = append(r.topics, topic) }

func TestFanout(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	Fanout{a, b}.Publish("config.changed", nil)

	if len(a.topics) != 1 || len(b.topics) != 1 {
		t.Errorf("fanout deliveries = %v / %v", a.topics, b.topics)
	}
}

func TestSubject(t *testing.T) {
	if got := Subject("mapshell", "source.added"); got != "mapshell.source.added" {
		t.Errorf("Subject() = %q", got)
	}
	if got := Subject("", "source.added"); got != "source.added" {
		t.Errorf("Subject() without prefix = %q", got)
	}
}
