package plugin

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"firestige.xyz/dissect/internal/core"
)

func resetRegistries() {
	capturerReg.Reset()
	parserReg.Reset()
	processorReg.Reset()
	reporterReg.Reset()
}

// kinds exercises the four registries through their exported functions.
var kinds = []struct {
	kind     string
	register func(name string)
	create   func(name string) (string, error)
	list     func() []string
}{
	{
		kind: "capturer",
		register: func(n string) {
			RegisterCapturer(n, func() Capturer { return &mockCapturer{mockPlugin: mockPlugin{name: n}} })
		},
		create: func(n string) (string, error) {
			f, err := GetCapturerFactory(n)
			if err != nil {
				return "", err
			}
			return f().Name(), nil
		},
		list: ListCapturers,
	},
	{
		kind: "parser",
		register: func(n string) {
			RegisterParser(n, func() Parser { return &mockParser{mockPlugin: mockPlugin{name: n}} })
		},
		create: func(n string) (string, error) {
			f, err := GetParserFactory(n)
			if err != nil {
				return "", err
			}
			return f().Name(), nil
		},
		list: ListParsers,
	},
	{
		kind: "processor",
		register: func(n string) {
			RegisterProcessor(n, func() Processor { return &mockProcessor{mockPlugin: mockPlugin{name: n}} })
		},
		create: func(n string) (string, error) {
			f, err := GetProcessorFactory(n)
			if err != nil {
				return "", err
			}
			return f().Name(), nil
		},
		list: ListProcessors,
	},
	{
		kind: "reporter",
		register: func(n string) {
			RegisterReporter(n, func() Reporter { return &mockReporter{mockPlugin: mockPlugin{name: n}} })
		},
		create: func(n string) (string, error) {
			f, err := GetReporterFactory(n)
			if err != nil {
				return "", err
			}
			return f().Name(), nil
		},
		list: ListReporters,
	},
}

func TestRegistry_RegisterAndCreate(t *testing.T) {
	for _, k := range kinds {
		t.Run(k.kind, func(t *testing.T) {
			resetRegistries()
			k.register("rtsp")
			got, err := k.create("rtsp")
			if err != nil {
				t.Fatalf("create: %v", err)
			}
			if got != "rtsp" {
				t.Errorf("instance name = %q, want rtsp", got)
			}
		})
	}
}

func TestRegistry_NotFound(t *testing.T) {
	resetRegistries()
	for _, k := range kinds {
		t.Run(k.kind, func(t *testing.T) {
			_, err := k.create("h245")
			if !errors.Is(err, core.ErrPluginNotFound) {
				t.Fatalf("expected ErrPluginNotFound, got %v", err)
			}
			if !strings.Contains(err.Error(), k.kind+` "h245"`) {
				t.Errorf("error %q does not name the %s", err, k.kind)
			}
		})
	}
}

func TestRegistry_ListSorted(t *testing.T) {
	for _, k := range kinds {
		t.Run(k.kind, func(t *testing.T) {
			resetRegistries()
			if got := k.list(); len(got) != 0 {
				t.Fatalf("empty registry lists %v", got)
			}
			for _, n := range []string{"t38", "m3ap", "rtp"} {
				k.register(n)
			}
			if got, want := k.list(), []string{"m3ap", "rtp", "t38"}; !reflect.DeepEqual(got, want) {
				t.Errorf("list = %v, want %v", got, want)
			}
		})
	}
}

// A capturer and a reporter may share a name.
func TestRegistry_KindsAreSeparate(t *testing.T) {
	resetRegistries()
	for _, k := range kinds {
		k.register("console")
	}
	for _, k := range kinds {
		if _, err := k.create("console"); err != nil {
			t.Errorf("%s: %v", k.kind, err)
		}
	}
}

func TestRegistry_Panics(t *testing.T) {
	tests := []struct {
		name string
		fn   func()
	}{
		{"duplicate", func() {
			RegisterParser("rdt", func() Parser { return &mockParser{} })
			RegisterParser("rdt", func() Parser { return &mockParser{} })
		}},
		{"empty name", func() { RegisterReporter("", func() Reporter { return &mockReporter{} }) }},
		{"nil factory", func() { RegisterCapturer("pcapfile", nil) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetRegistries()
			defer func() {
				if recover() == nil {
					t.Errorf("expected panic")
				}
			}()
			tt.fn()
		})
	}
}
