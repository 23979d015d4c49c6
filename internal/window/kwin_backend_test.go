package window

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/bryanchriswhite/pluriview/internal/capture"
)

func TestParseKdotoolIDs(t *testing.T) {
	out := []byte("{aaa-1}\n\n  {bbb-2}  \n")
	want := []string{"{aaa-1}", "{bbb-2}"}
	if got := parseKdotoolIDs(out); !reflect.DeepEqual(got, want) {
		t.Errorf("parseKdotoolIDs() = %v, want %v", got, want)
	}
	if got := parseKdotoolIDs(nil); len(got) != 0 {
		t.Errorf("parseKdotoolIDs(nil) = %v, want empty", got)
	}
}

func TestUUIDFromID(t *testing.T) {
	tests := []struct {
		id   string
		want string
	}{
		{"0_{dc80ff04-3245-4d9b-b9a8-1582640d39e1}", "dc80ff04-3245-4d9b-b9a8-1582640d39e1"},
		{"{abc}", "abc"},
		{"plain", "plain"},
		{"}broken{", "}broken{"},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			if got := uuidFromID(tt.id); got != tt.want {
				t.Errorf("uuidFromID(%q) = %q, want %q", tt.id, got, tt.want)
			}
		})
	}
}

func TestWindowObjectPath(t *testing.T) {
	tests := []struct {
		name   string
		uuid   string
		want   string
		wantOK bool
	}{
		{"dashes replaced", "dc80-3245", "/org/kde/KWin/Window/dc80_3245", true},
		{"already valid", "dc80_3245", "/org/kde/KWin/Window/dc80_3245", true},
		{"empty", "", "", false},
		{"unusable", "a b", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := windowObjectPath(tt.uuid)
			if ok != tt.wantOK || string(got) != tt.want {
				t.Errorf("windowObjectPath(%q) = %q, %v, want %q, %v", tt.uuid, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestClassFromTitle(t *testing.T) {
	tests := []struct {
		title string
		want  string
	}{
		{"Inbox \u2014 Mozilla Thunderbird", "mozilla thunderbird"},
		{"main.go - Visual Studio Code", "visual studio code"},
		{"a - b - Konsole", "konsole"},
		{"no separator", ""},
		{" - leading", ""},
		{"Page - " + strings.Repeat("x", 31), ""},
	}
	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			if got := classFromTitle(tt.title); got != tt.want {
				t.Errorf("classFromTitle(%q) = %q, want %q", tt.title, got, tt.want)
			}
		})
	}
}

func TestXIDFromValue(t *testing.T) {
	tests := []struct {
		name   string
		value  interface{}
		want   uint32
		wantOK bool
	}{
		{"uint32", uint32(0x3a00007), 0x3a00007, true},
		{"int32", int32(0x3a00007), 0x3a00007, true},
		{"uint64", uint64(0x3a00007), 0x3a00007, true},
		{"int64", int64(0x3a00007), 0x3a00007, true},
		{"zero", uint32(0), 0, false},
		{"native wayland", uint32(noXID), 0, false},
		{"string", "0x3a00007", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := xidFromValue(tt.value)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("xidFromValue(%v) = %#x, %v, want %#x, %v", tt.value, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestRunnerWindows(t *testing.T) {
	raw := [][]interface{}{
		{"0_{aaa}", "Inbox - Thunderbird", "", int32(0), 1.0},
		{"0_{bbb}", "Terminal", "konsole"},
		{"0_{ccc}", "", ""},
		{"short"},
		{42, "bad id", "x"},
	}
	want := []kwinWindow{
		{uuid: "aaa", title: "Inbox - Thunderbird", class: "thunderbird"},
		{uuid: "bbb", title: "Terminal", class: "konsole"},
	}
	if got := runnerWindows(raw); !reflect.DeepEqual(got, want) {
		t.Errorf("runnerWindows() = %+v, want %+v", got, want)
	}
}

// fakeKdotool answers kdotool invocations from a table keyed by the
// space-joined arguments.
type fakeKdotool map[string]string

func (f fakeKdotool) run(name string, args ...string) ([]byte, error) {
	out, ok := f[strings.Join(args, " ")]
	if !ok {
		return nil, errors.New("unknown command")
	}
	return []byte(out), nil
}

func TestKWinListsOnlyXWaylandWindows(t *testing.T) {
	kdotool := fakeKdotool{
		"search --name .":          "{aaa}\n{bbb}\n{ccc}\n",
		"getwindowname {aaa}":      "htop\n",
		"getwindowclassname {aaa}": "xterm\n",
		"getwindowpid {aaa}":       "4242\n",
		"getwindowname {bbb}":      "Settings\n",
		"getwindowclassname {bbb}": "systemsettings\n",
		"getwindowname {ccc}":      "",
		"getwindowclassname {ccc}": "",
	}
	xids := map[string]uint32{"aaa": 0x3a00007, "ccc": 0x3c00001}

	b := &KWinBackend{
		useKdotool: true,
		run:        kdotool.run,
		lookupXID: func(uuid string) (uint32, bool) {
			xid, ok := xids[uuid]
			return xid, ok
		},
	}

	got, err := b.ListWindows()
	if err != nil {
		t.Fatalf("ListWindows() error = %v", err)
	}
	want := []Info{{ID: capture.SourceID(0x3a00007), Title: "htop", Class: "xterm", PID: 4242}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ListWindows() = %+v, want %+v", got, want)
	}
}

func TestKWinWithoutStrategiesFails(t *testing.T) {
	b := &KWinBackend{
		useKdotool: true,
		run: func(string, ...string) ([]byte, error) {
			return nil, errors.New("kdotool: not running")
		},
		lookupXID: func(string) (uint32, bool) { return 0, false },
	}
	if _, err := b.ListWindows(); err == nil {
		t.Fatal("ListWindows() succeeded with every strategy failing")
	}

	if _, err := (&KWinBackend{}).ListWindows(); !errors.Is(err, ErrNoKWinWindows) {
		t.Errorf("ListWindows() error = %v, want ErrNoKWinWindows", err)
	}
}
