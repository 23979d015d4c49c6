package notify

import "testing"

type recorder struct{ got []string }

func (r *recorder) Warn(summary, body string) { r.got = append(r.got, summary+": "+body) }

func TestFanoutDeliversToAll(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	Fanout{a, nil, b}.Warn("Layout not saved", "disk full")

	for name, r := range map[string]*recorder{"a": a, "b": b} {
		if len(r.got) != 1 || r.got[0] != "Layout not saved: disk full" {
			t.Errorf("%s received %v", name, r.got)
		}
	}
}
