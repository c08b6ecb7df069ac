package cli

import (
	"bytes"
	"regexp"
	"strings"
	"testing"
)

func execute(t *testing.T, args ...string) string {
	t.Helper()
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("elfarol %s: %v\n%s", strings.Join(args, " "), err, buf.String())
	}
	return buf.String()
}

var runIDPattern = regexp.MustCompile(`recorded as ([0-9a-f-]{36})`)

func TestRunListShow(t *testing.T) {
	t.Setenv("ELFAROL_HOME", t.TempDir())
	t.Setenv("ELFAROL_LOG_LEVEL", "error")

	out := execute(t, "run", "--iterations", "10", "--grid-size", "6", "--seed", "3")
	m := runIDPattern.FindStringSubmatch(out)
	if m == nil {
		t.Fatalf("run output has no run id:\n%s", out)
	}
	id := m[1]
	if !strings.Contains(out, "10 rounds") {
		t.Errorf("run output missing round count:\n%s", out)
	}

	if list := execute(t, "runs"); !strings.Contains(list, id) {
		t.Errorf("runs does not list %s:\n%s", id, list)
	}

	show := execute(t, "show", id)
	if !strings.Contains(show, "seed 3") || !strings.Contains(show, "Final population") {
		t.Errorf("unexpected show output:\n%s", show)
	}
}

func TestPolicies(t *testing.T) {
	t.Setenv("ELFAROL_HOME", t.TempDir())
	out := execute(t, "policies")
	for _, want := range []string{"always_go", "moving_average:window=5", "random"} {
		if !strings.Contains(out, want) {
			t.Errorf("policies output missing %q:\n%s", want, out)
		}
	}
}

func TestConfigPrintsYAML(t *testing.T) {
	t.Setenv("ELFAROL_HOME", t.TempDir())
	t.Setenv("ELFAROL_GRID_SIZE", "9")
	out := execute(t, "config")
	if !strings.Contains(out, "grid_size: 9") {
		t.Errorf("env override missing from config output:\n%s", out)
	}
}
