package config_test

import (
	"path/filepath"
	"reflect"
	"testing"

	"github.com/spf13/pflag"

	"github.com/jamjamfong/lstore/config"
)

type vars struct {
	data      string
	pages     int
	logStderr bool
}

func newConfig(t *testing.T, args ...string) (*config.Config, *vars) {
	t.Helper()

	v := &vars{
		data:  "testdata",
		pages: 1024,
	}
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.StringVar(&v.data, "data", v.data, "")
	fs.IntVar(&v.pages, "pool-pages", v.pages, "")
	fs.BoolVar(&v.logStderr, "log-stderr", v.logStderr, "")

	err := fs.Parse(args)
	if err != nil {
		t.Fatalf("Parse(%v) failed with %s", args, err)
	}

	c := config.New()
	c.Bind(fs, "data", "pool-pages", "log-stderr")
	return c, v
}

func TestLoad(t *testing.T) {
	cases := []struct {
		args []string
		src  string
		want vars
		fail bool
	}{
		{src: ``, want: vars{data: "testdata", pages: 1024}},
		{src: `data = "lstore"`, want: vars{data: "lstore", pages: 1024}},
		{
			src: `
# comment
data = "lstore"
pool-pages = 64
log-stderr = true
`,
			want: vars{data: "lstore", pages: 64, logStderr: true},
		},
		{
			args: []string{"--pool-pages", "8"},
			src:  `pool-pages = 64`,
			want: vars{data: "testdata", pages: 8},
		},
		{src: `unknown = 1`, fail: true},
		{src: `pool-pages = "many"`, fail: true},
		{src: `pool-pages = [1, 2]`, fail: true},
		{src: `data = `, fail: true},
	}

	for _, c := range cases {
		cfg, v := newConfig(t, c.args...)
		err := cfg.Load(c.src)
		if c.fail {
			if err == nil {
				t.Errorf("Load(%q) did not fail", c.src)
			}
			continue
		}
		if err != nil {
			t.Errorf("Load(%q) failed with %s", c.src, err)
		} else if *v != c.want {
			t.Errorf("Load(%q) got %+v want %+v", c.src, *v, c.want)
		}
	}
}

func TestVars(t *testing.T) {
	cfg, _ := newConfig(t, "--data", "elsewhere")
	err := cfg.Load(`
data = "lstore"
pool-pages = 16
`)
	if err != nil {
		t.Fatal(err)
	}

	want := []config.Var{
		{Name: "data", Value: "elsewhere", By: config.ByFlag},
		{Name: "log-stderr", Value: "false", By: config.ByDefault},
		{Name: "pool-pages", Value: "16", By: config.ByConfig},
	}
	if got := cfg.Vars(); !reflect.DeepEqual(got, want) {
		t.Errorf("Vars() got %+v want %+v", got, want)
	}
}

func TestLoadFile(t *testing.T) {
	cfg, v := newConfig(t)
	err := cfg.LoadFile(filepath.Join("testdata", "lstore.hcl"))
	if err != nil {
		t.Fatalf("LoadFile() failed with %s", err)
	}
	if v.data != "data" || v.pages != 256 {
		t.Errorf("LoadFile() got %+v", *v)
	}

	err = cfg.LoadFile(filepath.Join("testdata", "missing.hcl"))
	if err == nil {
		t.Errorf("LoadFile(missing.hcl) did not fail")
	}
}
