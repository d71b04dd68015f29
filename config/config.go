package config

import (
	"fmt"
	"io/ioutil"
	"sort"

	"github.com/hashicorp/hcl"
	"github.com/spf13/pflag"
)

type By int

const (
	ByDefault By = iota
	ByConfig
	ByFlag
)

func (by By) String() string {
	switch by {
	case ByDefault:
		return "default"
	case ByConfig:
		return "config"
	case ByFlag:
		return "flag"
	}
	return fmt.Sprintf("by(%d)", int(by))
}

type Var struct {
	Name  string
	Value string
	By    By
}

// Config makes flags settable from an HCL config file. A flag given on the
// command line always wins over the config file.
type Config struct {
	flags map[string]*pflag.Flag
	by    map[string]By
}

func New() *Config {
	return &Config{
		flags: map[string]*pflag.Flag{},
		by:    map[string]By{},
	}
}

// Bind makes the named flags of fs config variables.
func (c *Config) Bind(fs *pflag.FlagSet, names ...string) {
	for _, name := range names {
		flg := fs.Lookup(name)
		if flg == nil {
			panic(fmt.Sprintf("config: flag %s not defined", name))
		}
		c.flags[name] = flg
	}
}

func (c *Config) Load(src string) error {
	var vals map[string]interface{}
	err := hcl.Decode(&vals, src)
	if err != nil {
		return err
	}

	for name, val := range vals {
		flg, ok := c.flags[name]
		if !ok {
			return fmt.Errorf("%s is not a config variable", name)
		}
		switch val.(type) {
		case bool, int, int64, float64, string:
		default:
			return fmt.Errorf("%s: expected a bool, number, or string; got %v", name, val)
		}
		if flg.Changed {
			continue
		}
		err := flg.Value.Set(fmt.Sprintf("%v", val))
		if err != nil {
			return fmt.Errorf("%s: %s", name, err)
		}
		c.by[name] = ByConfig
	}
	return nil
}

func (c *Config) LoadFile(filename string) error {
	b, err := ioutil.ReadFile(filename)
	if err != nil {
		return err
	}
	return c.Load(string(b))
}

// Vars returns every config variable sorted by name.
func (c *Config) Vars() []Var {
	vars := make([]Var, 0, len(c.flags))
	for name, flg := range c.flags {
		by := c.by[name]
		if flg.Changed {
			by = ByFlag
		}
		vars = append(vars, Var{Name: name, Value: flg.Value.String(), By: by})
	}
	sort.Slice(vars, func(i, j int) bool { return vars[i].Name < vars[j].Name })
	return vars
}
