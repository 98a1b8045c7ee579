package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Config is a parsed printer configuration. Sections handed out by the
// getters are marked used; see GetUnusedSections and CheckUnusedOptions.
type Config struct {
	mu       sync.RWMutex
	sections map[string]*Section
	order    []string
	used     map[string]bool
}

// New returns an empty Config.
func New() *Config {
	return &Config{
		sections: make(map[string]*Section),
		used:     make(map[string]bool),
	}
}

// LoadFile loads a config file, choosing the YAML reader for .yaml/.yml
// files and the printer.cfg reader otherwise.
func LoadFile(path string) (*Config, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return LoadYAML(path)
	default:
		return Load(path)
	}
}

// Load reads a configuration file and returns a Config.
// Supports [include path] directives for including other config files.
func Load(path string) (*Config, error) {
	c := New()
	visited := make(map[string]bool)
	if err := c.parseFile(path, visited); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadString parses a configuration from a string. Include directives are
// rejected since there is no base directory to resolve them against.
func LoadString(data string) (*Config, error) {
	c := New()
	p := &parser{cfg: c, source: "<string>"}
	if err := p.parse(strings.NewReader(data)); err != nil {
		return nil, err
	}
	return c, nil
}

// parser turns cfg text into sections. include is nil when includes are
// not allowed.
type parser struct {
	cfg     *Config
	source  string
	include func(pattern string, lineNum int) error

	section string
	options map[string]string
}

func (p *parser) flush() {
	if p.section != "" {
		p.cfg.addSection(p.section, p.options)
	}
	p.section = ""
	p.options = nil
}

func (p *parser) parse(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		// "#*#" lines hold SAVE_CONFIG output and are parsed as regular config.
		if strings.HasPrefix(line, "#*#") {
			line = strings.TrimSpace(line[3:])
		} else if idx := strings.IndexAny(line, "#;"); idx >= 0 {
			line = strings.TrimSpace(line[:idx])
		}
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			p.flush()
			header := strings.TrimSpace(line[1 : len(line)-1])
			if header == "" {
				return fmt.Errorf("config: empty section header at line %d in %s", lineNum, p.source)
			}
			if strings.HasPrefix(header, "include ") {
				if p.include == nil {
					return fmt.Errorf("config: include not supported at line %d in %s", lineNum, p.source)
				}
				if err := p.include(strings.TrimSpace(header[8:]), lineNum); err != nil {
					return err
				}
				continue
			}
			p.section = header
			p.options = make(map[string]string)
			continue
		}

		// Options before the first section are ignored
		if p.section == "" {
			continue
		}

		// key: value or key = value
		kv := strings.SplitN(line, ":", 2)
		if len(kv) != 2 {
			kv = strings.SplitN(line, "=", 2)
		}
		if len(kv) != 2 {
			continue
		}
		key := strings.TrimSpace(kv[0])
		if key == "" {
			continue
		}
		p.options[key] = strings.TrimSpace(kv[1])
	}
	p.flush()
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("config: error reading %s: %w", p.source, err)
	}
	return nil
}

// parseFile parses a config file and handles include directives.
func (c *Config) parseFile(path string, visited map[string]bool) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("config: invalid path %s: %w", path, err)
	}
	if visited[abs] {
		return fmt.Errorf("config: recursive include: %s", path)
	}
	visited[abs] = true
	defer func() { visited[abs] = false }()

	f, err := os.Open(abs)
	if err != nil {
		return fmt.Errorf("config: unable to open %s: %w", path, err)
	}
	defer f.Close()

	dir := filepath.Dir(abs)
	p := &parser{cfg: c, source: path}
	p.include = func(pattern string, lineNum int) error {
		if pattern == "" {
			return fmt.Errorf("config: empty include at line %d in %s", lineNum, path)
		}
		glob := filepath.Join(dir, pattern)
		matches, err := filepath.Glob(glob)
		if err != nil {
			return fmt.Errorf("config: invalid include pattern %q: %w", pattern, err)
		}
		sort.Strings(matches)
		if len(matches) == 0 && !strings.ContainsAny(glob, "*?[") {
			return fmt.Errorf("config: include file does not exist: %s", glob)
		}
		for _, m := range matches {
			if err := c.parseFile(m, visited); err != nil {
				return err
			}
		}
		return nil
	}
	return p.parse(f)
}

// addSection stores a parsed block. A repeated header merges into the
// earlier section, later values winning.
func (c *Config) addSection(name string, options map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sec, ok := c.sections[name]; ok {
		for k, v := range options {
			sec.options[strings.ToLower(k)] = v
		}
		return
	}
	c.sections[name] = newSection(name, options)
	c.order = append(c.order, name)
}

// mark returns the named section and records it as used.
func (c *Config) mark(name string) (*Section, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sec, ok := c.sections[name]
	if ok {
		c.used[name] = true
	}
	return sec, ok
}

// GetSection returns a required section.
func (c *Config) GetSection(name string) (*Section, error) {
	sec, ok := c.mark(name)
	if !ok {
		return nil, ErrMissingSection(name)
	}
	return sec, nil
}

// GetSectionOptional returns the section, or nil when it is absent.
func (c *Config) GetSectionOptional(name string) *Section {
	sec, _ := c.mark(name)
	return sec
}

// HasSection reports whether a section exists without marking it used.
func (c *Config) HasSection(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.sections[name]
	return ok
}

// GetSectionNames returns the section names in file order.
func (c *Config) GetSectionNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.order...)
}

// GetPrefixSections returns, in file order, every section whose name
// starts with prefix.
func (c *Config) GetPrefixSections(prefix string) []*Section {
	var out []*Section
	for _, name := range c.GetSectionNames() {
		if strings.HasPrefix(name, prefix) {
			sec, _ := c.mark(name)
			out = append(out, sec)
		}
	}
	return out
}

// GetUnusedSections returns the sorted names of sections nobody asked for.
func (c *Config) GetUnusedSections() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var unused []string
	for name := range c.sections {
		if !c.used[name] {
			unused = append(unused, name)
		}
	}
	sort.Strings(unused)
	return unused
}

// CheckUnusedOptions fails when a used section carries options nobody
// read. Misspelled option names surface here.
func (c *Config) CheckUnusedOptions() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var problems []string
	for name := range c.used {
		if unused := c.sections[name].GetUnusedOptions(); len(unused) > 0 {
			sort.Strings(unused)
			problems = append(problems, fmt.Sprintf("[%s]: unused options %v", name, unused))
		}
	}
	if len(problems) == 0 {
		return nil
	}
	sort.Strings(problems)
	return NewConfigError("", "", strings.Join(problems, "; "))
}
