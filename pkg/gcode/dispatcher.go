// G-code command dispatch
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package gcode parses g-code lines and dispatches them to registered
// handlers, including mux commands selected by a key parameter.
package gcode

import (
	"bufio"
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	hosterrors "purgebelt-go/pkg/errors"
	"purgebelt-go/pkg/log"
)

// Handler executes one command.
type Handler func(cmd *Command) error

type handlerEntry struct {
	fn   Handler
	desc string
}

type muxEntry struct {
	key    string
	values map[string]handlerEntry
}

// Dispatcher routes commands to handlers. Commands run one at a time.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]handlerEntry
	mux      map[string]*muxEntry

	execMu     sync.Mutex
	responders []func(msg string)
	onCommand  func(name string, err error)

	log *log.Logger
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		handlers: make(map[string]handlerEntry),
		mux:      make(map[string]*muxEntry),
		log:      log.GetLogger("gcode"),
	}
}

// Register adds a plain command.
func (d *Dispatcher) Register(name string, fn Handler, desc string) error {
	name = strings.ToUpper(name)
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.handlers[name]; ok {
		return fmt.Errorf("gcode command %s already registered", name)
	}
	if _, ok := d.mux[name]; ok {
		return fmt.Errorf("gcode command %s already registered as mux command", name)
	}
	d.handlers[name] = handlerEntry{fn: fn, desc: desc}
	return nil
}

// RegisterMux adds a handler for name selected by key=value. An empty value
// registers the default used when key is absent.
func (d *Dispatcher) RegisterMux(name, key, value string, fn Handler, desc string) error {
	name = strings.ToUpper(name)
	key = strings.ToUpper(key)
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.handlers[name]; ok {
		return fmt.Errorf("gcode command %s already registered", name)
	}
	entry, ok := d.mux[name]
	if !ok {
		entry = &muxEntry{key: key, values: make(map[string]handlerEntry)}
		d.mux[name] = entry
	}
	if entry.key != key {
		return fmt.Errorf("mux command %s %s %s may have only one key (%s)", name, key, value, entry.key)
	}
	if _, ok := entry.values[value]; ok {
		return fmt.Errorf("mux command %s %s %s already registered", name, key, value)
	}
	entry.values[value] = handlerEntry{fn: fn, desc: desc}
	return nil
}

// OnRespond adds a listener for RespondInfo messages.
func (d *Dispatcher) OnRespond(fn func(msg string)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.responders = append(d.responders, fn)
}

// OnCommand sets a hook called after every executed command.
func (d *Dispatcher) OnCommand(fn func(name string, err error)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onCommand = fn
}

func (d *Dispatcher) respond(msg string) {
	d.mu.RLock()
	responders := append([]func(string){}, d.responders...)
	d.mu.RUnlock()
	for _, fn := range responders {
		fn(msg)
	}
}

func (d *Dispatcher) lookup(cmd *Command) (Handler, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if h, ok := d.handlers[cmd.Name]; ok {
		return h.fn, nil
	}
	entry, ok := d.mux[cmd.Name]
	if !ok {
		return nil, hosterrors.GCodeUnknownCommandError(cmd.Name)
	}
	value, given := cmd.Params[entry.key]
	if !given {
		if h, ok := entry.values[""]; ok {
			return h.fn, nil
		}
		return nil, hosterrors.GCodeMissingParameterError(cmd.Name, entry.key)
	}
	h, ok := entry.values[value]
	if !ok {
		return nil, hosterrors.GCodeInvalidParameterError(cmd.Name, entry.key, value,
			fmt.Sprintf("is not valid for %s", entry.key))
	}
	return h.fn, nil
}

// Run executes a single line.
func (d *Dispatcher) Run(line string) error {
	cmd, err := ParseLine(line)
	if err != nil || cmd == nil {
		return err
	}
	return d.Execute(cmd)
}

// Execute runs a parsed command.
func (d *Dispatcher) Execute(cmd *Command) (err error) {
	d.execMu.Lock()
	defer d.execMu.Unlock()

	fn, err := d.lookup(cmd)
	if err == nil {
		cmd.respond = d.respond
		d.log.Debug("executing %s", cmd.Raw)
		err = fn(cmd)
	}
	if err != nil {
		d.log.WithField("command", cmd.Name).WithError(err).Warn("command failed")
	}

	d.mu.RLock()
	hook := d.onCommand
	d.mu.RUnlock()
	if hook != nil {
		hook(cmd.Name, err)
	}
	return err
}

// RunScript executes a multi-line script, stopping at the first error or
// when ctx is cancelled.
func (d *Dispatcher) RunScript(ctx context.Context, script string) error {
	sc := bufio.NewScanner(strings.NewReader(script))
	lineNo := 0
	for sc.Scan() {
		lineNo++
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := d.Run(sc.Text()); err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
	}
	return sc.Err()
}

// Commands returns every registered command name in sorted order.
func (d *Dispatcher) Commands() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.handlers)+len(d.mux))
	for n := range d.handlers {
		names = append(names, n)
	}
	for n := range d.mux {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Help returns the description of each command.
func (d *Dispatcher) Help() map[string]string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	help := make(map[string]string, len(d.handlers)+len(d.mux))
	for n, h := range d.handlers {
		help[n] = h.desc
	}
	for n, m := range d.mux {
		for _, h := range m.values {
			if h.desc != "" {
				help[n] = h.desc
				break
			}
		}
	}
	return help
}
