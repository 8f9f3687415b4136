package filter

import (
	"maps"
	"slices"
	"strconv"
	"strings"
	"sync"
)

// Options is the accumulated option state of a node. Keys keep insertion
// order; Text sorts them.
type Options struct {
	mu     sync.RWMutex
	keys   []string
	values map[string]string
}

// NewOptions returns options initialised from kv.
func NewOptions(kv map[string]string) *Options {
	o := &Options{values: make(map[string]string, len(kv))}
	for _, k := range slices.Sorted(maps.Keys(kv)) {
		o.set(k, kv[k])
	}
	return o
}

// Set stores value under key and reports whether the stored value changed.
func (o *Options) Set(key, value string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.set(key, value)
}

func (o *Options) set(key, value string) bool {
	old, ok := o.values[key]
	if ok && old == value {
		return false
	}
	if !ok {
		o.keys = append(o.keys, key)
	}
	o.values[key] = value
	return true
}

// Delete removes key.
func (o *Options) Delete(key string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.values[key]; !ok {
		return false
	}
	delete(o.values, key)
	o.keys = slices.DeleteFunc(o.keys, func(k string) bool { return k == key })
	return true
}

// Get returns the value stored under key.
func (o *Options) Get(key string) (string, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	v, ok := o.values[key]
	return v, ok
}

// Int returns the integer stored under key, or def when it is missing or
// not an integer.
func (o *Options) Int(key string, def int) int {
	v, ok := o.Get(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}

// Float returns the number stored under key, or def.
func (o *Options) Float(key string, def float64) float64 {
	v, ok := o.Get(key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return def
	}
	return f
}

// Keys returns the keys in insertion order.
func (o *Options) Keys() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return slices.Clone(o.keys)
}

// Map returns a copy of the options.
func (o *Options) Map() map[string]string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return maps.Clone(o.values)
}

// Len returns the number of options.
func (o *Options) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.keys)
}

// Text renders the options as "key=value;..." sorted by key. It is part of
// the context hash, so equal option sets render equally.
func (o *Options) Text() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	var b strings.Builder
	for i, k := range slices.Sorted(maps.Keys(o.values)) {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(o.values[k])
	}
	return b.String()
}
