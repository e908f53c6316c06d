package signal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/viant/curator/errs"
)

// Constructor returns a fresh signal with default arguments.
type Constructor func() Signal

var registry = struct {
	mu    sync.RWMutex
	byKey map[string]Constructor
}{byKey: map[string]Constructor{}}

// Register adds a constructor under name; an existing name is replaced.
func Register(name string, fn Constructor) {
	registry.mu.Lock()
	registry.byKey[name] = fn
	registry.mu.Unlock()
}

// Unregister removes name.
func Unregister(name string) {
	registry.mu.Lock()
	delete(registry.byKey, name)
	registry.mu.Unlock()
}

// Clear removes every registered signal, built-ins included.
func Clear() {
	registry.mu.Lock()
	registry.byKey = map[string]Constructor{}
	registry.mu.Unlock()
}

// Reset clears the registry and registers the built-in signals again.
func Reset() {
	Clear()
	RegisterBuiltins()
}

// Names lists registered signal names in sorted order.
func Names() []string {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	out := make([]string, 0, len(registry.byKey))
	for name := range registry.byKey {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Get returns a new default-configured signal registered under name.
func Get(name string) (Signal, error) {
	registry.mu.RLock()
	fn, ok := registry.byKey[name]
	registry.mu.RUnlock()
	if !ok {
		return nil, errs.NotFound("signal %q", name)
	}
	return fn(), nil
}

// Resolve decodes a serialized signal through its name discriminator.
func Resolve(data []byte) (Signal, error) {
	var head map[string]json.RawMessage
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, errs.InvalidArgument("signal: invalid config: %v", err)
	}
	var name string
	if raw, ok := head[NameKey]; ok {
		_ = json.Unmarshal(raw, &name)
	}
	if name == "" {
		return nil, errs.InvalidArgument("signal: config is missing %q", NameKey)
	}
	sig, err := Get(name)
	if err != nil {
		return nil, err
	}
	delete(head, NameKey)
	args, _ := json.Marshal(head)
	dec := json.NewDecoder(bytes.NewReader(args))
	dec.DisallowUnknownFields()
	if err = dec.Decode(sig); err != nil {
		return nil, errs.InvalidArgument("signal %q: invalid arguments: %v", name, err)
	}
	return sig, nil
}

// Marshal serializes sig with its name discriminator.
func Marshal(sig Signal) (json.RawMessage, error) {
	args, err := arguments(sig)
	if err != nil {
		return nil, err
	}
	args[NameKey] = sig.Name()
	return json.Marshal(args)
}

func arguments(sig Signal) (map[string]interface{}, error) {
	data, err := json.Marshal(sig)
	if err != nil {
		return nil, fmt.Errorf("signal %q: %w", sig.Name(), err)
	}
	args := map[string]interface{}{}
	if err = json.Unmarshal(data, &args); err != nil {
		return nil, fmt.Errorf("signal %q: arguments must encode as an object: %w", sig.Name(), err)
	}
	return args, nil
}

// ComputedKeyer is implemented by signals whose persisted key depends on
// external state. The concept score signal embeds the concept version, which
// requires a concept store lookup.
type ComputedKeyer interface {
	ComputedKey() (string, error)
}

// Key renders the signal name plus its non-default arguments in sorted
// order, e.g. "chunk(chunk_size=100)". When computed is true and sig
// implements ComputedKeyer, that key is used instead.
func Key(sig Signal, computed bool) (string, error) {
	if keyer, ok := sig.(ComputedKeyer); ok && computed {
		return keyer.ComputedKey()
	}
	args, err := arguments(sig)
	if err != nil {
		return "", err
	}
	if len(args) == 0 {
		return sig.Name(), nil
	}
	names := make([]string, 0, len(args))
	for k := range args {
		names = append(names, k)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, k := range names {
		parts[i] = k + "=" + renderArg(args[k])
	}
	return sig.Name() + "(" + strings.Join(parts, ",") + ")", nil
}

func renderArg(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	data, _ := json.Marshal(v)
	return string(data)
}

// MustKey is Key for signals without a computed key.
func MustKey(sig Signal) string {
	key, err := Key(sig, false)
	if err != nil {
		panic(err)
	}
	return key
}
