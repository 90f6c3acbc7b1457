// Package introspect enumerates registered types and manipulates members of
// live instances by name. Hosts opt instances in through Register; lookups
// against unknown names yield empty results or descriptive strings, never
// errors, because callers are exploratory surfaces that must not crash from
// a bad probe.
package introspect

import (
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Descriptor describes a registered type. Properties are accessor pairs
// (Name() plus SetName()); Fields are exported struct fields; Interfaces are
// the registered interface types the instance implements.
type Descriptor struct {
	Name       string   `json:"name"`
	Methods    []string `json:"methods"`
	Properties []string `json:"properties"`
	Fields     []string `json:"fields"`
	Interfaces []string `json:"interfaces"`
}

// Registry is the registration table mapping names to live instances.
// Descriptors are derived on demand via reflection and cached by name for
// O(1) repeat lookup.
type Registry struct {
	logger *slog.Logger

	mu        sync.RWMutex
	instances map[string]any
	ifaces    map[string]reflect.Type
	cache     map[string]*Descriptor
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:    logger,
		instances: make(map[string]any),
		ifaces:    make(map[string]reflect.Type),
		cache:     make(map[string]*Descriptor),
	}
}

// Register adds a live instance under name. An empty name derives the type's
// own name. Re-registering replaces the instance and invalidates the cached
// descriptor.
func (r *Registry) Register(name string, instance any) string {
	if name == "" {
		t := reflect.TypeOf(instance)
		for t.Kind() == reflect.Pointer {
			t = t.Elem()
		}
		name = t.Name()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.instances[name] = instance
	delete(r.cache, name)
	r.logger.Debug("type registered", "name", name)
	return name
}

// Unregister removes a registered instance.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.instances, name)
	delete(r.cache, name)
}

// RegisterInterface names an interface type so ListInterfaces can report
// which registered instances implement it. typ must be an interface type,
// e.g. reflect.TypeOf((*io.Closer)(nil)).Elem().
func (r *Registry) RegisterInterface(name string, typ reflect.Type) error {
	if typ == nil || typ.Kind() != reflect.Interface {
		return fmt.Errorf("%q is not an interface type", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ifaces[name] = typ
	// Interface sets feed descriptors, so cached ones are stale now.
	r.cache = make(map[string]*Descriptor)
	return nil
}

// ListTypes returns all registered type names, sorted.
func (r *Registry) ListTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.instances))
	for name := range r.instances {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Describe returns the full descriptor for a type, or nil if unknown.
func (r *Registry) Describe(name string) *Descriptor {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.describeLocked(name)
}

func (r *Registry) describeLocked(name string) *Descriptor {
	if d, ok := r.cache[name]; ok {
		return d
	}
	instance, ok := r.instances[name]
	if !ok {
		return nil
	}

	d := &Descriptor{Name: name}
	v := reflect.ValueOf(instance)
	t := v.Type()

	methods := make(map[string]bool, t.NumMethod())
	for i := 0; i < t.NumMethod(); i++ {
		m := t.Method(i).Name
		d.Methods = append(d.Methods, m)
		methods[m] = true
	}

	// Accessor pairs: X() paired with SetX() count as a property.
	for m := range methods {
		if strings.HasPrefix(m, "Set") && len(m) > 3 && methods[m[3:]] {
			d.Properties = append(d.Properties, m[3:])
		}
	}

	elem := t
	for elem.Kind() == reflect.Pointer {
		elem = elem.Elem()
	}
	if elem.Kind() == reflect.Struct {
		for i := 0; i < elem.NumField(); i++ {
			f := elem.Field(i)
			if f.IsExported() {
				d.Fields = append(d.Fields, f.Name)
			}
		}
	}

	for ifaceName, ifaceType := range r.ifaces {
		if t.Implements(ifaceType) {
			d.Interfaces = append(d.Interfaces, ifaceName)
		}
	}

	sort.Strings(d.Methods)
	sort.Strings(d.Properties)
	sort.Strings(d.Fields)
	sort.Strings(d.Interfaces)

	r.cache[name] = d
	return d
}

// ListMethods returns the sorted method names of a type; empty for unknown
// types.
func (r *Registry) ListMethods(name string) []string {
	return r.memberList(name, func(d *Descriptor) []string { return d.Methods })
}

// ListProperties returns the sorted property names of a type.
func (r *Registry) ListProperties(name string) []string {
	return r.memberList(name, func(d *Descriptor) []string { return d.Properties })
}

// ListFields returns the sorted exported field names of a type.
func (r *Registry) ListFields(name string) []string {
	return r.memberList(name, func(d *Descriptor) []string { return d.Fields })
}

// ListInterfaces returns the sorted registered interfaces a type implements.
func (r *Registry) ListInterfaces(name string) []string {
	return r.memberList(name, func(d *Descriptor) []string { return d.Interfaces })
}

func (r *Registry) memberList(name string, pick func(*Descriptor) []string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	d := r.describeLocked(name)
	if d == nil {
		return []string{}
	}
	members := pick(d)
	out := make([]string, len(members))
	copy(out, members)
	return out
}

// GetMemberValue reads a field or zero-argument method by name from the
// registered instance. Failures come back as descriptive strings.
func (r *Registry) GetMemberValue(typeName, member string) (result string) {
	defer func() {
		if rec := recover(); rec != nil {
			result = fmt.Sprintf("lookup %q failed: %v", member, rec)
		}
	}()

	r.mu.RLock()
	instance, ok := r.instances[typeName]
	r.mu.RUnlock()
	if !ok {
		return fmt.Sprintf("unknown type %q", typeName)
	}

	v := reflect.ValueOf(instance)

	if m := v.MethodByName(member); m.IsValid() {
		if m.Type().NumIn() != 0 {
			return fmt.Sprintf("method %q requires arguments", member)
		}
		results := m.Call(nil)
		if len(results) == 0 {
			return "<no value>"
		}
		return fmt.Sprint(results[0].Interface())
	}

	elem := v
	for elem.Kind() == reflect.Pointer {
		elem = elem.Elem()
	}
	if elem.Kind() == reflect.Struct {
		if f := elem.FieldByName(member); f.IsValid() && f.CanInterface() {
			return fmt.Sprint(f.Interface())
		}
	}
	return fmt.Sprintf("unknown member %q on type %q", member, typeName)
}

// SetMemberValue writes a field by name, converting value to the field's
// kind. The result is a descriptive string either way.
func (r *Registry) SetMemberValue(typeName, member, value string) (result string) {
	defer func() {
		if rec := recover(); rec != nil {
			result = fmt.Sprintf("set %q failed: %v", member, rec)
		}
	}()

	r.mu.RLock()
	instance, ok := r.instances[typeName]
	r.mu.RUnlock()
	if !ok {
		return fmt.Sprintf("unknown type %q", typeName)
	}

	v := reflect.ValueOf(instance)
	for v.Kind() == reflect.Pointer {
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return fmt.Sprintf("type %q has no settable fields", typeName)
	}
	f := v.FieldByName(member)
	if !f.IsValid() {
		return fmt.Sprintf("unknown member %q on type %q", member, typeName)
	}
	if !f.CanSet() {
		return fmt.Sprintf("member %q on type %q is not settable", member, typeName)
	}

	switch f.Kind() {
	case reflect.String:
		f.SetString(value)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Sprintf("cannot set %q: %q is not a bool", member, value)
		}
		f.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil || f.OverflowInt(n) {
			return fmt.Sprintf("cannot set %q: %q is not a valid integer", member, value)
		}
		f.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(value, 10, 64)
		if err != nil || f.OverflowUint(n) {
			return fmt.Sprintf("cannot set %q: %q is not a valid unsigned integer", member, value)
		}
		f.SetUint(n)
	case reflect.Float32, reflect.Float64:
		n, err := strconv.ParseFloat(value, 64)
		if err != nil || f.OverflowFloat(n) {
			return fmt.Sprintf("cannot set %q: %q is not a valid float", member, value)
		}
		f.SetFloat(n)
	default:
		return fmt.Sprintf("member %q has unsupported kind %s", member, f.Kind())
	}
	return fmt.Sprintf("set %s.%s = %s", typeName, member, value)
}

// Invoke calls a method by name with the given arguments. The method's
// existence and arity are checked before the call; any failure, including a
// panic inside the method, is reported as a descriptive string.
func (r *Registry) Invoke(typeName, method string, args ...any) (result string) {
	defer func() {
		if rec := recover(); rec != nil {
			result = fmt.Sprintf("invoke %q panicked: %v", method, rec)
		}
	}()

	r.mu.RLock()
	instance, ok := r.instances[typeName]
	r.mu.RUnlock()
	if !ok {
		return fmt.Sprintf("unknown type %q", typeName)
	}

	m := reflect.ValueOf(instance).MethodByName(method)
	if !m.IsValid() {
		return fmt.Sprintf("type %q does not respond to %q", typeName, method)
	}
	mt := m.Type()
	if mt.NumIn() != len(args) {
		return fmt.Sprintf("method %q takes %d argument(s), got %d", method, mt.NumIn(), len(args))
	}

	in := make([]reflect.Value, len(args))
	for i, arg := range args {
		av := reflect.ValueOf(arg)
		if !av.IsValid() || !av.Type().AssignableTo(mt.In(i)) {
			if av.IsValid() && av.Type().ConvertibleTo(mt.In(i)) {
				av = av.Convert(mt.In(i))
			} else {
				return fmt.Sprintf("argument %d: cannot use %T as %s", i, arg, mt.In(i))
			}
		}
		in[i] = av
	}

	results := m.Call(in)
	if len(results) == 0 {
		return "<ok>"
	}
	parts := make([]string, len(results))
	for i, res := range results {
		parts[i] = fmt.Sprint(res.Interface())
	}
	return strings.Join(parts, ", ")
}
