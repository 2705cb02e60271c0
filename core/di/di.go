/*
Package di resolves constructor dependencies for injectable services.

A service becomes injectable by registering its constructor function with
Injectable, usually from a package-level var. The constructor's parameter
list is the service's dependency declaration: every parameter type must
itself be injectable. A Container is configured once with a list of
providers and then resolves singletons; overrides substitute a different
constructor for a requested type, which is how tests mock individual nodes
of a dependency graph without touching the rest.
*/
package di

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/google/uuid"
)

// resolution error kinds
var (
	// ErrMustBeInjectable is returned when a provider request is not an
	// injectable type: a primitive, nil, or a type whose constructor was
	// never registered
	ErrMustBeInjectable = errors.New("providers must be injectable")
	// ErrProviderNotRegistered is returned for an injectable type absent
	// from this container's provider list
	ErrProviderNotRegistered = errors.New("provider not registered")
	// ErrNonInjectableParam is returned when a constructor declares a
	// parameter whose type is not injectable
	ErrNonInjectableParam = errors.New("constructor parameter is not injectable")
	// ErrDependencyCycle is returned when constructors depend on each other
	// in a cycle
	ErrDependencyCycle = errors.New("dependency cycle")
	// ErrInvalidProvider is returned by NewContainer for malformed provider
	// list entries
	ErrInvalidProvider = errors.New("invalid provider")
)

// Descriptor describes one registered injectable constructor
type Descriptor struct {
	// ID identifies the registration, for debugging only
	ID uuid.UUID
	// Type is the constructor's result type
	Type reflect.Type
	// Params are the constructor's parameter types, in order
	Params []reflect.Type

	ctor reflect.Value
}

type catalogState struct {
	mu     sync.RWMutex
	byCtor map[uintptr]*Descriptor
	marked map[reflect.Type]int
}

var catalog = &catalogState{
	byCtor: map[uintptr]*Descriptor{},
	marked: map[reflect.Type]int{},
}

// Injectable registers a constructor function and returns its descriptor.
// The constructor must be a func returning exactly one value, a pointer to
// a struct or an interface. Registration normally happens in a package-level
// var, so misuse panics.
func Injectable(ctor interface{}) *Descriptor {
	v := reflect.ValueOf(ctor)
	if !v.IsValid() || v.Kind() != reflect.Func {
		panic(fmt.Sprintf("di: Injectable needs a constructor function, got %T", ctor))
	}
	t := v.Type()
	if t.NumOut() != 1 {
		panic(fmt.Sprintf("di: constructor %s must return exactly one value", t))
	}
	result := t.Out(0)
	if result.Kind() != reflect.Ptr && result.Kind() != reflect.Interface {
		panic(fmt.Sprintf("di: constructor %s must return a pointer or interface", t))
	}
	d := &Descriptor{
		ID:   uuid.New(),
		Type: result,
		ctor: v,
	}
	for i := 0; i < t.NumIn(); i++ {
		d.Params = append(d.Params, t.In(i))
	}

	catalog.mu.Lock()
	defer catalog.mu.Unlock()
	key := v.Pointer()
	if _, known := catalog.byCtor[key]; !known {
		catalog.marked[result]++
	}
	catalog.byCtor[key] = d
	return d
}

func descriptorOf(ctor interface{}) (*Descriptor, bool) {
	if d, ok := ctor.(*Descriptor); ok {
		return d, true
	}
	v := reflect.ValueOf(ctor)
	if !v.IsValid() || v.Kind() != reflect.Func {
		return nil, false
	}
	catalog.mu.RLock()
	defer catalog.mu.RUnlock()
	d, ok := catalog.byCtor[v.Pointer()]
	return d, ok
}

func isMarked(t reflect.Type) bool {
	catalog.mu.RLock()
	defer catalog.mu.RUnlock()
	return catalog.marked[t] > 0
}

// Override substitutes Use's constructor wherever For's type is requested.
// For accepts the same type tokens as Provider; Use must be a registered
// constructor whose result is assignable to the target type.
type Override struct {
	Use interface{}
	For interface{}
}

// Container resolves singleton instances from a configured provider list.
// A container is configured once; create a fresh container instead of
// reconfiguring.
type Container struct {
	mu        sync.Mutex
	providers map[reflect.Type]*Descriptor
	instances map[reflect.Type]interface{}
	resolving map[reflect.Type]bool
}

// NewContainer configures a container. Providers are registered constructor
// functions, the descriptors returned by Injectable, or Override entries.
func NewContainer(providers ...interface{}) (*Container, error) {
	c := &Container{
		providers: map[reflect.Type]*Descriptor{},
		instances: map[reflect.Type]interface{}{},
		resolving: map[reflect.Type]bool{},
	}
	for _, p := range providers {
		if o, ok := p.(Override); ok {
			target, ok := typeToken(o.For)
			if !ok {
				return nil, fmt.Errorf("%w: override target %T is not a type", ErrInvalidProvider, o.For)
			}
			d, ok := descriptorOf(o.Use)
			if !ok {
				return nil, fmt.Errorf("%w: override constructor for %s", ErrMustBeInjectable, target)
			}
			if !d.Type.AssignableTo(target) && !(target.Kind() == reflect.Interface && d.Type.Implements(target)) {
				return nil, fmt.Errorf("%w: %s cannot stand in for %s", ErrInvalidProvider, d.Type, target)
			}
			c.providers[target] = d
			continue
		}
		d, ok := descriptorOf(p)
		if !ok {
			return nil, fmt.Errorf("%w: %T", ErrMustBeInjectable, p)
		}
		if _, taken := c.providers[d.Type]; !taken {
			c.providers[d.Type] = d
		}
	}
	return c, nil
}

// MustNewContainer is NewContainer that panics on a malformed provider list
func MustNewContainer(providers ...interface{}) *Container {
	c, err := NewContainer(providers...)
	if err != nil {
		panic(err)
	}
	return c
}

// Provider resolves the singleton instance for the requested type. The
// target is a type token: a registered constructor function, a typed nil
// pointer such as (*UserService)(nil), or a reflect.Type.
func (c *Container) Provider(target interface{}) (interface{}, error) {
	t, ok := typeToken(target)
	if !ok || !isMarked(t) {
		return nil, fmt.Errorf("%w: %v", ErrMustBeInjectable, describeToken(target))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resolve(t)
}

// Resolve is the generic form of Container.Provider. T is the constructor's
// result type with the pointer stripped, or the service interface.
func Resolve[T any](c *Container) (T, error) {
	var zero T
	t := reflect.TypeOf(&zero).Elem()
	if t.Kind() != reflect.Interface && t.Kind() != reflect.Ptr {
		t = reflect.PtrTo(t)
	}
	instance, err := c.Provider(t)
	if err != nil {
		return zero, err
	}
	typed, ok := instance.(T)
	if !ok {
		return zero, fmt.Errorf("%w: resolved %T is no %s", ErrInvalidProvider, instance, t)
	}
	return typed, nil
}

// resolve runs under the container lock
func (c *Container) resolve(t reflect.Type) (interface{}, error) {
	if instance, ok := c.instances[t]; ok {
		return instance, nil
	}
	d, ok := c.providers[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotRegistered, t)
	}
	if c.resolving[t] {
		return nil, fmt.Errorf("%w: %s depends on itself", ErrDependencyCycle, t)
	}
	c.resolving[t] = true
	defer delete(c.resolving, t)

	args := make([]reflect.Value, len(d.Params))
	for i, param := range d.Params {
		if !isMarked(param) {
			return nil, fmt.Errorf("%w: %s wants %s", ErrNonInjectableParam, d.Type, param)
		}
		dep, err := c.resolve(param)
		if err != nil {
			return nil, err
		}
		args[i] = reflect.ValueOf(dep)
	}

	instance := d.ctor.Call(args)[0].Interface()
	c.instances[t] = instance
	return instance, nil
}

// typeToken extracts the requested type from the supported token forms
func typeToken(target interface{}) (reflect.Type, bool) {
	switch t := target.(type) {
	case nil:
		return nil, false
	case reflect.Type:
		return t, true
	case *Descriptor:
		return t.Type, true
	}
	v := reflect.ValueOf(target)
	switch v.Kind() {
	case reflect.Func:
		if d, ok := descriptorOf(target); ok {
			return d.Type, true
		}
		return nil, false
	case reflect.Ptr:
		return v.Type(), true
	default:
		return nil, false
	}
}

func describeToken(target interface{}) string {
	if target == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%T(%v)", target, target)
}
