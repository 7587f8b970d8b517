package dcontext

import (
	"context"
	"sync"

	"github.com/pierrelefevre/grain/internal/uuid"
)

// instanceContext is a context that provides only an instance id. It is
// provided as the main background context.
type instanceContext struct {
	context.Context
	id   string    // id of context, logged as "instance.id"
	once sync.Once // once protect generation of the id
}

func (ic *instanceContext) Value(key interface{}) interface{} {
	if key == "instance.id" {
		ic.once.Do(func() {
			// We want to lazy initialize the UUID such that we don't
			// call a random generator from the package initialization
			// code.
			ic.id = uuid.NewString()
		})
		return ic.id
	}

	return ic.Context.Value(key)
}

var background = &instanceContext{
	Context: context.Background(),
}

// Background returns a non-nil, empty Context. The background context
// provides a single key, "instance.id" that is globally unique to the
// process.
func Background() context.Context {
	return background
}

// WithValues returns a context that proxies lookups through a map. Only
// supports string keys.
func WithValues(ctx context.Context, m map[string]interface{}) context.Context {
	return valueContext{Context: ctx, m: m}
}

type valueContext struct {
	context.Context
	m map[string]interface{}
}

func (vc valueContext) Value(key interface{}) interface{} {
	if ks, ok := key.(string); ok {
		if v, ok := vc.m[ks]; ok {
			return v
		}
	}

	return vc.Context.Value(key)
}
