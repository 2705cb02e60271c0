/*
Package routable synthesizes REST routes for model collections.

Bind mounts the standard CRUD handler set for a collection on a gorilla mux
router, under the plural form of the resource name. The handlers are thin:
they translate the HTTP surface into model operations and marshal the
results, nothing more. Suppressed operations are simply not mounted, and an
integrator can shadow any synthesized handler by passing a custom route for
the same method and path.
*/
package routable

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/morpho-tech/morpho/core"
	"github.com/morpho-tech/morpho/core/logger"
	"github.com/morpho-tech/morpho/core/model"
	"github.com/morpho-tech/morpho/core/schema"
)

// Route is one HTTP binding. Path is relative to the resource base path, so
// "" addresses the collection and "/{id}" a single item.
type Route struct {
	Method  string
	Path    string
	Handler http.HandlerFunc
}

// Option configures one Bind call
type Option func(*config)

type config struct {
	resource  string
	routes    []Route
	validator *schema.Validator
}

// WithResource overrides the resource name derived from the model type
func WithResource(name string) Option {
	return func(cfg *config) { cfg.resource = name }
}

// WithRoutes mounts custom handlers alongside the synthesized set. A custom
// route with the same method and path as a synthesized one wins.
func WithRoutes(routes ...Route) Option {
	return func(cfg *config) { cfg.routes = append(cfg.routes, routes...) }
}

// WithValidator validates create and save payloads against the collection's
// schema id before they reach the model
func WithValidator(v *schema.Validator) Option {
	return func(cfg *config) { cfg.validator = v }
}

// Bind synthesizes the CRUD routes for a collection and mounts them on
// router under /{plural resource}:
//
//	GET    /{resources}          list, with optional filtering
//	GET    /{resources}/{id}     single item
//	POST   /{resources}          create
//	PUT    /{resources}/{id}     partial update from the request body
//	DELETE /{resources}/{id}     delete single item
//	DELETE /{resources}          delete collection, with optional filtering
//
// Operations suppressed in the collection's configuration are not mounted.
func Bind[T any](router *mux.Router, collection *model.Collection[T], options ...Option) error {
	cfg := config{}
	for _, option := range options {
		option(&cfg)
	}
	resource := cfg.resource
	if resource == "" {
		resource = strings.ToLower(collection.Name())
	}
	base := "/" + core.Plural(resource)

	schemaID := collection.Config().SchemaID
	if cfg.validator != nil && schemaID != "" && !cfg.validator.HasSchema(schemaID) {
		return fmt.Errorf("validator has no schema %s for %s", schemaID, resource)
	}
	var validate func(body []byte) error
	if cfg.validator != nil && schemaID != "" {
		validator := cfg.validator
		validate = func(body []byte) error {
			return validator.ValidateString(string(body), schemaID)
		}
	}

	b := binder[T]{collection: collection, resource: resource, validate: validate}
	synthesized := []struct {
		op      core.Operation
		method  string
		path    string
		handler http.HandlerFunc
	}{
		{core.OperationGet, http.MethodGet, "", b.list},
		{core.OperationGetByID, http.MethodGet, "/{id}", b.getByID},
		{core.OperationCreate, http.MethodPost, "", b.create},
		{core.OperationSave, http.MethodPut, "/{id}", b.save},
		{core.OperationRemoveByID, http.MethodDelete, "/{id}", b.removeByID},
		{core.OperationRemoveAll, http.MethodDelete, "", b.removeAll},
	}

	shadowed := func(method, path string) bool {
		for _, route := range cfg.routes {
			if route.Method == method && route.Path == path {
				return true
			}
		}
		return false
	}

	log := logger.Default().WithField("resource", resource)
	for _, route := range cfg.routes {
		router.Handle(base+route.Path, handlers.CompressHandler(route.Handler)).Methods(route.Method)
		log.Debugln("mount custom", route.Method, base+route.Path)
	}
	suppressed := collection.Config().Suppressed
	for _, s := range synthesized {
		if suppressed[s.op] || shadowed(s.method, s.path) {
			continue
		}
		router.Handle(base+s.path, handlers.CompressHandler(s.handler)).Methods(s.method)
		log.Debugln("mount", s.method, base+s.path)
	}
	return nil
}

// MustBind is Bind that panics on a configuration error
func MustBind[T any](router *mux.Router, collection *model.Collection[T], options ...Option) {
	if err := Bind(router, collection, options...); err != nil {
		panic(err)
	}
}

type binder[T any] struct {
	collection *model.Collection[T]
	resource   string
	validate   func(body []byte) error
}

// queryFilter builds a store filter from the request query. The reserved
// "filter" parameter carries a json object; any other parameter is a simple
// key=value equality constraint. Keys go through the model's alias tables,
// unresolvable keys are dropped.
func (b binder[T]) queryFilter(w http.ResponseWriter, r *http.Request) (map[string]interface{}, bool) {
	doc := core.NewDoc()
	for key, values := range r.URL.Query() {
		if len(values) != 1 {
			http.Error(w, "illegal parameter array '"+key+"'", http.StatusBadRequest)
			return nil, false
		}
		if key == "filter" {
			parsed, err := core.ParseDoc([]byte(values[0]))
			if err != nil {
				http.Error(w, "parameter 'filter': "+err.Error(), http.StatusBadRequest)
				return nil, false
			}
			if parsed == nil {
				continue
			}
			for _, k := range parsed.Keys() {
				v, _ := parsed.Get(k)
				doc.Set(k, v)
			}
			continue
		}
		doc.Set(key, values[0])
	}
	return b.collection.SanitizeFilter(doc), true
}

func (b binder[T]) list(w http.ResponseWriter, r *http.Request) {
	filter, ok := b.queryFilter(w, r)
	if !ok {
		return
	}
	items, err := b.collection.Get(r.Context(), filter)
	if err != nil {
		b.serverError(w, r, err)
		return
	}
	docs := make([]*core.Doc, 0, len(items))
	for _, item := range items {
		doc, err := b.collection.ToJSON(item)
		if err != nil {
			b.serverError(w, r, err)
			return
		}
		docs = append(docs, doc)
	}
	writeJSON(w, http.StatusOK, docs)
}

func (b binder[T]) getByID(w http.ResponseWriter, r *http.Request) {
	item, err := b.collection.GetByID(r.Context(), core.ParseID(mux.Vars(r)["id"]))
	if err != nil {
		b.serverError(w, r, err)
		return
	}
	if item == nil {
		http.Error(w, "no such "+b.resource, http.StatusNotFound)
		return
	}
	b.writeItem(w, r, http.StatusOK, item)
}

func (b binder[T]) create(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		b.serverError(w, r, err)
		return
	}
	if b.validate != nil {
		if err := b.validate(body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	item, err := b.collection.ParseJSON(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if item == nil {
		http.Error(w, "document required", http.StatusBadRequest)
		return
	}
	if err := b.collection.Create(r.Context(), item); err != nil {
		b.serverError(w, r, err)
		return
	}
	b.writeItem(w, r, http.StatusCreated, item)
}

func (b binder[T]) save(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		b.serverError(w, r, err)
		return
	}
	if b.validate != nil {
		if err := b.validate(body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	doc, err := core.ParseDoc(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if doc == nil {
		http.Error(w, "document required", http.StatusBadRequest)
		return
	}
	item, err := b.collection.GetByID(r.Context(), core.ParseID(mux.Vars(r)["id"]))
	if err != nil {
		b.serverError(w, r, err)
		return
	}
	if item == nil {
		http.Error(w, "no such "+b.resource, http.StatusNotFound)
		return
	}
	changes, err := b.collection.FromJSONAsChangeSet(doc)
	if err != nil {
		b.serverError(w, r, err)
		return
	}
	if err := b.collection.Save(r.Context(), item, changes); err != nil {
		b.serverError(w, r, err)
		return
	}
	b.writeItem(w, r, http.StatusOK, item)
}

func (b binder[T]) removeByID(w http.ResponseWriter, r *http.Request) {
	deleted, err := b.collection.RemoveByID(r.Context(), core.ParseID(mux.Vars(r)["id"]))
	if err != nil {
		b.serverError(w, r, err)
		return
	}
	if deleted == 0 {
		http.Error(w, "no such "+b.resource, http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (b binder[T]) removeAll(w http.ResponseWriter, r *http.Request) {
	filter, ok := b.queryFilter(w, r)
	if !ok {
		return
	}
	if _, err := b.collection.RemoveAll(r.Context(), filter); err != nil {
		b.serverError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (b binder[T]) writeItem(w http.ResponseWriter, r *http.Request, status int, item *T) {
	doc, err := b.collection.ToJSON(item)
	if err != nil {
		b.serverError(w, r, err)
		return
	}
	writeJSON(w, status, doc)
}

func (b binder[T]) serverError(w http.ResponseWriter, r *http.Request, err error) {
	logger.FromContext(r.Context()).
		WithField("resource", b.resource).Errorln(err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, value interface{}) {
	data, err := json.Marshal(value)
	if err != nil {
		http.Error(w, "cannot marshal response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}
