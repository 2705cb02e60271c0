/*
Package client provides easy and fast in-process access to a synthesized
REST api.

Instead of marshalling HTTP over the network, the client can talk directly
to a mux router. That makes it the tool of choice when one request handler
needs to call other handlers to fulfill its task, and for unit tests. The
same client also works against a remote service when created with a URL.
*/
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/gorilla/mux"

	"github.com/morpho-tech/morpho/core"
)

// Client provides access to a synthesized REST api, either in-process
// through a mux router or remotely through a URL.
type Client struct {
	router     *mux.Router
	httpClient *http.Client
	url        string
	ctx        context.Context

	defaultHeaders map[string]string
}

// NewWithRouter creates a client that makes pseudo-REST requests directly
// against the mux router, without any network traffic
func NewWithRouter(router *mux.Router) Client {
	return Client{
		router:         router,
		defaultHeaders: map[string]string{},
	}
}

// NewWithURL creates a client that makes REST requests to a remote service
func NewWithURL(url string) Client {
	return Client{
		url:            url,
		httpClient:     &http.Client{Timeout: time.Second * 10},
		defaultHeaders: map[string]string{},
	}
}

// WithHeader returns a new client with a default header added
func (c Client) WithHeader(key string, value string) Client {
	headers := map[string]string{key: value}
	for k, v := range c.defaultHeaders {
		headers[k] = v
	}
	c.defaultHeaders = headers
	return c
}

// WithContext returns a new client with a specific request context
func (c Client) WithContext(ctx context.Context) Client {
	c.ctx = ctx
	return c
}

// Context returns the client's request context
func (c Client) Context() context.Context {
	if c.ctx != nil {
		return c.ctx
	}
	return context.Background()
}

// do executes one request, either through the router or over the wire, and
// unmarshals the response body into result. result can be a *[]byte to
// receive the raw body, or nil.
func (c Client) do(method, path string, body interface{}, result interface{}, expected ...int) (int, error) {
	var reader io.Reader
	if body != nil {
		data, ok := body.([]byte)
		if !ok {
			var err error
			data, err = json.Marshal(body)
			if err != nil {
				return 0, err
			}
		}
		reader = bytes.NewReader(data)
	}
	r, err := http.NewRequestWithContext(c.Context(), method, c.url+path, reader)
	if err != nil {
		return 0, err
	}
	for key, value := range c.defaultHeaders {
		r.Header.Add(key, value)
	}
	if body != nil {
		r.Header.Set("Content-Type", "application/json")
	}

	var res *http.Response
	var resBody []byte
	if c.router != nil {
		rec := httptest.NewRecorder()
		c.router.ServeHTTP(rec, r)
		res = rec.Result()
		resBody = rec.Body.Bytes()
	} else {
		res, err = c.httpClient.Do(r)
		if err != nil {
			return http.StatusInternalServerError, err
		}
		defer res.Body.Close()
		resBody, _ = io.ReadAll(res.Body)
	}

	status := res.StatusCode
	ok := false
	for _, e := range expected {
		ok = ok || status == e
	}
	if !ok {
		return status, fmt.Errorf("handler returned wrong status code: got %v want %v. Error: %s",
			status, expected, strings.TrimSpace(string(resBody)))
	}
	if status != http.StatusNoContent && len(resBody) > 0 && result != nil {
		if raw, ok := result.(*[]byte); ok {
			*raw = resBody
		} else {
			err = json.Unmarshal(resBody, result)
		}
	}
	return status, err
}

// RawGet gets the resource at path. Expects http.StatusOK.
func (c Client) RawGet(path string, result interface{}) (int, error) {
	return c.do(http.MethodGet, path, nil, result, http.StatusOK)
}

// RawPost posts body to path. Expects http.StatusCreated.
// body can also be a []byte, result can also be a raw *[]byte.
func (c Client) RawPost(path string, body interface{}, result interface{}) (int, error) {
	return c.do(http.MethodPost, path, body, result, http.StatusCreated)
}

// RawPut puts body to path. Expects http.StatusOK or http.StatusNoContent.
func (c Client) RawPut(path string, body interface{}, result interface{}) (int, error) {
	return c.do(http.MethodPut, path, body, result, http.StatusOK, http.StatusNoContent)
}

// RawDelete deletes the resource at path. Expects http.StatusNoContent.
func (c Client) RawDelete(path string) (int, error) {
	return c.do(http.MethodDelete, path, nil, nil, http.StatusNoContent)
}

// Collection represents the synthesized route set of one resource
type Collection struct {
	client     Client
	resource   string
	parameters map[string]string
}

// Collection returns a new collection client for a singular resource name
func (c Client) Collection(resource string) Collection {
	return Collection{
		client:   c,
		resource: resource,
	}
}

// WithParameter returns a new collection client with a URL parameter added
func (r Collection) WithParameter(key string, value string) Collection {
	parameters := map[string]string{key: value}
	for k, v := range r.parameters {
		parameters[k] = v
	}
	r.parameters = parameters
	return r
}

// WithFilter returns a new collection client with a filter document added.
// This is a shortcut for WithParameter("filter", json)
func (r Collection) WithFilter(filter map[string]interface{}) Collection {
	data, _ := json.Marshal(filter)
	return r.WithParameter("filter", string(data))
}

// CollectionPath returns the collection path plus optional query strings
func (r Collection) CollectionPath() string {
	path := "/" + core.Plural(r.resource)
	query := url.Values{}
	for key, value := range r.parameters {
		query.Set(key, value)
	}
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	return path
}

// ItemPath returns the path of a single item
func (r Collection) ItemPath(id core.ID) string {
	return "/" + core.Plural(r.resource) + "/" + id.String()
}

// List reads the collection into result, honoring filter parameters.
//
// The operation corresponds to a GET request on the collection.
func (r Collection) List(result interface{}) (int, error) {
	return r.client.RawGet(r.CollectionPath(), result)
}

// Read reads a single item into result.
//
// The operation corresponds to a GET request on the item.
func (r Collection) Read(id core.ID, result interface{}) (int, error) {
	return r.client.RawGet(r.ItemPath(id), result)
}

// Create creates a new item.
//
// The operation corresponds to a POST request. Expects http.StatusCreated
// as response, otherwise it flags an error. Returns the actual status code.
//
// body can also be a []byte, result can also be a raw *[]byte, result can
// be nil.
func (r Collection) Create(body interface{}, result interface{}) (int, error) {
	return r.client.RawPost(r.CollectionPath(), body, result)
}

// Update applies body as a partial update to an existing item.
//
// The operation corresponds to a PUT request on the item.
func (r Collection) Update(id core.ID, body interface{}, result interface{}) (int, error) {
	return r.client.RawPut(r.ItemPath(id), body, result)
}

// Delete deletes a single item.
//
// The operation corresponds to a DELETE request on the item.
func (r Collection) Delete(id core.ID) (int, error) {
	return r.client.RawDelete(r.ItemPath(id))
}

// Clear deletes the entire collection, honoring filter parameters.
//
// The operation corresponds to a DELETE request on the collection.
func (r Collection) Clear() (int, error) {
	return r.client.RawDelete(r.CollectionPath())
}
