package routable_test

import (
	"net/http"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/morpho-tech/morpho/core"
	"github.com/morpho-tech/morpho/core/client"
	"github.com/morpho-tech/morpho/core/docstore"
	"github.com/morpho-tech/morpho/core/logger"
	"github.com/morpho-tech/morpho/core/model"
	"github.com/morpho-tech/morpho/core/routable"
	"github.com/morpho-tech/morpho/core/schema"
)

type article struct {
	model.Base
	Title  string `db:"title" json:"title"`
	Body   string `db:"body" json:"body"`
	Views  int    `db:"views" json:"views"`
	Secret string `db:"secret" private:""`
}

func newTestAPI(t *testing.T, options ...interface{}) (client.Client, *docstore.MemoryStore) {
	t.Helper()
	store := docstore.NewMemoryStore()
	conns := docstore.NewConnections()
	conns.Register("newsDb", store)

	modelOptions := []model.Option{
		model.WithDatabase("newsDb"), model.WithCollection("articles"),
	}
	var routeOptions []routable.Option
	for _, option := range options {
		switch o := option.(type) {
		case model.Option:
			modelOptions = append(modelOptions, o)
		case routable.Option:
			routeOptions = append(routeOptions, o)
		}
	}

	articles := model.MustBind[article](conns, modelOptions...)
	router := mux.NewRouter()
	logger.AddRequestID(router)
	require.NoError(t, routable.Bind(router, articles, routeOptions...))
	return client.NewWithRouter(router), store
}

func TestCrudRoundTrip(t *testing.T) {
	cl, store := newTestAPI(t)
	col := cl.Collection("article")

	created := map[string]interface{}{}
	status, err := col.Create(map[string]interface{}{
		"title": "Hello", "views": 3, "secret": "hidden",
	}, &created)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, status)
	id := core.ParseIDValue(created["id"])
	require.False(t, id.IsZero())
	_, leaked := created["secret"]
	assert.False(t, leaked, "private fields never appear on the wire")

	var list []map[string]interface{}
	_, err = col.List(&list)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Hello", list[0]["title"])

	item := map[string]interface{}{}
	_, err = col.Read(id, &item)
	require.NoError(t, err)
	assert.Equal(t, "Hello", item["title"])

	updated := map[string]interface{}{}
	status, err = col.Update(id, map[string]interface{}{"title": "Changed"}, &updated)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Changed", updated["title"])

	doc, err := store.FindOne(cl.Context(), "articles", docstore.Filter{"_id": id.String()})
	require.NoError(t, err)
	assert.Equal(t, "Changed", doc["title"], "untouched fields stay")
	assert.Equal(t, 3, doc["views"])

	status, err = col.Delete(id)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, status)

	status, _ = col.Read(id, nil)
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = col.Delete(id)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestListFiltering(t *testing.T) {
	cl, _ := newTestAPI(t)
	col := cl.Collection("article")

	for _, a := range []map[string]interface{}{
		{"title": "A", "views": 1},
		{"title": "B", "views": 2},
		{"title": "A", "views": 3},
	} {
		_, err := col.Create(a, nil)
		require.NoError(t, err)
	}

	var list []map[string]interface{}
	_, err := col.WithFilter(map[string]interface{}{"title": "A"}).List(&list)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	// simple equality parameters work without the filter document
	_, err = col.WithParameter("title", "B").List(&list)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	// numbers in the filter document match stored integers
	_, err = col.WithFilter(map[string]interface{}{"views": 3}).List(&list)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	// unknown keys are dropped from the filter, not matched against
	_, err = col.WithParameter("rogue", "x").List(&list)
	require.NoError(t, err)
	assert.Len(t, list, 3)

	status, _ := col.WithParameter("filter", "{not json").List(&list)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestRemoveCollectionWithFilter(t *testing.T) {
	cl, store := newTestAPI(t)
	col := cl.Collection("article")

	for _, title := range []string{"A", "B", "A"} {
		_, err := col.Create(map[string]interface{}{"title": title}, nil)
		require.NoError(t, err)
	}

	status, err := col.WithFilter(map[string]interface{}{"title": "A"}).Clear()
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, status)

	docs, err := store.Find(cl.Context(), "articles", nil)
	require.NoError(t, err)
	all, err := docs.All(cl.Context())
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSuppressedOperationsAreNotMounted(t *testing.T) {
	cl, _ := newTestAPI(t,
		model.Suppress(core.OperationCreate, core.OperationRemoveAll))
	col := cl.Collection("article")

	status, _ := col.Create(map[string]interface{}{"title": "A"}, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, status)
	status, _ = col.Clear()
	assert.Equal(t, http.StatusMethodNotAllowed, status)

	// the rest of the route set is still there
	var list []map[string]interface{}
	status, err := col.List(&list)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
}

func TestCustomRoutes(t *testing.T) {
	// routes match in registration order, so the fixed path goes first
	custom := routable.WithRoutes(
		routable.Route{
			Method: http.MethodGet,
			Path:   "/trending",
			Handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.Write([]byte(`[]`))
			},
		},
		routable.Route{
			Method: http.MethodGet,
			Path:   "/{id}",
			Handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.Write([]byte(`{"custom":true}`))
			},
		},
	)
	cl, _ := newTestAPI(t, custom)
	col := cl.Collection("article")

	// the custom handler shadows the synthesized single item route
	item := map[string]interface{}{}
	_, err := col.Read(core.ParseID("anything"), &item)
	require.NoError(t, err)
	assert.Equal(t, true, item["custom"])

	// and additional routes extend the synthesized set
	var trending []interface{}
	_, err = cl.RawGet("/articles/trending", &trending)
	require.NoError(t, err)
	assert.Empty(t, trending)
}

const articleSchema = `
{ "$id": "http://example.com/article.json",
  "type": "object",
  "properties": {
    "title": { "type": "string", "minLength": 1 }
  },
  "required": ["title"]
}`

func TestSchemaValidation(t *testing.T) {
	v, err := schema.NewValidator([]string{articleSchema}, nil)
	require.NoError(t, err)

	cl, _ := newTestAPI(t,
		model.WithSchema("http://example.com/article.json"),
		routable.WithValidator(v))
	col := cl.Collection("article")

	status, _ := col.Create(map[string]interface{}{"views": 1}, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	created := map[string]interface{}{}
	status, err = col.Create(map[string]interface{}{"title": "Valid"}, &created)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, status)

	id := core.ParseIDValue(created["id"])
	status, _ = col.Update(id, map[string]interface{}{"title": ""}, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestBindRejectsUnknownSchema(t *testing.T) {
	v, err := schema.NewValidator(nil, nil)
	require.NoError(t, err)

	conns := docstore.NewConnections()
	conns.Register("newsDb", docstore.NewMemoryStore())
	articles := model.MustBind[article](conns,
		model.WithDatabase("newsDb"), model.WithCollection("articles"),
		model.WithSchema("http://example.com/missing.json"))

	err = routable.Bind(mux.NewRouter(), articles, routable.WithValidator(v))
	assert.Error(t, err)
}
