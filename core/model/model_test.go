package model

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/morpho-tech/morpho/core"
	"github.com/morpho-tech/morpho/core/docstore"
)

type contact struct {
	Phone string `db:"phone" json:"phone"`
	Email string `db:"email" json:"email"`
}

type customer struct {
	Base
	FirstName string  `db:"first_name" json:"firstName"`
	LastName  string  `db:"last_name" json:"lastName"`
	Password  string  `db:"pw" private:""`
	Contact   contact `db:"contact" json:"contact"`
	Age       int     `db:"age" json:"age"`
}

func newTestBinding(t *testing.T) (*Collection[customer], *docstore.MemoryStore) {
	t.Helper()
	store := docstore.NewMemoryStore()
	conns := docstore.NewConnections()
	conns.Register("customerDb", store)
	customers, err := Bind[customer](conns,
		WithDatabase("customerDb"), WithCollection("customers"))
	require.NoError(t, err)
	return customers, store
}

func TestCreateAssignsIdentity(t *testing.T) {
	ctx := context.Background()
	customers, store := newTestBinding(t)

	c := &customer{FirstName: "Ada", Age: 36}
	require.NoError(t, customers.Create(ctx, c))
	assert.False(t, c.ID.IsZero())

	doc, err := store.FindOne(ctx, "customers", docstore.Filter{"_id": c.ID.String()})
	require.NoError(t, err)
	assert.Equal(t, "Ada", doc["first_name"])
	// the private field never reaches the store
	_, ok := doc["pw"]
	assert.False(t, ok)
}

func TestCreateKeepsExistingIdentity(t *testing.T) {
	ctx := context.Background()
	customers, _ := newTestBinding(t)

	c := &customer{}
	c.ID = core.ParseID("customer-1")
	require.NoError(t, customers.Create(ctx, c))
	assert.Equal(t, "customer-1", c.ID.String())

	got, err := customers.GetByID(ctx, core.ParseID("customer-1"))
	require.NoError(t, err)
	require.NotNil(t, got)
}

func TestSaveRequiresIdentity(t *testing.T) {
	ctx := context.Background()
	customers, _ := newTestBinding(t)

	err := customers.Save(ctx, &customer{FirstName: "Ada"}, nil)
	assert.ErrorIs(t, err, ErrIdentifierMissing)

	_, err = customers.Remove(ctx, &customer{})
	assert.ErrorIs(t, err, ErrIdentifierMissing)
}

func TestSaveWithChangeSet(t *testing.T) {
	ctx := context.Background()
	customers, store := newTestBinding(t)

	c := &customer{FirstName: "Ada", LastName: "Lovelace", Age: 36}
	require.NoError(t, customers.Create(ctx, c))

	changes := map[string]interface{}{
		"Age":     37,
		"Contact": map[string]interface{}{"Phone": "555", "Email": "a@example.com"},
		"Rogue":   "dropped",
	}
	require.NoError(t, customers.Save(ctx, c, changes))

	// the change set was translated through the db alias table
	doc, err := store.FindOne(ctx, "customers", docstore.Filter{"_id": c.ID.String()})
	require.NoError(t, err)
	assert.Equal(t, 37, doc["age"])
	assert.Equal(t, "Ada", doc["first_name"], "untouched fields stay")
	assert.Equal(t, map[string]interface{}{"phone": "555", "email": "a@example.com"},
		doc["contact"])
	_, ok := doc["Rogue"]
	assert.False(t, ok)

	// and synchronized back onto the instance
	assert.Equal(t, 37, c.Age)
	assert.Equal(t, contact{Phone: "555", Email: "a@example.com"}, c.Contact)
	assert.Equal(t, "Ada", c.FirstName)
}

type reachability struct {
	Phone string `db:"tel" json:"phone"`
}

type subscriber struct {
	Base
	Name    string       `db:"name" json:"name"`
	Contact reachability `db:"contact_info" json:"contact"`
}

func TestSaveTranslatesNestedAliases(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemoryStore()
	conns := docstore.NewConnections()
	conns.Register("subsDb", store)
	subscribers, err := Bind[subscriber](conns,
		WithDatabase("subsDb"), WithCollection("subscribers"))
	require.NoError(t, err)

	s := &subscriber{Name: "Ada", Contact: reachability{Phone: "111"}}
	require.NoError(t, subscribers.Create(ctx, s))

	wire, err := core.ParseDoc([]byte(`{"contact":{"phone":"222"}}`))
	require.NoError(t, err)
	changes, err := subscribers.FromJSONAsChangeSet(wire)
	require.NoError(t, err)
	// nested change sets are property-keyed, not wire-keyed
	assert.Equal(t, map[string]interface{}{
		"Contact": map[string]interface{}{"Phone": "222"},
	}, changes)

	require.NoError(t, subscribers.Save(ctx, s, changes))

	// the nested value is stored under its db aliases, even where they
	// diverge from the json aliases
	doc, err := store.FindOne(ctx, "subscribers", docstore.Filter{"_id": s.ID.String()})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"tel": "222"}, doc["contact_info"])

	// synchronized back onto the instance and readable again
	assert.Equal(t, "222", s.Contact.Phone)
	got, err := subscribers.GetByID(ctx, s.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "222", got.Contact.Phone)
}

func TestSaveFullInstance(t *testing.T) {
	ctx := context.Background()
	customers, store := newTestBinding(t)

	c := &customer{FirstName: "Ada", Age: 36}
	require.NoError(t, customers.Create(ctx, c))
	c.Age = 40
	require.NoError(t, customers.Save(ctx, c, nil))

	doc, err := store.FindOne(ctx, "customers", docstore.Filter{"_id": c.ID.String()})
	require.NoError(t, err)
	assert.Equal(t, 40, doc["age"])
}

func TestGetVariants(t *testing.T) {
	ctx := context.Background()
	customers, _ := newTestBinding(t)

	for _, name := range []string{"Ada", "Grace", "Ada"} {
		require.NoError(t, customers.Create(ctx, &customer{FirstName: name}))
	}

	all, err := customers.Get(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	adas, err := customers.Get(ctx, docstore.Filter{"first_name": "Ada"})
	require.NoError(t, err)
	assert.Len(t, adas, 2)

	one, err := customers.GetOne(ctx, docstore.Filter{"first_name": "Grace"})
	require.NoError(t, err)
	require.NotNil(t, one)
	assert.Equal(t, "Grace", one.FirstName)

	missing, err := customers.GetOne(ctx, docstore.Filter{"first_name": "Nobody"})
	require.NoError(t, err)
	assert.Nil(t, missing)

	cursor, err := customers.GetCursorByID(ctx, customers.ID(one))
	require.NoError(t, err)
	docs, err := cursor.All(ctx)
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestRemoveVariants(t *testing.T) {
	ctx := context.Background()
	customers, _ := newTestBinding(t)

	a := &customer{FirstName: "Ada"}
	b := &customer{FirstName: "Grace"}
	require.NoError(t, customers.Create(ctx, a))
	require.NoError(t, customers.Create(ctx, b))

	deleted, err := customers.Remove(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	deleted, err = customers.RemoveAll(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}

func TestLazyConfigurationValidation(t *testing.T) {
	ctx := context.Background()
	conns := docstore.NewConnections()

	// binding succeeds without any configuration
	unconfigured, err := Bind[customer](conns)
	require.NoError(t, err)

	err = unconfigured.Create(ctx, &customer{})
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.Contains(t, err.Error(), "database name")

	noCollection, err := Bind[customer](conns, WithDatabase("customerDb"))
	require.NoError(t, err)
	err = noCollection.Create(ctx, &customer{})
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.Contains(t, err.Error(), "collection name")

	// both names set, but the database is not registered
	orphan, err := Bind[customer](conns,
		WithDatabase("missingDb"), WithCollection("customers"))
	require.NoError(t, err)
	err = orphan.Create(ctx, &customer{})
	assert.ErrorIs(t, err, ErrDatabaseNotFound)
	assert.Contains(t, err.Error(), "customer")
	assert.Contains(t, err.Error(), "missingDb")
}

func TestRebindDataSource(t *testing.T) {
	ctx := context.Background()
	customers, _ := newTestBinding(t)

	require.NoError(t, customers.Create(ctx, &customer{FirstName: "Ada"}))

	// swapping the registered store isolates the binding from old data
	fresh := docstore.NewMemoryStore()
	customers.conns.Register("customerDb", fresh)

	all, err := customers.Get(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestMarshalSurface(t *testing.T) {
	customers, _ := newTestBinding(t)

	c := &customer{FirstName: "Ada", Password: "s3cret"}
	c.ID = core.ParseID("customer-9")

	s, err := customers.ToJSONString(c)
	require.NoError(t, err)
	assert.Contains(t, s, `"id":"customer-9"`)
	assert.NotContains(t, s, "_id")
	assert.NotContains(t, s, "s3cret")

	got, err := customers.ParseJSON([]byte(`{"firstName":"Grace","id":"customer-10"}`))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Grace", got.FirstName)
	assert.Equal(t, "customer-10", got.ID.String())

	// the null contract
	got, err = customers.ParseJSON([]byte(`null`))
	require.NoError(t, err)
	assert.Nil(t, got)
	got, err = customers.FromJSON(nil)
	require.NoError(t, err)
	assert.Nil(t, got)
	list, err := customers.FromJSONSlice(nil)
	require.NoError(t, err)
	require.NotNil(t, list)
	assert.Empty(t, list)

	// non-object elements stay in the sequence as nil
	list, err = customers.FromJSONSlice([]interface{}{
		core.NewDoc().Set("firstName", "Ada"), nil,
	})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Ada", list[0].FirstName)
	assert.Nil(t, list[1])

	changes, err := customers.FromJSONAsChangeSet(core.NewDoc().
		Set("firstName", "Hopper").Set("id", "ignored"))
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"FirstName": "Hopper"}, changes)
}

func TestSanitizeFilter(t *testing.T) {
	customers, _ := newTestBinding(t)

	doc := core.NewDoc().
		Set("firstName", "Ada").
		Set("id", "customer-1").
		Set("contact", core.NewDoc().Set("email", "a@example.com")).
		Set("rogue", "dropped")

	filter := customers.SanitizeFilter(doc)
	assert.Equal(t, docstore.Filter{
		"_id":        "customer-1",
		"first_name": "Ada",
		"contact":    map[string]interface{}{"email": "a@example.com"},
	}, filter)

	assert.Empty(t, customers.SanitizeFilter(nil))
}
