package graphmodel

import (
	"context"
	"errors"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRunner implements DBRunner for tests, recording every executed query and
// answering from a queue of canned results.
type fakeRunner struct {
	queries []string
	params  []map[string]any
	results []*neo4j.EagerResult
}

func (f *fakeRunner) Run(ctx context.Context, query string, params map[string]interface{}) (*neo4j.EagerResult, error) {
	f.queries = append(f.queries, query)
	f.params = append(f.params, params)
	if len(f.results) == 0 {
		return &neo4j.EagerResult{}, nil
	}
	result := f.results[0]
	f.results = f.results[1:]
	return result, nil
}

// fakeTransaction implements Transaction, recording every statement routed
// through it. It always reports a failure: the driver's result type cannot be
// constructed outside the driver, so the threading seam is observed through the
// recorded statements and the propagated error.
type fakeTransaction struct {
	queries []string
	params  []map[string]any
	err     error
}

func (f *fakeTransaction) Run(ctx context.Context, cypher string, params map[string]any) (neo4j.ResultWithContext, error) {
	f.queries = append(f.queries, cypher)
	f.params = append(f.params, params)
	return nil, f.err
}

func nodeRecord(alias string, node neo4j.Node) *neo4j.Record {
	return &neo4j.Record{Keys: []string{alias}, Values: []any{node}}
}

func newTestGraph() (*Graph, *fakeRunner) {
	runner := &fakeRunner{}
	return NewGraph(runner), runner
}

func mustNodes[T any](t *testing.T, g *Graph) *NodeQuery[T] {
	t.Helper()
	q, err := Nodes[T](g)
	require.NoError(t, err)
	return q
}

func TestCompileFilterSortLimitOrder(t *testing.T) {
	g, _ := newTestGraph()
	q := mustNodes[Person](t, g).
		Where(Prop("age").Gt(30)).
		OrderBy("age").
		Take(3)

	compiled, err := compilePlan(q.schema, q.ops, returnEntities)
	require.NoError(t, err)
	assert.Equal(t, "MATCH (n:Person) WHERE n.age > $p0 RETURN n ORDER BY n.age LIMIT $p1", compiled.text)
	assert.Equal(t, map[string]any{"p0": 30, "p1": 3}, compiled.params)
}

func TestCompileConjunctiveFiltersInCallOrder(t *testing.T) {
	g, _ := newTestGraph()
	q := mustNodes[Person](t, g).
		Where(Prop("age").Gt(25)).
		Where(Prop("city").Eq("SF"))

	compiled, err := compilePlan(q.schema, q.ops, returnEntities)
	require.NoError(t, err)
	assert.Equal(t, "MATCH (n:Person) WHERE n.age > $p0 AND n.city = $p1 RETURN n", compiled.text)
}

func TestCompileMultiKeySort(t *testing.T) {
	g, _ := newTestGraph()

	t.Run("then_by appends", func(t *testing.T) {
		q := mustNodes[Person](t, g).OrderBy("age").ThenByDescending("name")
		compiled, err := compilePlan(q.schema, q.ops, returnEntities)
		require.NoError(t, err)
		assert.Equal(t, "MATCH (n:Person) RETURN n ORDER BY n.age, n.name DESC", compiled.text)
	})

	t.Run("a second order_by replaces", func(t *testing.T) {
		q := mustNodes[Person](t, g).OrderBy("age").OrderByDescending("name")
		compiled, err := compilePlan(q.schema, q.ops, returnEntities)
		require.NoError(t, err)
		assert.Equal(t, "MATCH (n:Person) RETURN n ORDER BY n.name DESC", compiled.text)
	})
}

func TestCompileSkipAndTake(t *testing.T) {
	g, _ := newTestGraph()
	q := mustNodes[Person](t, g).Skip(2).Take(2)
	compiled, err := compilePlan(q.schema, q.ops, returnEntities)
	require.NoError(t, err)
	assert.Equal(t, "MATCH (n:Person) RETURN n SKIP $p0 LIMIT $p1", compiled.text)
	assert.Equal(t, map[string]any{"p0": 2, "p1": 2}, compiled.params)
}

func TestCompileProjection(t *testing.T) {
	g, _ := newTestGraph()
	q := mustNodes[Person](t, g).Where(Prop("age").Gt(21)).Select("name", "age")
	compiled, err := compilePlan(q.schema, q.ops, returnProjection)
	require.NoError(t, err)
	assert.Equal(t, "MATCH (n:Person) WHERE n.age > $p0 RETURN n.name AS name, n.age AS age", compiled.text)
}

func TestCompileTraverseStep(t *testing.T) {
	g, _ := newTestGraph()
	base := mustNodes[Person](t, g).Where(Prop("age").Gt(30))

	companies, err := Traverse[Company](base, "WORKS_FOR")
	require.NoError(t, err)
	companies = companies.Where(Prop("name").StartsWith("A"))

	compiled, err := compilePlan(companies.schema, companies.ops, returnEntities)
	require.NoError(t, err)
	assert.Equal(t,
		"MATCH (n:Person)-[:WORKS_FOR]->(m1:Company) WHERE n.age > $p0 AND m1.name STARTS WITH $p1 RETURN DISTINCT m1",
		compiled.text)
}

func TestCompileTraverseWithDepthAndDirection(t *testing.T) {
	g, _ := newTestGraph()
	base := mustNodes[Person](t, g)

	friends, err := Traverse[Person](base, "KNOWS")
	require.NoError(t, err)
	friends, err = friends.WithDepth(1, 3)
	require.NoError(t, err)
	friends, err = friends.InDirection(Both)
	require.NoError(t, err)

	compiled, err := compilePlan(friends.schema, friends.ops, returnEntities)
	require.NoError(t, err)
	assert.Equal(t, "MATCH (n:Person)-[:KNOWS*1..3]-(m1:Person) RETURN DISTINCT m1", compiled.text)
}

func TestCompileRejectsOrderingBeforeTraverse(t *testing.T) {
	g, _ := newTestGraph()

	// Sort keys recorded against a pre-traverse alias cannot be rendered: the
	// traversed plan returns DISTINCT target rows, which only the target alias
	// may order.
	ordered := mustNodes[Person](t, g).OrderBy("age")
	companies, err := Traverse[Company](&ordered.NodeQuery, "WORKS_FOR")
	require.NoError(t, err)

	_, err = compilePlan(companies.schema, companies.ops, returnEntities)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestWithDepthValidation(t *testing.T) {
	g, _ := newTestGraph()
	base := mustNodes[Person](t, g)

	t.Run("no traverse step", func(t *testing.T) {
		_, err := base.WithDepth(1, 2)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
	})

	t.Run("bad bounds", func(t *testing.T) {
		friends, err := Traverse[Person](base, "KNOWS")
		require.NoError(t, err)
		_, err = friends.WithDepth(3, 1)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
	})
}

func TestPlanImmutability(t *testing.T) {
	g, _ := newTestGraph()
	base := mustNodes[Person](t, g).Where(Prop("age").Gt(30))

	// Fanning out from a shared base must not disturb the base or a sibling.
	narrowed := base.Where(Prop("city").Eq("Boston"))
	paged := base.Skip(10).Take(10)

	baseCompiled, err := compilePlan(base.schema, base.ops, returnEntities)
	require.NoError(t, err)
	narrowedCompiled, err := compilePlan(narrowed.schema, narrowed.ops, returnEntities)
	require.NoError(t, err)
	pagedCompiled, err := compilePlan(paged.schema, paged.ops, returnEntities)
	require.NoError(t, err)

	assert.Equal(t, "MATCH (n:Person) WHERE n.age > $p0 RETURN n", baseCompiled.text)
	assert.Equal(t, "MATCH (n:Person) WHERE n.age > $p0 AND n.city = $p1 RETURN n", narrowedCompiled.text)
	assert.Equal(t, "MATCH (n:Person) WHERE n.age > $p0 RETURN n SKIP $p1 LIMIT $p2", pagedCompiled.text)

	assert.Len(t, base.ops, 1)
	assert.Len(t, narrowed.ops, 2)
	assert.Len(t, paged.ops, 3)
}

func TestCompileRelationshipPlan(t *testing.T) {
	g, _ := newTestGraph()
	q, err := Relationships[WorksFor](g)
	require.NoError(t, err)
	filtered := q.Where(Prop("since").Gte(2020)).OrderBy("since")

	compiled, err := compilePlan(filtered.schema, filtered.ops, returnEntities)
	require.NoError(t, err)
	assert.Equal(t, "MATCH ()-[r:WORKS_FOR]->() WHERE r.since >= $p0 RETURN r ORDER BY r.since", compiled.text)
}

func TestFirstAndDefaults(t *testing.T) {
	ctx := context.Background()

	t.Run("first on empty result fails with ErrNotFound", func(t *testing.T) {
		g, _ := newTestGraph()
		_, err := mustNodes[Person](t, g).Where(Prop("age").Gt(200)).First(ctx, nil)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("first_or_default on empty result returns nil", func(t *testing.T) {
		g, _ := newTestGraph()
		p, err := mustNodes[Person](t, g).Where(Prop("age").Gt(200)).FirstOrDefault(ctx, nil)
		require.NoError(t, err)
		assert.Nil(t, p)
	})

	t.Run("single_or_default on empty result returns nil", func(t *testing.T) {
		g, _ := newTestGraph()
		p, err := mustNodes[Person](t, g).SingleOrDefault(ctx, nil)
		require.NoError(t, err)
		assert.Nil(t, p)
	})
}

func TestTransactionHandleIsThreaded(t *testing.T) {
	ctx := context.Background()

	t.Run("node lookup runs on the supplied handle", func(t *testing.T) {
		g, runner := newTestGraph()
		tx := &fakeTransaction{err: errors.New("transaction closed")}

		_, err := GetNode[Person](ctx, g, "p1", tx)
		var perr *ProviderError
		require.ErrorAs(t, err, &perr)
		assert.ErrorIs(t, err, tx.err)

		require.Len(t, tx.queries, 1)
		assert.Contains(t, tx.queries[0], "Person")
		// The auto-managed path must stay untouched when a handle is given.
		assert.Empty(t, runner.queries)
	})

	t.Run("terminal call runs on the supplied handle", func(t *testing.T) {
		g, runner := newTestGraph()
		tx := &fakeTransaction{err: errors.New("transaction closed")}

		_, err := mustNodes[Person](t, g).Where(Prop("age").Gt(30)).ToList(ctx, tx)
		var perr *ProviderError
		require.ErrorAs(t, err, &perr)

		require.Len(t, tx.queries, 1)
		assert.Equal(t, "MATCH (n:Person) WHERE n.age > $p0 RETURN n", tx.queries[0])
		assert.Equal(t, map[string]any{"p0": 30}, tx.params[0])
		assert.Empty(t, runner.queries)
	})
}

func TestToListDeserializesRows(t *testing.T) {
	ctx := context.Background()
	g, runner := newTestGraph()

	person := neo4j.Node{
		ElementId: "4:abc:1",
		Labels:    []string{"Person"},
		Props: map[string]any{
			"id":     "p1",
			"name":   "Alice",
			"age":    int64(34),
			"skills": []any{"go"},
		},
	}
	runner.results = []*neo4j.EagerResult{
		{Records: []*neo4j.Record{nodeRecord("n", person)}},
		// One query per complex field of the returned row; no address linked.
	}

	people, err := mustNodes[Person](t, g).Where(Prop("age").Gt(30)).ToList(ctx, nil)
	require.NoError(t, err)
	require.Len(t, people, 1)
	assert.Equal(t, "Alice", people[0].Name)
	assert.Equal(t, 34, people[0].Age)
	assert.Nil(t, people[0].HomeAddress)
}
