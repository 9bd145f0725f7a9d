package mongo

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/flowmesh/flowrun/runtime/workflow/execution"
	"github.com/flowmesh/flowrun/runtime/workflow/param"
)

func TestEnsureIndexes(t *testing.T) {
	coll := newFakeCollection()
	require.NoError(t, ensureIndexes(context.Background(), coll))
	require.Equal(t, 3, coll.indexCreated)
}

func TestSaveAndLoadExecution(t *testing.T) {
	client := mustNewTestClient()
	now := time.Now().UTC().Truncate(time.Millisecond)
	rec := &execution.Record{
		ID:             "exec-1",
		WorkflowID:     "wf-1",
		OrganizationID: "org-1",
		Status:         execution.StatusCompleted,
		StartedAt:      now,
		Usage:          3,
		NodeExecutions: map[string]*execution.NodeExecution{
			"n1": {
				NodeID: "n1",
				Status: execution.NodeCompleted,
				Outputs: map[string]param.Value{
					"result": {Kind: param.Number, Data: 6.0},
				},
			},
		},
	}
	require.NoError(t, client.SaveExecution(context.Background(), rec))

	loaded, err := client.LoadExecution(context.Background(), "exec-1")
	require.NoError(t, err)
	require.Equal(t, rec.Status, loaded.Status)
	require.Equal(t, rec.Usage, loaded.Usage)
	require.True(t, loaded.StartedAt.Equal(now))
	require.Equal(t, 6.0, loaded.NodeExecutions["n1"].Outputs["result"].Data)
}

func TestSaveKeepsOriginalStartedAt(t *testing.T) {
	client := mustNewTestClient()
	started := time.Now().UTC().Truncate(time.Millisecond)
	rec := &execution.Record{
		ID:             "exec-1",
		WorkflowID:     "wf-1",
		OrganizationID: "org-1",
		Status:         execution.StatusExecuting,
		StartedAt:      started,
	}
	require.NoError(t, client.SaveExecution(context.Background(), rec))

	// Finalize with a different StartedAt; the stored one must not move.
	ended := started.Add(time.Second)
	rec.Status = execution.StatusCompleted
	rec.StartedAt = started.Add(time.Hour)
	rec.EndedAt = &ended
	require.NoError(t, client.SaveExecution(context.Background(), rec))

	loaded, err := client.LoadExecution(context.Background(), "exec-1")
	require.NoError(t, err)
	require.Equal(t, execution.StatusCompleted, loaded.Status)
	require.True(t, loaded.StartedAt.Equal(started))
	require.NotNil(t, loaded.EndedAt)
}

func TestSaveValidation(t *testing.T) {
	client := mustNewTestClient()
	require.EqualError(t, client.SaveExecution(context.Background(), nil), "record is required")
	require.EqualError(t, client.SaveExecution(context.Background(), &execution.Record{}), "execution id is required")
}

func TestLoadMissingReturnsNotFound(t *testing.T) {
	client := mustNewTestClient()
	_, err := client.LoadExecution(context.Background(), "missing")
	require.ErrorIs(t, err, execution.ErrNotFound)
}

func TestLoadRequiresID(t *testing.T) {
	client := mustNewTestClient()
	_, err := client.LoadExecution(context.Background(), "")
	require.EqualError(t, err, "execution id is required")
}

func TestListExecutionsByWorkflow(t *testing.T) {
	client := mustNewTestClient()
	base := time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"exec-1", "exec-2", "exec-3"} {
		require.NoError(t, client.SaveExecution(context.Background(), &execution.Record{
			ID:             id,
			WorkflowID:     "wf-1",
			OrganizationID: "org-1",
			Status:         execution.StatusCompleted,
			StartedAt:      base.Add(time.Duration(i) * time.Hour),
		}))
	}
	require.NoError(t, client.SaveExecution(context.Background(), &execution.Record{
		ID:             "exec-other",
		WorkflowID:     "wf-2",
		OrganizationID: "org-1",
		Status:         execution.StatusCompleted,
		StartedAt:      base,
	}))

	out, err := client.ListExecutionsByWorkflow(context.Background(), "wf-1", 0)
	require.NoError(t, err)
	require.Len(t, out, 3)
	require.Equal(t, "exec-3", out[0].ID)
	require.Equal(t, "exec-1", out[2].ID)

	limited, err := client.ListExecutionsByWorkflow(context.Background(), "wf-1", 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	require.Equal(t, "exec-3", limited[0].ID)
}

func TestListRequiresWorkflowID(t *testing.T) {
	client := mustNewTestClient()
	_, err := client.ListExecutionsByWorkflow(context.Background(), "", 0)
	require.EqualError(t, err, "workflow id is required")
}

func mustNewTestClient() *client {
	cl, err := newClientWithCollection(nil, newFakeCollection(), time.Second)
	if err != nil {
		panic(err)
	}
	return cl
}

type fakeCollection struct {
	mu           sync.Mutex
	indexCreated int
	docs         map[string]executionDocument
}

func newFakeCollection() *fakeCollection {
	return &fakeCollection{docs: make(map[string]executionDocument)}
}

func (c *fakeCollection) FindOne(ctx context.Context, filter any, opts ...*options.FindOneOptions) singleResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := filter.(bson.M)["id"].(string)
	doc, ok := c.docs[id]
	if !ok {
		return fakeSingleResult{err: mongodriver.ErrNoDocuments}
	}
	copyDoc := doc
	return fakeSingleResult{doc: &copyDoc}
}

func (c *fakeCollection) Find(ctx context.Context, filter any, opts ...*options.FindOptions) (cursor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	workflowID, _ := filter.(bson.M)["workflow_id"].(string)
	var matched []executionDocument
	for _, doc := range c.docs {
		if doc.WorkflowID == workflowID {
			matched = append(matched, doc)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].StartedAt.After(matched[j].StartedAt) })
	if len(opts) > 0 && opts[0] != nil && opts[0].Limit != nil && int64(len(matched)) > *opts[0].Limit {
		matched = matched[:*opts[0].Limit]
	}
	docs := make([]any, len(matched))
	for i := range matched {
		copyDoc := matched[i]
		docs[i] = &copyDoc
	}
	return newFakeCursor(docs), nil
}

func (c *fakeCollection) UpdateOne(ctx context.Context, filter any, update any,
	opts ...*options.UpdateOptions) (*mongodriver.UpdateResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := filter.(bson.M)["id"].(string)
	doc, existed := c.docs[id]

	up := update.(bson.M)
	set, ok := up["$set"].(bson.M)
	if !ok {
		return nil, errors.New("unsupported $set payload")
	}
	if v, ok := set["id"].(string); ok {
		doc.ID = v
	}
	if v, ok := set["workflow_id"].(string); ok {
		doc.WorkflowID = v
	}
	if v, ok := set["deployment_id"].(string); ok {
		doc.DeploymentID = v
	}
	if v, ok := set["organization_id"].(string); ok {
		doc.OrganizationID = v
	}
	if v, ok := set["status"].(execution.Status); ok {
		doc.Status = v
	}
	if v, ok := set["node_executions"].(map[string]*execution.NodeExecution); ok {
		doc.NodeExecutions = v
	}
	if v, ok := set["error"].(string); ok {
		doc.Error = v
	}
	if v, ok := set["ended_at"].(*time.Time); ok {
		doc.EndedAt = v
	}
	if v, ok := set["usage"].(int); ok {
		doc.Usage = v
	}
	if !existed {
		if soi, ok := up["$setOnInsert"].(bson.M); ok {
			if ts, ok := soi["started_at"].(time.Time); ok {
				doc.StartedAt = ts
			}
		}
	}
	c.docs[id] = doc
	return &mongodriver.UpdateResult{MatchedCount: 1}, nil
}

func (c *fakeCollection) Indexes() indexView {
	return fakeIndexView{parent: &c.indexCreated}
}

type fakeIndexView struct {
	parent *int
}

func (v fakeIndexView) CreateOne(ctx context.Context, model mongodriver.IndexModel,
	opts ...*options.CreateIndexesOptions) (string, error) {
	if len(model.Keys.(bson.D)) == 0 {
		return "", errors.New("missing keys")
	}
	*v.parent++
	return "idx", nil
}

type fakeSingleResult struct {
	doc *executionDocument
	err error
}

func (r fakeSingleResult) Decode(val any) error {
	if r.err != nil {
		return r.err
	}
	typed, ok := val.(*executionDocument)
	if !ok {
		return errors.New("unsupported target")
	}
	*typed = *r.doc
	return nil
}

type fakeCursor struct {
	docs []any
	idx  int
}

func newFakeCursor(docs []any) *fakeCursor {
	return &fakeCursor{docs: docs, idx: -1}
}

func (c *fakeCursor) Close(ctx context.Context) error { return nil }

func (c *fakeCursor) Decode(val any) error {
	if c.idx < 0 || c.idx >= len(c.docs) {
		return errors.New("no document")
	}
	typed, ok := val.(*executionDocument)
	if !ok {
		return errors.New("unsupported target")
	}
	*typed = *(c.docs[c.idx].(*executionDocument))
	return nil
}

func (c *fakeCursor) Err() error { return nil }

func (c *fakeCursor) Next(ctx context.Context) bool {
	next := c.idx + 1
	if next >= len(c.docs) {
		return false
	}
	c.idx = next
	return true
}
