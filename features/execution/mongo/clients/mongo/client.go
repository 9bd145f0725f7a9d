// Package mongo hosts the MongoDB client used by the execution store.
package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"goa.design/clue/health"

	"github.com/flowmesh/flowrun/runtime/workflow/execution"
)

const (
	defaultCollection = "workflow_executions"
	defaultOpTimeout  = 5 * time.Second
	clientName        = "execution-mongo"
)

// Client exposes Mongo-backed operations for execution records.
type Client interface {
	health.Pinger

	SaveExecution(ctx context.Context, rec *execution.Record) error
	LoadExecution(ctx context.Context, id string) (*execution.Record, error)
	ListExecutionsByWorkflow(ctx context.Context, workflowID string, limit int) ([]*execution.Record, error)
}

// Options configures the Mongo execution client.
type Options struct {
	Client     *mongodriver.Client
	Database   string
	Collection string
	Timeout    time.Duration
}

type client struct {
	mongo      *mongodriver.Client
	executions collection
	timeout    time.Duration
}

// New returns a Client backed by MongoDB.
func New(opts Options) (Client, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	name := opts.Collection
	if name == "" {
		name = defaultCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	coll := mongoCollection{coll: opts.Client.Database(opts.Database).Collection(name)}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := ensureIndexes(ctx, coll); err != nil {
		return nil, err
	}
	return newClientWithCollection(opts.Client, coll, timeout)
}

func (c *client) Name() string {
	return clientName
}

func (c *client) Ping(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return c.mongo.Ping(ctx, readpref.Primary())
}

func (c *client) SaveExecution(ctx context.Context, rec *execution.Record) error {
	if rec == nil {
		return errors.New("record is required")
	}
	if rec.ID == "" {
		return errors.New("execution id is required")
	}
	doc := fromRecord(rec)
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	filter := bson.M{"id": rec.ID}
	update := bson.M{
		"$set": bson.M{
			"id":              doc.ID,
			"workflow_id":     doc.WorkflowID,
			"deployment_id":   doc.DeploymentID,
			"organization_id": doc.OrganizationID,
			"status":          doc.Status,
			"node_executions": doc.NodeExecutions,
			"error":           doc.Error,
			"ended_at":        doc.EndedAt,
			"usage":           doc.Usage,
			"updated_at":      time.Now().UTC(),
		},
		"$setOnInsert": bson.M{
			"started_at": doc.StartedAt,
		},
	}
	_, err := c.executions.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	return err
}

func (c *client) LoadExecution(ctx context.Context, id string) (*execution.Record, error) {
	if id == "" {
		return nil, errors.New("execution id is required")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	var doc executionDocument
	if err := c.executions.FindOne(ctx, bson.M{"id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return nil, execution.ErrNotFound
		}
		return nil, err
	}
	return doc.toRecord(), nil
}

func (c *client) ListExecutionsByWorkflow(ctx context.Context, workflowID string, limit int) ([]*execution.Record, error) {
	if workflowID == "" {
		return nil, errors.New("workflow id is required")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	opts := options.Find().SetSort(bson.D{{Key: "started_at", Value: -1}})
	if limit > 0 {
		opts = opts.SetLimit(int64(limit))
	}
	cur, err := c.executions.Find(ctx, bson.M{"workflow_id": workflowID}, opts)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = cur.Close(ctx)
	}()
	var out []*execution.Record
	for cur.Next(ctx) {
		var doc executionDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.toRecord())
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

type executionDocument struct {
	ID             string                              `bson:"id"`
	WorkflowID     string                              `bson:"workflow_id"`
	DeploymentID   string                              `bson:"deployment_id,omitempty"`
	OrganizationID string                              `bson:"organization_id"`
	Status         execution.Status                    `bson:"status"`
	NodeExecutions map[string]*execution.NodeExecution `bson:"node_executions,omitempty"`
	Error          string                              `bson:"error,omitempty"`
	StartedAt      time.Time                           `bson:"started_at"`
	EndedAt        *time.Time                          `bson:"ended_at,omitempty"`
	Usage          int                                 `bson:"usage"`
}

func fromRecord(rec *execution.Record) executionDocument {
	cloned := rec.Clone()
	return executionDocument{
		ID:             cloned.ID,
		WorkflowID:     cloned.WorkflowID,
		DeploymentID:   cloned.DeploymentID,
		OrganizationID: cloned.OrganizationID,
		Status:         cloned.Status,
		NodeExecutions: cloned.NodeExecutions,
		Error:          cloned.Error,
		StartedAt:      cloned.StartedAt.UTC(),
		EndedAt:        cloned.EndedAt,
		Usage:          cloned.Usage,
	}
}

func (doc executionDocument) toRecord() *execution.Record {
	rec := &execution.Record{
		ID:             doc.ID,
		WorkflowID:     doc.WorkflowID,
		DeploymentID:   doc.DeploymentID,
		OrganizationID: doc.OrganizationID,
		Status:         doc.Status,
		NodeExecutions: doc.NodeExecutions,
		Error:          doc.Error,
		StartedAt:      doc.StartedAt.UTC(),
		EndedAt:        doc.EndedAt,
		Usage:          doc.Usage,
	}
	normalizeOutputs(rec)
	return rec.Clone()
}

// normalizeOutputs rewrites BSON-decoded output payloads into the shapes the
// param package expects (plain maps instead of bson.M for binary references).
func normalizeOutputs(rec *execution.Record) {
	for _, ne := range rec.NodeExecutions {
		for name, v := range ne.Outputs {
			if m, ok := v.Data.(bson.M); ok {
				v.Data = map[string]any(m)
				ne.Outputs[name] = v
			}
		}
	}
}

func ensureIndexes(ctx context.Context, coll collection) error {
	idIndex := mongodriver.IndexModel{
		Keys:    bson.D{{Key: "id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	if _, err := coll.Indexes().CreateOne(ctx, idIndex); err != nil {
		return err
	}
	workflowIndex := mongodriver.IndexModel{
		Keys: bson.D{
			{Key: "workflow_id", Value: 1},
			{Key: "started_at", Value: -1},
		},
	}
	if _, err := coll.Indexes().CreateOne(ctx, workflowIndex); err != nil {
		return err
	}
	orgIndex := mongodriver.IndexModel{
		Keys: bson.D{{Key: "organization_id", Value: 1}},
	}
	_, err := coll.Indexes().CreateOne(ctx, orgIndex)
	return err
}

func newClientWithCollection(mongoClient *mongodriver.Client, coll collection, timeout time.Duration) (*client, error) {
	if coll == nil {
		return nil, errors.New("collection is required")
	}
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	return &client{mongo: mongoClient, executions: coll, timeout: timeout}, nil
}

type collection interface {
	FindOne(ctx context.Context, filter any, opts ...*options.FindOneOptions) singleResult
	Find(ctx context.Context, filter any, opts ...*options.FindOptions) (cursor, error)
	UpdateOne(ctx context.Context, filter any, update any,
		opts ...*options.UpdateOptions) (*mongodriver.UpdateResult, error)
	Indexes() indexView
}

type indexView interface {
	CreateOne(ctx context.Context, model mongodriver.IndexModel,
		opts ...*options.CreateIndexesOptions) (string, error)
}

type singleResult interface {
	Decode(val any) error
}

type cursor interface {
	Close(ctx context.Context) error
	Decode(val any) error
	Err() error
	Next(ctx context.Context) bool
}

type mongoCollection struct {
	coll *mongodriver.Collection
}

func (c mongoCollection) FindOne(ctx context.Context, filter any, opts ...*options.FindOneOptions) singleResult {
	return mongoSingleResult{res: c.coll.FindOne(ctx, filter, opts...)}
}

func (c mongoCollection) Find(ctx context.Context, filter any, opts ...*options.FindOptions) (cursor, error) {
	cur, err := c.coll.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	return mongoCursor{cur: cur}, nil
}

func (c mongoCollection) UpdateOne(ctx context.Context, filter any, update any,
	opts ...*options.UpdateOptions) (*mongodriver.UpdateResult, error) {
	return c.coll.UpdateOne(ctx, filter, update, opts...)
}

func (c mongoCollection) Indexes() indexView {
	return mongoIndexView{view: c.coll.Indexes()}
}

type mongoSingleResult struct {
	res *mongodriver.SingleResult
}

func (r mongoSingleResult) Decode(val any) error {
	return r.res.Decode(val)
}

type mongoCursor struct {
	cur *mongodriver.Cursor
}

func (c mongoCursor) Close(ctx context.Context) error {
	return c.cur.Close(ctx)
}

func (c mongoCursor) Decode(val any) error {
	return c.cur.Decode(val)
}

func (c mongoCursor) Err() error {
	return c.cur.Err()
}

func (c mongoCursor) Next(ctx context.Context) bool {
	return c.cur.Next(ctx)
}

type mongoIndexView struct {
	view mongodriver.IndexView
}

func (v mongoIndexView) CreateOne(ctx context.Context, model mongodriver.IndexModel,
	opts ...*options.CreateIndexesOptions) (string, error) {
	return v.view.CreateOne(ctx, model, opts...)
}
