package registry

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"browserfleet/core"
	apxerrors "browserfleet/errors"
)

// MongoStore is the durable, pluggable alternative to MemStore
// (config.Registry.Backend = "mongo"), grounded on the upsert pattern
// observed in services/execution_bridge/execution_bridge.go's
// sendBatchToMongoDB (mongo.NewReplaceOneModel().SetUpsert(true)),
// here applied document-by-document since registry operations are
// single-entity rather than batch.
type MongoStore struct {
	sessions *mongo.Collection
	contexts *mongo.Collection
	pages    *mongo.Collection
}

// NewMongoStore connects to uri and binds to database's collections.
func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, apxerrors.Wrap(apxerrors.Internal, "connecting to mongo", err)
	}
	db := client.Database(database)
	return &MongoStore{
		sessions: db.Collection("sessions"),
		contexts: db.Collection("contexts"),
		pages:    db.Collection("pages"),
	}, nil
}

func upsert(ctx context.Context, coll *mongo.Collection, id string, doc any) error {
	_, err := coll.ReplaceOne(ctx, bson.M{"_id": id}, doc, options.Replace().SetUpsert(true))
	return err
}

type sessionDoc struct {
	ID        string            `bson:"_id"`
	Principal core.Principal    `bson:"principal"`
	CreatedAt time.Time         `bson:"created_at"`
	ExpiresAt time.Time         `bson:"expires_at"`
	Metadata  map[string]string `bson:"metadata"`
	State     core.SessionState `bson:"state"`
}

func toSessionDoc(s *core.Session) sessionDoc {
	return sessionDoc{s.ID, s.Principal, s.CreatedAt, s.ExpiresAt, s.Metadata, s.State}
}

func (d sessionDoc) toCore() *core.Session {
	return &core.Session{ID: d.ID, Principal: d.Principal, CreatedAt: d.CreatedAt, ExpiresAt: d.ExpiresAt, Metadata: d.Metadata, State: d.State}
}

func (m *MongoStore) PutSession(ctx context.Context, s *core.Session) error {
	if err := upsert(ctx, m.sessions, s.ID, toSessionDoc(s)); err != nil {
		return apxerrors.Wrap(apxerrors.Internal, "upserting session", err)
	}
	return nil
}

func (m *MongoStore) GetSession(ctx context.Context, id string) (*core.Session, error) {
	var d sessionDoc
	err := m.sessions.FindOne(ctx, bson.M{"_id": id}).Decode(&d)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, apxerrors.Wrap(apxerrors.Internal, "fetching session", err)
	}
	return d.toCore(), nil
}

func (m *MongoStore) ListSessions(ctx context.Context, principalID string) ([]*core.Session, error) {
	cur, err := m.sessions.Find(ctx, bson.M{"principal.userid": principalID})
	if err != nil {
		return nil, apxerrors.Wrap(apxerrors.Internal, "listing sessions", err)
	}
	defer cur.Close(ctx)
	var out []*core.Session
	for cur.Next(ctx) {
		var d sessionDoc
		if err := cur.Decode(&d); err != nil {
			return nil, apxerrors.Wrap(apxerrors.Internal, "decoding session", err)
		}
		out = append(out, d.toCore())
	}
	return out, nil
}

// AllSessions supports the registry's expiry sweeper.
func (m *MongoStore) AllSessions(ctx context.Context) ([]*core.Session, error) {
	cur, err := m.sessions.Find(ctx, bson.M{})
	if err != nil {
		return nil, apxerrors.Wrap(apxerrors.Internal, "listing all sessions", err)
	}
	defer cur.Close(ctx)
	var out []*core.Session
	for cur.Next(ctx) {
		var d sessionDoc
		if err := cur.Decode(&d); err != nil {
			return nil, apxerrors.Wrap(apxerrors.Internal, "decoding session", err)
		}
		out = append(out, d.toCore())
	}
	return out, nil
}

func (m *MongoStore) DeleteSession(ctx context.Context, id string) error {
	_, err := m.sessions.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return apxerrors.Wrap(apxerrors.Internal, "deleting session", err)
	}
	return nil
}

type contextDoc struct {
	ID                string                 `bson:"_id"`
	SessionID         string                 `bson:"session_id"`
	Options           core.ContextOptions    `bson:"options"`
	State             core.ContextState      `bson:"state"`
	BrowserInstanceID string                 `bson:"browser_instance_id"`
	PageIDs           []string               `bson:"page_ids"`
	CreatedAt         time.Time              `bson:"created_at"`
	LastUsedAt        time.Time              `bson:"last_used_at"`
	LastAction        string                 `bson:"last_action"`
}

func toContextDoc(c *core.Context) contextDoc {
	ids := make([]string, 0, len(c.PageIDs))
	for id := range c.PageIDs {
		ids = append(ids, id)
	}
	return contextDoc{c.ID, c.SessionID, c.Options, c.State, c.BrowserInstanceID, ids, c.CreatedAt, c.LastUsedAt, c.LastAction}
}

func (d contextDoc) toCore() *core.Context {
	set := make(map[string]struct{}, len(d.PageIDs))
	for _, id := range d.PageIDs {
		set[id] = struct{}{}
	}
	return &core.Context{
		ID: d.ID, SessionID: d.SessionID, Options: d.Options, State: d.State,
		BrowserInstanceID: d.BrowserInstanceID, PageIDs: set,
		CreatedAt: d.CreatedAt, LastUsedAt: d.LastUsedAt, LastAction: d.LastAction,
	}
}

func (m *MongoStore) PutContext(ctx context.Context, c *core.Context) error {
	if err := upsert(ctx, m.contexts, c.ID, toContextDoc(c)); err != nil {
		return apxerrors.Wrap(apxerrors.Internal, "upserting context", err)
	}
	return nil
}

func (m *MongoStore) GetContext(ctx context.Context, id string) (*core.Context, error) {
	var d contextDoc
	err := m.contexts.FindOne(ctx, bson.M{"_id": id}).Decode(&d)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, apxerrors.Wrap(apxerrors.Internal, "fetching context", err)
	}
	return d.toCore(), nil
}

func (m *MongoStore) ListContextsBySession(ctx context.Context, sessionID string) ([]*core.Context, error) {
	cur, err := m.contexts.Find(ctx, bson.M{"session_id": sessionID})
	if err != nil {
		return nil, apxerrors.Wrap(apxerrors.Internal, "listing contexts", err)
	}
	defer cur.Close(ctx)
	var out []*core.Context
	for cur.Next(ctx) {
		var d contextDoc
		if err := cur.Decode(&d); err != nil {
			return nil, apxerrors.Wrap(apxerrors.Internal, "decoding context", err)
		}
		out = append(out, d.toCore())
	}
	return out, nil
}

func (m *MongoStore) DeleteContext(ctx context.Context, id string) error {
	_, err := m.contexts.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return apxerrors.Wrap(apxerrors.Internal, "deleting context", err)
	}
	return nil
}

type pageDoc struct {
	ID         string    `bson:"_id"`
	ContextID  string    `bson:"context_id"`
	URL        string    `bson:"url"`
	Ready      bool      `bson:"ready"`
	CreatedAt  time.Time `bson:"created_at"`
	LastAction time.Time `bson:"last_action"`
}

func toPageDoc(p *core.Page) pageDoc {
	return pageDoc{p.ID, p.ContextID, p.URL, p.Ready, p.CreatedAt, p.LastAction}
}

func (d pageDoc) toCore() *core.Page {
	return &core.Page{ID: d.ID, ContextID: d.ContextID, URL: d.URL, Ready: d.Ready, CreatedAt: d.CreatedAt, LastAction: d.LastAction}
}

func (m *MongoStore) PutPage(ctx context.Context, p *core.Page) error {
	if err := upsert(ctx, m.pages, p.ID, toPageDoc(p)); err != nil {
		return apxerrors.Wrap(apxerrors.Internal, "upserting page", err)
	}
	return nil
}

func (m *MongoStore) GetPage(ctx context.Context, id string) (*core.Page, error) {
	var d pageDoc
	err := m.pages.FindOne(ctx, bson.M{"_id": id}).Decode(&d)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, apxerrors.Wrap(apxerrors.Internal, "fetching page", err)
	}
	return d.toCore(), nil
}

func (m *MongoStore) ListPagesByContext(ctx context.Context, contextID string) ([]*core.Page, error) {
	cur, err := m.pages.Find(ctx, bson.M{"context_id": contextID})
	if err != nil {
		return nil, apxerrors.Wrap(apxerrors.Internal, "listing pages", err)
	}
	defer cur.Close(ctx)
	var out []*core.Page
	for cur.Next(ctx) {
		var d pageDoc
		if err := cur.Decode(&d); err != nil {
			return nil, apxerrors.Wrap(apxerrors.Internal, "decoding page", err)
		}
		out = append(out, d.toCore())
	}
	return out, nil
}

func (m *MongoStore) DeletePage(ctx context.Context, id string) error {
	_, err := m.pages.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return apxerrors.Wrap(apxerrors.Internal, "deleting page", err)
	}
	return nil
}
