package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ashureev/copilot-relay/internal/domain"
)

// Collection names shared with existing deployments of the service.
const (
	modelCollection   = "modelList"
	ragCollection     = "ragList"
	sessionCollection = "chat_sessions"
	summaryCollection = "chatSummaries"
	promptCollection  = "testPrompts"
)

// MongoStore implements Repository on a MongoDB database. Sessions embed their
// messages, so appends are a single atomic $push.
type MongoStore struct {
	client    *mongo.Client
	models    *mongo.Collection
	rags      *mongo.Collection
	sessions  *mongo.Collection
	summaries *mongo.Collection
	prompts   *mongo.Collection
}

// modelDoc is the stored shape of a model descriptor.
type modelDoc struct {
	Model        string `bson:"model"`
	QueryType    string `bson:"queryType"`
	Endpoint     string `bson:"endpoint"`
	APIKey       string `bson:"apiKey"`
	MaxTokens    int    `bson:"max_tokens"`
	SummaryModel string `bson:"summary_model,omitempty"`
	ModelType    string `bson:"model_type"`
	Label        string `bson:"label,omitempty"`
	Active       bool   `bson:"active"`
	Priority     int    `bson:"priority"`
}

func (d modelDoc) descriptor() *domain.ModelDescriptor {
	return &domain.ModelDescriptor{
		Name:         d.Model,
		Kind:         domain.ProviderKind(d.QueryType),
		Endpoint:     d.Endpoint,
		APIKey:       d.APIKey,
		MaxTokens:    d.MaxTokens,
		SummaryModel: d.SummaryModel,
		ModelType:    d.ModelType,
		Label:        d.Label,
		Active:       d.Active,
		Priority:     d.Priority,
	}
}

// ragDoc is the stored shape of a RAG source descriptor.
type ragDoc struct {
	Name          string `bson:"name"`
	Backend       string `bson:"backend,omitempty"`
	Endpoint      string `bson:"endpoint,omitempty"`
	Model         string `bson:"model"`
	ModelEndpoint string `bson:"model_endpoint"`
	APIKey        string `bson:"apiKey"`
	DBEndpoint    string `bson:"db_endpoint"`
	Label         string `bson:"label,omitempty"`
	Active        bool   `bson:"active"`
	Priority      int    `bson:"priority"`
}

func (d ragDoc) source() *domain.RagSource {
	backend := domain.RetrievalBackend(d.Backend)
	if backend == "" {
		backend = domain.RetrievalBackendOracle
	}
	return &domain.RagSource{
		Name:              d.Name,
		Backend:           backend,
		Endpoint:          d.Endpoint,
		EmbeddingModel:    d.Model,
		EmbeddingEndpoint: d.ModelEndpoint,
		APIKey:            d.APIKey,
		DBEndpoint:        d.DBEndpoint,
		Label:             d.Label,
		Active:            d.Active,
		Priority:          d.Priority,
	}
}

// NewMongo connects to uri and prepares the collections and indexes in database.
func NewMongo(ctx context.Context, uri, database string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	db := client.Database(database)
	s := &MongoStore{
		client:    client,
		models:    db.Collection(modelCollection),
		rags:      db.Collection(ragCollection),
		sessions:  db.Collection(sessionCollection),
		summaries: db.Collection(summaryCollection),
		prompts:   db.Collection(promptCollection),
	}

	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ensure indexes: %w", err)
	}
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	unique := options.Index().SetUnique(true)
	specs := []struct {
		coll  *mongo.Collection
		model mongo.IndexModel
	}{
		{s.models, mongo.IndexModel{Keys: bson.D{{Key: "model", Value: 1}}, Options: unique}},
		{s.rags, mongo.IndexModel{Keys: bson.D{{Key: "name", Value: 1}}, Options: unique}},
		{s.sessions, mongo.IndexModel{Keys: bson.D{{Key: "session_id", Value: 1}}, Options: unique}},
		{s.sessions, mongo.IndexModel{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "last_modified", Value: -1}}}},
		{s.sessions, mongo.IndexModel{Keys: bson.D{{Key: "messages.message_id", Value: 1}}}},
		{s.summaries, mongo.IndexModel{Keys: bson.D{{Key: "session_id", Value: 1}}, Options: unique}},
		{s.prompts, mongo.IndexModel{Keys: bson.D{{Key: "user_id", Value: 1}}, Options: unique}},
	}
	for _, spec := range specs {
		if _, err := spec.coll.Indexes().CreateOne(ctx, spec.model); err != nil {
			return fmt.Errorf("create index on %s: %w", spec.coll.Name(), err)
		}
	}
	return nil
}

// Ping verifies database connectivity.
func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close disconnects the client.
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("disconnect mongo: %w", err)
	}
	return nil
}

// FindModel retrieves a model descriptor by name.
func (s *MongoStore) FindModel(ctx context.Context, name string) (*domain.ModelDescriptor, error) {
	var doc modelDoc
	err := s.models.FindOne(ctx, bson.M{"model": name}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find model: %w", err)
	}
	return doc.descriptor(), nil
}

// ListModels returns models ordered by priority.
func (s *MongoStore) ListModels(ctx context.Context, activeOnly bool, modelType string) ([]*domain.ModelDescriptor, error) {
	filter := bson.M{}
	if activeOnly {
		filter["active"] = true
	}
	if modelType != "" {
		filter["model_type"] = modelType
	}
	cur, err := s.models.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "priority", Value: 1}, {Key: "model", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find models: %w", err)
	}
	var docs []modelDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode models: %w", err)
	}
	out := make([]*domain.ModelDescriptor, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.descriptor())
	}
	return out, nil
}

// UpsertModel creates or replaces a model descriptor.
func (s *MongoStore) UpsertModel(ctx context.Context, m *domain.ModelDescriptor) error {
	modelType := m.ModelType
	if modelType == "" {
		modelType = "chat"
	}
	doc := modelDoc{
		Model: m.Name, QueryType: string(m.Kind), Endpoint: m.Endpoint, APIKey: m.APIKey,
		MaxTokens: m.MaxTokens, SummaryModel: m.SummaryModel, ModelType: modelType,
		Label: m.Label, Active: m.Active, Priority: m.Priority,
	}
	_, err := s.models.ReplaceOne(ctx, bson.M{"model": m.Name}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upsert model: %w", err)
	}
	return nil
}

// FindRagSource retrieves a RAG source by name.
func (s *MongoStore) FindRagSource(ctx context.Context, name string) (*domain.RagSource, error) {
	var doc ragDoc
	err := s.rags.FindOne(ctx, bson.M{"name": name}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find rag source: %w", err)
	}
	return doc.source(), nil
}

// ListRagSources returns RAG sources ordered by priority.
func (s *MongoStore) ListRagSources(ctx context.Context, activeOnly bool) ([]*domain.RagSource, error) {
	filter := bson.M{}
	if activeOnly {
		filter["active"] = true
	}
	cur, err := s.rags.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "priority", Value: 1}, {Key: "name", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find rag sources: %w", err)
	}
	var docs []ragDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode rag sources: %w", err)
	}
	out := make([]*domain.RagSource, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.source())
	}
	return out, nil
}

// UpsertRagSource creates or replaces a RAG source descriptor.
func (s *MongoStore) UpsertRagSource(ctx context.Context, r *domain.RagSource) error {
	doc := ragDoc{
		Name: r.Name, Backend: string(r.Backend), Endpoint: r.Endpoint, Model: r.EmbeddingModel,
		ModelEndpoint: r.EmbeddingEndpoint, APIKey: r.APIKey, DBEndpoint: r.DBEndpoint,
		Label: r.Label, Active: r.Active, Priority: r.Priority,
	}
	_, err := s.rags.ReplaceOne(ctx, bson.M{"name": r.Name}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upsert rag source: %w", err)
	}
	return nil
}

// FindSession retrieves a session with its embedded messages.
func (s *MongoStore) FindSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	var sess domain.Session
	err := s.sessions.FindOne(ctx, bson.M{"session_id": sessionID}).Decode(&sess)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find session: %w", err)
	}
	if sess.Messages == nil {
		sess.Messages = []domain.Message{}
	}
	return &sess, nil
}

// CreateSession inserts an empty session unless one already exists.
func (s *MongoStore) CreateSession(ctx context.Context, sessionID, userID, title string) error {
	if title == "" {
		title = domain.DefaultSessionTitle
	}
	now := time.Now()
	// session_id is copied from the filter on insert.
	update := bson.M{"$setOnInsert": bson.M{
		"user_id":       userID,
		"title":         title,
		"created_at":    now,
		"last_modified": now,
		"messages":      bson.A{},
	}}
	_, err := s.sessions.UpdateOne(ctx, bson.M{"session_id": sessionID}, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// AppendMessages pushes msgs onto the session and bumps last_modified.
func (s *MongoStore) AppendMessages(ctx context.Context, sessionID string, msgs []domain.Message) error {
	update := bson.M{
		"$push": bson.M{"messages": bson.M{"$each": msgs}},
		"$set":  bson.M{"last_modified": time.Now()},
	}
	res, err := s.sessions.UpdateOne(ctx, bson.M{"session_id": sessionID}, update)
	if err != nil {
		return fmt.Errorf("append messages to %s: %w", sessionID, err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// ListSessions returns a page of a user's sessions without messages.
func (s *MongoStore) ListSessions(ctx context.Context, userID string, limit, offset int) ([]*domain.Session, int, error) {
	limit, offset = ClampPage(limit, offset)
	filter := bson.M{"user_id": userID}

	total, err := s.sessions.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("count sessions: %w", err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "last_modified", Value: -1}, {Key: "created_at", Value: -1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit)).
		SetProjection(bson.M{"messages": 0})
	cur, err := s.sessions.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("find sessions: %w", err)
	}
	sessions := []*domain.Session{}
	if err := cur.All(ctx, &sessions); err != nil {
		return nil, 0, fmt.Errorf("decode sessions: %w", err)
	}
	return sessions, int(total), nil
}

// UpdateSessionTitle sets the title of a session owned by userID.
func (s *MongoStore) UpdateSessionTitle(ctx context.Context, sessionID, userID, title string) error {
	return s.updateOwned(ctx, "update session title",
		bson.M{"session_id": sessionID, "user_id": userID},
		bson.M{"$set": bson.M{"title": title}})
}

// RateSession sets the rating of a session owned by userID.
func (s *MongoStore) RateSession(ctx context.Context, sessionID, userID string, rating int) error {
	return s.updateOwned(ctx, "rate session",
		bson.M{"session_id": sessionID, "user_id": userID},
		bson.M{"$set": bson.M{"rating": rating, "rated_at": time.Now()}})
}

// RateMessage sets the rating of a message in one of userID's sessions.
func (s *MongoStore) RateMessage(ctx context.Context, userID, messageID string, rating int) error {
	return s.updateOwned(ctx, "rate message",
		bson.M{"user_id": userID, "messages.message_id": messageID},
		bson.M{"$set": bson.M{"messages.$.rating": rating}})
}

func (s *MongoStore) updateOwned(ctx context.Context, op string, filter, update bson.M) error {
	res, err := s.sessions.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteSession removes a session owned by userID and its summary.
func (s *MongoStore) DeleteSession(ctx context.Context, sessionID, userID string) error {
	res, err := s.sessions.DeleteOne(ctx, bson.M{"session_id": sessionID, "user_id": userID})
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	if _, err := s.summaries.DeleteOne(ctx, bson.M{"session_id": sessionID}); err != nil {
		return fmt.Errorf("delete session summary: %w", err)
	}
	return nil
}

// UpsertSummary creates or overwrites the session's summary.
func (s *MongoStore) UpsertSummary(ctx context.Context, sessionID, text string) error {
	_, err := s.summaries.UpdateOne(ctx,
		bson.M{"session_id": sessionID},
		bson.M{"$set": bson.M{"summary": text, "updated_at": time.Now()}},
		options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upsert summary: %w", err)
	}
	return nil
}

// GetSummary returns the session's summary, or nil if none exists.
func (s *MongoStore) GetSummary(ctx context.Context, sessionID string) (*domain.Summary, error) {
	var sum domain.Summary
	err := s.summaries.FindOne(ctx, bson.M{"session_id": sessionID}).Decode(&sum)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find summary: %w", err)
	}
	return &sum, nil
}

// promptDoc holds all of one user's saved prompts in append order.
type promptDoc struct {
	UserID       string               `bson:"user_id"`
	SavedPrompts []domain.SavedPrompt `bson:"saved_prompts"`
}

// SavePrompt pushes p onto the user's saved_prompts, creating the document on first save.
func (s *MongoStore) SavePrompt(ctx context.Context, userID string, p domain.SavedPrompt) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	update := bson.M{
		"$push":        bson.M{"saved_prompts": p},
		"$setOnInsert": bson.M{"created_at": p.CreatedAt},
	}
	_, err := s.prompts.UpdateOne(ctx, bson.M{"user_id": userID}, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("save prompt: %w", err)
	}
	return nil
}

// ListPrompts returns the user's saved prompts, newest first.
func (s *MongoStore) ListPrompts(ctx context.Context, userID string) ([]domain.SavedPrompt, error) {
	var doc promptDoc
	err := s.prompts.FindOne(ctx, bson.M{"user_id": userID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return []domain.SavedPrompt{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find prompts: %w", err)
	}
	prompts := make([]domain.SavedPrompt, 0, len(doc.SavedPrompts))
	for i := len(doc.SavedPrompts) - 1; i >= 0; i-- {
		prompts = append(prompts, doc.SavedPrompts[i])
	}
	return prompts, nil
}
