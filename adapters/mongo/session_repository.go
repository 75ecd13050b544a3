package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/cleanaz-dev/sp-academy/domain/entities"
	"github.com/cleanaz-dev/sp-academy/domain/repositories"
)

const sessionCollection = "practice_sessions"

// sessionDocument is the stored shape of a SessionRecord
type sessionDocument struct {
	ID                 primitive.ObjectID `bson:"_id,omitempty"`
	TemplateID         string             `bson:"session_template_id"`
	UserID             string             `bson:"user_id"`
	Messages           []entities.Turn    `bson:"messages"`
	PronunciationScore *float64           `bson:"pronunciation_score,omitempty"`
	CreatedAt          time.Time          `bson:"created_at"`
	UpdatedAt          time.Time          `bson:"updated_at"`
}

func (d sessionDocument) record() *entities.SessionRecord {
	messages := d.Messages
	if messages == nil {
		messages = make([]entities.Turn, 0)
	}
	return &entities.SessionRecord{
		ID:                 d.ID.Hex(),
		TemplateID:         d.TemplateID,
		UserID:             d.UserID,
		Messages:           messages,
		PronunciationScore: d.PronunciationScore,
		CreatedAt:          d.CreatedAt,
		UpdatedAt:          d.UpdatedAt,
	}
}

// SessionRepository stores practice session records in MongoDB
type SessionRepository struct {
	collection *mongo.Collection
	logger     *zap.Logger
}

var _ repositories.SessionRepository = (*SessionRepository)(nil)

// NewSessionRepository creates a new MongoDB session repository
func NewSessionRepository(db *mongo.Database, logger *zap.Logger) *SessionRepository {
	return &SessionRepository{
		collection: db.Collection(sessionCollection),
		logger:     logger,
	}
}

// EnsureIndexes creates the lookup indexes used by the practice dashboard
func (r *SessionRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "updated_at", Value: -1}}},
		{Keys: bson.D{{Key: "session_template_id", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create session indexes: %w", err)
	}
	r.logger.Info("Session indexes created successfully")
	return nil
}

// Create implements repositories.SessionRepository
func (r *SessionRepository) Create(ctx context.Context, record *entities.SessionRecord) error {
	if record == nil {
		return errors.New("session record cannot be nil")
	}
	if err := record.Validate(); err != nil {
		return err
	}

	now := time.Now()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = now
	}
	if record.Messages == nil {
		record.Messages = make([]entities.Turn, 0)
	}

	result, err := r.collection.InsertOne(ctx, sessionDocument{
		TemplateID:         record.TemplateID,
		UserID:             record.UserID,
		Messages:           record.Messages,
		PronunciationScore: record.PronunciationScore,
		CreatedAt:          record.CreatedAt,
		UpdatedAt:          record.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	if oid, ok := result.InsertedID.(primitive.ObjectID); ok {
		record.ID = oid.Hex()
	}

	r.logger.Debug("Session record created",
		zap.String("sessionRecordID", record.ID),
		zap.String("userID", record.UserID))
	return nil
}

// GetByID implements repositories.SessionRepository
func (r *SessionRepository) GetByID(ctx context.Context, id string) (*entities.SessionRecord, error) {
	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, repositories.ErrSessionNotFound
	}

	var doc sessionDocument
	if err := r.collection.FindOne(ctx, bson.M{"_id": objectID}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repositories.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session %s: %w", id, err)
	}
	return doc.record(), nil
}

// UpdateMessages implements repositories.SessionRepository. The stored
// messages are replaced wholesale; a nil score leaves the stored one alone.
func (r *SessionRepository) UpdateMessages(ctx context.Context, id string, messages []entities.Turn, pronunciationScore *float64) (*entities.SessionRecord, error) {
	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, repositories.ErrSessionNotFound
	}
	if messages == nil {
		messages = make([]entities.Turn, 0)
	}

	set := bson.M{
		"messages":   messages,
		"updated_at": time.Now(),
	}
	if pronunciationScore != nil {
		set["pronunciation_score"] = *pronunciationScore
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc sessionDocument
	err = r.collection.FindOneAndUpdate(ctx, bson.M{"_id": objectID}, bson.M{"$set": set}, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repositories.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to update session %s: %w", id, err)
	}
	return doc.record(), nil
}

// Delete implements repositories.SessionRepository
func (r *SessionRepository) Delete(ctx context.Context, id string) error {
	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return repositories.ErrSessionNotFound
	}

	result, err := r.collection.DeleteOne(ctx, bson.M{"_id": objectID})
	if err != nil {
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	if result.DeletedCount == 0 {
		return repositories.ErrSessionNotFound
	}
	return nil
}
