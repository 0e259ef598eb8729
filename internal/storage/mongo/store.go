// Package mongo implements the document-store surface: append-only search
// statistics, user flavour definitions, and auxiliary user-data metadata.
package mongo

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/freva-org/freva-rest/internal/common"
	"github.com/freva-org/freva-rest/internal/models"
)

const (
	collectionSearches     = "searches"
	collectionUserFlavours = "user_flavours"
	collectionUserDataMeta = "user_data_meta"
)

// Store implements interfaces.MetadataStore.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	logger arbor.ILogger
}

// NewStore connects to the document store and ensures the uniqueness index
// on (name, owner) for user flavours.
func NewStore(ctx context.Context, config *common.Config, logger arbor.ILogger) (*Store, error) {
	client, err := mongo.Connect(options.Client().
		ApplyURI(config.MongoURI()).
		SetServerSelectionTimeout(10 * time.Second))
	if err != nil {
		return nil, fmt.Errorf("could not connect to document store: %w", err)
	}
	store := &Store{
		client: client,
		db:     client.Database(config.Mongo.DB),
		logger: logger,
	}

	_, err = store.db.Collection(collectionUserFlavours).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "name", Value: 1}, {Key: "owner", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		logger.Warn().Err(err).Msg("Could not ensure flavour uniqueness index")
	}
	return store, nil
}

// InsertStats appends one usage record.
func (s *Store) InsertStats(ctx context.Context, rec models.StatsRecord) error {
	_, err := s.db.Collection(collectionSearches).InsertOne(ctx, rec)
	return err
}

// GetFlavour fetches one user flavour by (name, owner). A missing flavour
// returns (nil, nil).
func (s *Store) GetFlavour(ctx context.Context, name, owner string) (*models.Flavour, error) {
	var flavour models.Flavour
	err := s.db.Collection(collectionUserFlavours).
		FindOne(ctx, bson.M{"name": name, "owner": owner}).
		Decode(&flavour)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &flavour, nil
}

// ListFlavours returns the flavours of the given owners; nil owners means
// every stored flavour.
func (s *Store) ListFlavours(ctx context.Context, owners []string) ([]*models.Flavour, error) {
	filter := bson.M{}
	if len(owners) > 0 {
		filter["owner"] = bson.M{"$in": owners}
	}
	cursor, err := s.db.Collection(collectionUserFlavours).Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var out []*models.Flavour
	for cursor.Next(ctx) {
		var flavour models.Flavour
		if err := cursor.Decode(&flavour); err != nil {
			return nil, err
		}
		out = append(out, &flavour)
	}
	return out, cursor.Err()
}

// UpsertFlavour stores a flavour under its (name, owner) key.
func (s *Store) UpsertFlavour(ctx context.Context, f *models.Flavour) error {
	_, err := s.db.Collection(collectionUserFlavours).ReplaceOne(ctx,
		bson.M{"name": f.Name, "owner": f.Owner},
		f,
		options.Replace().SetUpsert(true))
	return err
}

// RenameFlavour replaces the record stored under oldName with f atomically
// enough for the single-writer registry: upsert f first, then delete the
// old record, inside one call.
func (s *Store) RenameFlavour(ctx context.Context, oldName, owner string, f *models.Flavour) error {
	if err := s.UpsertFlavour(ctx, f); err != nil {
		return err
	}
	_, err := s.db.Collection(collectionUserFlavours).DeleteOne(ctx, bson.M{"name": oldName, "owner": owner})
	return err
}

// DeleteFlavour removes a flavour.
func (s *Store) DeleteFlavour(ctx context.Context, name, owner string) error {
	_, err := s.db.Collection(collectionUserFlavours).DeleteOne(ctx, bson.M{"name": name, "owner": owner})
	return err
}

// InsertUserDataMeta records auxiliary metadata about one user upload. The
// authoritative copy lives in the search index; this is bookkeeping only.
func (s *Store) InsertUserDataMeta(ctx context.Context, username string, meta map[string]interface{}) error {
	doc := bson.M{"user": username, "created_at": time.Now().UTC()}
	for k, v := range meta {
		doc[k] = v
	}
	_, err := s.db.Collection(collectionUserDataMeta).InsertOne(ctx, doc)
	return err
}

// DeleteUserDataMeta drops the bookkeeping records of one user.
func (s *Store) DeleteUserDataMeta(ctx context.Context, username string) error {
	_, err := s.db.Collection(collectionUserDataMeta).DeleteMany(ctx, bson.M{"user": username})
	return err
}

// Close disconnects from the document store.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
