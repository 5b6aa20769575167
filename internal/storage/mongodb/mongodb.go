package mongodb

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/vsifs/vsifs-go/internal/storage/types"
)

// FileDocument is one stored object. The key is the document id.
type FileDocument struct {
	Path      string            `bson:"_id"`
	Bucket    string            `bson:"bucket"`
	Data      []byte            `bson:"data"`
	Size      int64             `bson:"size"`
	Mode      uint32            `bson:"mode"`
	Uid       uint32            `bson:"uid"`
	Gid       uint32            `bson:"gid"`
	Mtime     time.Time         `bson:"mtime"`
	Metadata  map[string]string `bson:"metadata,omitempty"`
	CreatedAt time.Time         `bson:"created_at"`
	UpdatedAt time.Time         `bson:"updated_at"`
}

// MongoBackend stores objects as documents of one collection.
type MongoBackend struct {
	client     *mongo.Client
	collection *mongo.Collection
	bucket     string
}

// NewMongoBackend connects, pings and ensures the listing index.
func NewMongoBackend(uri, database, collection, bucket string) (*MongoBackend, error) {
	ctx := context.Background()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	coll := client.Database(database).Collection(collection)
	indexModel := mongo.IndexModel{
		Keys: bson.D{
			{Key: "bucket", Value: 1},
			{Key: "_id", Value: 1},
		},
	}
	if _, err := coll.Indexes().CreateOne(ctx, indexModel); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to create index: %w", err)
	}

	return newWithCollection(client, coll, bucket), nil
}

func newWithCollection(client *mongo.Client, coll *mongo.Collection, bucket string) *MongoBackend {
	return &MongoBackend{client: client, collection: coll, bucket: bucket}
}

func (m *MongoBackend) filter(path string) bson.M {
	return bson.M{"_id": path, "bucket": m.bucket}
}

func (m *MongoBackend) find(ctx context.Context, path string, projection bson.M) (*FileDocument, error) {
	opts := options.FindOne()
	if projection != nil {
		opts.SetProjection(projection)
	}
	var doc FileDocument
	err := m.collection.FindOne(ctx, m.filter(path), opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, types.NotFound(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return &doc, nil
}

func (m *MongoBackend) Read(ctx context.Context, path string) ([]byte, error) {
	doc, err := m.find(ctx, path, nil)
	if err != nil {
		return nil, err
	}
	if doc.Data == nil {
		return []byte{}, nil
	}
	return doc.Data, nil
}

// ReadRange slices client side; binary fields cannot be ranged by the server.
func (m *MongoBackend) ReadRange(ctx context.Context, path string, offset, length int64) ([]byte, error) {
	data, err := m.Read(ctx, path)
	if err != nil {
		return nil, err
	}
	return types.SliceRange(data, offset, length), nil
}

func (m *MongoBackend) Write(ctx context.Context, path string, data []byte) error {
	return m.WriteWithMetadata(ctx, path, data, nil)
}

func (m *MongoBackend) WriteWithMetadata(ctx context.Context, path string, data []byte, metadata map[string]string) error {
	now := time.Now()
	attr := types.AttrFromMetadata(metadata, int64(len(data)), now)

	update := bson.M{
		"$set": bson.M{
			"bucket":     m.bucket,
			"data":       data,
			"size":       attr.Size,
			"mode":       attr.Mode,
			"uid":        attr.Uid,
			"gid":        attr.Gid,
			"mtime":      attr.Mtime,
			"metadata":   metadata,
			"updated_at": now,
		},
		"$setOnInsert": bson.M{"created_at": now},
	}
	_, err := m.collection.UpdateOne(ctx, m.filter(path), update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

func (m *MongoBackend) Delete(ctx context.Context, path string) error {
	result, err := m.collection.DeleteOne(ctx, m.filter(path))
	if err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	if result.DeletedCount == 0 {
		return types.NotFound(path)
	}
	return nil
}

// List lists keys with the given prefix.
func (m *MongoBackend) List(ctx context.Context, prefix string) ([]string, error) {
	filter := bson.M{
		"bucket": m.bucket,
		"_id":    bson.M{"$regex": "^" + regexp.QuoteMeta(prefix)},
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "_id", Value: 1}}).
		SetProjection(bson.M{"_id": 1})

	cursor, err := m.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list objects: %w", err)
	}
	defer cursor.Close(ctx)

	var paths []string
	for cursor.Next(ctx) {
		var doc struct {
			Path string `bson:"_id"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		paths = append(paths, doc.Path)
	}
	return paths, cursor.Err()
}

func (m *MongoBackend) GetAttr(ctx context.Context, path string) (*types.Attr, error) {
	doc, err := m.find(ctx, path, bson.M{"data": 0})
	if err != nil {
		return nil, err
	}
	return &types.Attr{
		Size:  doc.Size,
		Mode:  doc.Mode,
		Uid:   doc.Uid,
		Gid:   doc.Gid,
		Mtime: doc.Mtime,
	}, nil
}

// GetMetadata returns the metadata stored with an object.
func (m *MongoBackend) GetMetadata(ctx context.Context, path string) (map[string]string, error) {
	doc, err := m.find(ctx, path, bson.M{"metadata": 1})
	if err != nil {
		return nil, err
	}
	if doc.Metadata == nil {
		return map[string]string{}, nil
	}
	return doc.Metadata, nil
}

// Rename copies the document under the new id and removes the old one;
// document ids are immutable.
func (m *MongoBackend) Rename(ctx context.Context, oldPath, newPath string) error {
	doc, err := m.find(ctx, oldPath, nil)
	if err != nil {
		return err
	}
	doc.Path = newPath
	doc.UpdatedAt = time.Now()

	opts := options.Replace().SetUpsert(true)
	if _, err := m.collection.ReplaceOne(ctx, m.filter(newPath), doc, opts); err != nil {
		return fmt.Errorf("failed to rename: %w", err)
	}
	if _, err := m.collection.DeleteOne(ctx, m.filter(oldPath)); err != nil {
		return fmt.Errorf("failed to rename: %w", err)
	}
	return nil
}

func (m *MongoBackend) Exists(ctx context.Context, path string) (bool, error) {
	count, err := m.collection.CountDocuments(ctx, m.filter(path), options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("failed to check existence: %w", err)
	}
	return count > 0, nil
}

// Close disconnects from MongoDB
func (m *MongoBackend) Close() error {
	return m.client.Disconnect(context.Background())
}
