package changefeed

import (
	"context"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// MongoFeed watches a database-level change stream.
type MongoFeed struct {
	client *mongo.Client
	db     *mongo.Database
	logger *zap.Logger
}

// NewMongoFeed connects to uri and watches database.
func NewMongoFeed(ctx context.Context, uri, database string, logger *zap.Logger) (*MongoFeed, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, errors.Wrap(err, "connect to mongo")
	}
	return &MongoFeed{
		client: client,
		db:     client.Database(database),
		logger: logger.With(zap.String("component", "mongo-feed")),
	}, nil
}

// Pipeline returns the server-side filter restricting the stream to collections.
func Pipeline(collections []string) mongo.Pipeline {
	names := make(bson.A, 0, len(collections))
	for _, c := range collections {
		names = append(names, c)
	}
	return mongo.Pipeline{
		{{Key: "$match", Value: bson.D{
			{Key: "$expr", Value: bson.D{
				{Key: "$in", Value: bson.A{"$ns.coll", names}},
			}},
		}}},
	}
}

func (f *MongoFeed) Open(ctx context.Context, collections []string, startAfter ResumeToken) (Cursor, error) {
	opts := options.ChangeStream()
	if startAfter != nil {
		opts.SetStartAfter(bson.Raw(startAfter))
	}
	cs, err := f.db.Watch(ctx, Pipeline(collections), opts)
	if err != nil {
		return nil, errors.Wrap(err, "open change stream")
	}
	f.logger.Info("change stream opened",
		zap.Strings("collections", collections),
		zap.Bool("resumed", startAfter != nil))
	return &mongoCursor{cs: cs}, nil
}

// ValidateToken accepts any well-formed BSON document.
func (f *MongoFeed) ValidateToken(t ResumeToken) error {
	return ValidateBSONToken(t)
}

func ValidateBSONToken(t ResumeToken) error {
	if len(t) == 0 {
		return errors.New("empty resume token")
	}
	return errors.Wrap(bson.Raw(t).Validate(), "malformed resume token")
}

func (f *MongoFeed) Close(ctx context.Context) error {
	return f.client.Disconnect(ctx)
}

type mongoCursor struct {
	cs *mongo.ChangeStream
}

func (c *mongoCursor) Next(ctx context.Context) (Event, error) {
	if !c.cs.Next(ctx) {
		if err := ctx.Err(); err != nil {
			return Event{}, err
		}
		if err := c.cs.Err(); err != nil {
			return Event{}, errors.Wrap(err, "change stream failed")
		}
		return Event{}, errors.New("change stream closed")
	}
	return decodeChange(c.cs.Current, c.cs.ResumeToken()), nil
}

func (c *mongoCursor) Close(ctx context.Context) error {
	return c.cs.Close(ctx)
}

type changeDocument struct {
	OperationType string `bson:"operationType"`
	NS            struct {
		DB   string `bson:"db"`
		Coll string `bson:"coll"`
	} `bson:"ns"`
	DocumentKey bson.Raw `bson:"documentKey"`
}

// decodeChange turns a change stream document into an Event. A document that
// does not decode is reported through Event.Err; the stream itself is fine.
func decodeChange(doc bson.Raw, token bson.Raw) Event {
	ev := Event{Raw: doc.String()}
	if token != nil {
		ev.Token = append(ResumeToken(nil), token...)
	}
	var cd changeDocument
	if err := bson.Unmarshal(doc, &cd); err != nil {
		ev.Err = errors.Wrap(err, "decode change event")
		ev.Collection, _ = doc.Lookup("ns", "coll").StringValueOK()
		op, _ := doc.Lookup("operationType").StringValueOK()
		ev.Operation = Operation(op)
		return ev
	}
	ev.Collection = cd.NS.Coll
	ev.Operation = Operation(cd.OperationType)
	ev.Key = documentKey(cd.DocumentKey)
	return ev
}

func documentKey(key bson.Raw) DocumentKey {
	if len(key) == 0 {
		return DocumentKey{Kind: KeyMissing}
	}
	id, err := key.LookupErr("_id")
	if err != nil {
		return DocumentKey{Kind: KeyMissing, Display: key.String()}
	}
	subtype, data, ok := id.BinaryOK()
	if !ok {
		return DocumentKey{Kind: KeyOther, Display: id.Type.String() + " " + id.String()}
	}
	return DocumentKey{
		Kind:    KeyBinary,
		Subtype: subtype,
		Data:    append([]byte(nil), data...),
		Display: id.String(),
	}
}
