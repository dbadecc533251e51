// Package questions stores screening form submissions in MongoDB and scores
// them with a simple additive risk model.
package questions

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Submission is one stored form.
type Submission struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID      string             `bson:"userId" json:"userId"`
	Answers     map[string]string  `bson:"answers" json:"answers"`
	FormVersion string             `bson:"formVersion" json:"formVersion"`
	RiskScore   int                `bson:"riskScore" json:"riskScore"`
	RiskLevel   string             `bson:"riskLevel" json:"riskLevel"`
	TopFactors  []Factor           `bson:"topFactors" json:"topFactors"`
	Tags        []string           `bson:"tags" json:"tags"`
	CreatedAt   time.Time          `bson:"createdAt" json:"createdAt"`
}

const listLimit = 50

// Store wraps the submissions collection.
type Store struct {
	client *mongo.Client
	col    *mongo.Collection
}

// Open connects to MongoDB and binds the questions collection.
func Open(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}
	return &Store{
		client: client,
		col:    client.Database(database).Collection("questions"),
	}, nil
}

// Insert scores and stores a submission, returning it with the assigned id.
func (s *Store) Insert(ctx context.Context, userID, formVersion string, answers map[string]string, tags []string) (*Submission, error) {
	assessment := ScoreAnswers(answers)
	if tags == nil {
		tags = []string{}
	}
	sub := &Submission{
		UserID:      userID,
		Answers:     answers,
		FormVersion: formVersion,
		RiskScore:   assessment.Score,
		RiskLevel:   assessment.Level,
		TopFactors:  assessment.TopFactors,
		Tags:        tags,
		CreatedAt:   time.Now().UTC(),
	}
	res, err := s.col.InsertOne(ctx, sub)
	if err != nil {
		return nil, fmt.Errorf("insert submission: %w", err)
	}
	sub.ID = res.InsertedID.(primitive.ObjectID)
	return sub, nil
}

// ListByUser returns the user's most recent submissions, newest first,
// capped at listLimit.
func (s *Store) ListByUser(ctx context.Context, userID string) ([]Submission, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "_id", Value: -1}}).
		SetLimit(listLimit)
	cur, err := s.col.Find(ctx, bson.M{"userId": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("find submissions: %w", err)
	}
	defer cur.Close(ctx)

	items := []Submission{}
	if err := cur.All(ctx, &items); err != nil {
		return nil, fmt.Errorf("decode submissions: %w", err)
	}
	return items, nil
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
