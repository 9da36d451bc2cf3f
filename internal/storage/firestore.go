package storage

import (
	"context"
	"fmt"
	"log/slog"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/firestore/apiv1/firestorepb"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/bkowalcz/pricewatch/internal/models"
)

const (
	selectorCollection = "learned_selectors"
	recordCollection   = "extraction_records"
)

// FirestoreStore persists learned selectors and extraction records in
// Firestore.
type FirestoreStore struct {
	client *firestore.Client
}

func NewFirestore(ctx context.Context, projectID string) (*FirestoreStore, error) {
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("firestore.NewClient: %w", err)
	}
	return &FirestoreStore{client: client}, nil
}

func (s *FirestoreStore) Close() error {
	return s.client.Close()
}

// LoadSelector returns the learned selector stored under key, or nil when
// none exists.
func (s *FirestoreStore) LoadSelector(ctx context.Context, key string) (*models.LearnedSelector, error) {
	doc, err := s.client.Collection(selectorCollection).Doc(key).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get learned selector %s: %w", key, err)
	}
	if !doc.Exists() {
		return nil, nil
	}

	var sel models.LearnedSelector
	if err := doc.DataTo(&sel); err != nil {
		return nil, fmt.Errorf("failed to unmarshal learned selector %s: %w", key, err)
	}
	return &sel, nil
}

func (s *FirestoreStore) SaveSelector(ctx context.Context, key string, sel models.LearnedSelector) error {
	_, err := s.client.Collection(selectorCollection).Doc(key).Set(ctx, sel)
	if err != nil {
		return fmt.Errorf("failed to save learned selector %s: %w", key, err)
	}
	return nil
}

func (s *FirestoreStore) DeleteSelector(ctx context.Context, key string) error {
	_, err := s.client.Collection(selectorCollection).Doc(key).Delete(ctx)
	if err != nil && status.Code(err) != codes.NotFound {
		return fmt.Errorf("failed to delete learned selector %s: %w", key, err)
	}
	return nil
}

// RecordExtraction appends one audit record. Records are append-only;
// TrimOldRecords keeps the collection bounded.
func (s *FirestoreStore) RecordExtraction(ctx context.Context, rec models.ExtractionRecord) error {
	_, _, err := s.client.Collection(recordCollection).Add(ctx, rec)
	if err != nil {
		return fmt.Errorf("failed to record extraction for %s: %w", rec.ProductID, err)
	}
	return nil
}

// TrimOldRecords deletes the oldest extraction records once the collection
// exceeds maxRecords.
func (s *FirestoreStore) TrimOldRecords(ctx context.Context, maxRecords int) error {
	collectionRef := s.client.Collection(recordCollection)

	countSnapshot, err := collectionRef.NewAggregationQuery().WithCount("all").Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to get record count for trimming: %w", err)
	}
	countValue, ok := countSnapshot["all"]
	if !ok {
		return fmt.Errorf("count aggregation result for trimming was invalid: 'all' key missing")
	}
	pbValue, ok := countValue.(*firestorepb.Value)
	if !ok {
		return fmt.Errorf("count aggregation result for trimming has unexpected type %T", countValue)
	}
	current := int(pbValue.GetIntegerValue())

	if current <= maxRecords {
		return nil
	}
	numToDelete := current - maxRecords
	slog.Info("Trimming old extraction records", "current", current, "max", maxRecords, "deleting", numToDelete)

	iter := collectionRef.
		OrderBy("recordedAt", firestore.Asc).
		Limit(numToDelete).
		Documents(ctx)
	defer iter.Stop()

	deleted := 0
	bulkWriter := s.client.BulkWriter(ctx)
	defer bulkWriter.End()

	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to iterate records for trimming: %w", err)
		}
		if _, delErr := bulkWriter.Delete(doc.Ref); delErr != nil {
			slog.Warn("Failed to queue record delete", "id", doc.Ref.ID, "error", delErr)
			continue
		}
		deleted++
	}

	if deleted > 0 {
		bulkWriter.Flush()
		slog.Info("Flushed record trim deletes", "count", deleted)
	}
	return nil
}
