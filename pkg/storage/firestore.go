package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/levenlabs/go-lflag"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/raterudder/loadshift/pkg/log"
)

// FirestoreProvider implements the Store interface using Google Cloud
// Firestore. Each entity is one document in a collection, keyed by entity ID.
type FirestoreProvider struct {
	client     *firestore.Client
	projectID  string
	database   string
	collection string
}

type firestoreEntity struct {
	State      string         `firestore:"state"`
	Attributes map[string]any `firestore:"attributes,omitempty"`
	Updated    time.Time      `firestore:"updated,serverTimestamp"`
}

// configuredFirestore sets up the Firestore provider.
// It registers flags for configuration.
func configuredFirestore() *FirestoreProvider {
	projectID := lflag.String("firestore-project-id", "", "Google Cloud Project ID for Firestore")
	database := lflag.String("firestore-database", "", "Google Cloud Firestore Database")
	collection := lflag.String("firestore-collection", "entities", "Firestore collection holding entity states")
	emulator := lflag.String("firestore-emulator", "", "Use Firestore emulator")

	f := &FirestoreProvider{}

	lflag.Do(func() {
		f.projectID = *projectID
		f.database = *database
		f.collection = *collection

		// set this because that's how firestore client expects it
		if *emulator != "" {
			os.Setenv("FIRESTORE_EMULATOR_HOST", *emulator)
		}
	})

	return f
}

// Validate checks if the provider is properly configured.
func (f *FirestoreProvider) Validate() error {
	if f.collection == "" {
		return fmt.Errorf("firestore-collection is required")
	}
	return nil
}

// Init initializes the Firestore client.
// This must be called before using the provider methods.
func (f *FirestoreProvider) Init(ctx context.Context) error {
	projectID := f.projectID
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}
	database := f.database
	if database == "" {
		database = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, database)
	if err != nil {
		return fmt.Errorf("failed to create firestore client (project=%s, database=%s): %w", projectID, database, err)
	}
	f.client = client
	return nil
}

// Close closes the Firestore client connection.
func (f *FirestoreProvider) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

func (f *FirestoreProvider) entities() *firestore.CollectionRef {
	return f.client.Collection(f.collection)
}

// GetState implements Store.
func (f *FirestoreProvider) GetState(ctx context.Context, entityID string) (string, error) {
	if entityID == "" {
		return "", fmt.Errorf("entityID cannot be empty")
	}
	doc, err := f.entities().Doc(entityID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to fetch entity %s: %w", entityID, err)
	}
	var e firestoreEntity
	if err := doc.DataTo(&e); err != nil {
		return "", fmt.Errorf("failed to decode entity %s: %w", entityID, err)
	}
	return e.State, nil
}

// SetState implements Store.
func (f *FirestoreProvider) SetState(ctx context.Context, entityID, value string, attrs map[string]any) error {
	if entityID == "" {
		return fmt.Errorf("entityID cannot be empty")
	}
	_, err := f.entities().Doc(entityID).Set(ctx, firestoreEntity{
		State:      value,
		Attributes: attrs,
	})
	if err != nil {
		return fmt.Errorf("failed to set entity %s: %w", entityID, err)
	}
	return nil
}

// Subscribe implements Store using collection snapshots. The first snapshot
// describes the existing documents and is skipped.
func (f *FirestoreProvider) Subscribe(ctx context.Context, fn func(Change)) error {
	it := f.entities().Snapshots(ctx)
	defer it.Stop()

	first := true
	for {
		snap, err := it.Next()
		if err == iterator.Done {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil || status.Code(err) == codes.Canceled {
				return nil
			}
			return fmt.Errorf("failed to read entity snapshots: %w", err)
		}
		if first {
			first = false
			continue
		}
		for _, change := range snap.Changes {
			if change.Kind == firestore.DocumentRemoved {
				continue
			}
			var e firestoreEntity
			if err := change.Doc.DataTo(&e); err != nil {
				log.Ctx(ctx).WarnContext(
					ctx,
					"failed to decode entity snapshot",
					slog.String("entityID", change.Doc.Ref.ID),
					slog.Any("error", err),
				)
				continue
			}
			fn(Change{EntityID: change.Doc.Ref.ID, State: e.State})
		}
	}
}
