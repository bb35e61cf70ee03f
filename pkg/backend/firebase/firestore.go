package firebase

import (
	"context"
	"encoding/base64"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/firepwn/firepwn/pkg/backend"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// idTokenCredentials attaches the signed-in user's ID token to every
// Firestore RPC, which is how security rules see request.auth.
type idTokenCredentials struct {
	s        *session
	insecure bool
}

func (c *idTokenCredentials) GetRequestMetadata(ctx context.Context, _ ...string) (map[string]string, error) {
	tok, err := c.s.idToken(ctx)
	if err != nil {
		return nil, err
	}
	if tok == "" {
		return nil, nil
	}
	return map[string]string{"authorization": "Bearer " + tok}, nil
}

func (c *idTokenCredentials) RequireTransportSecurity() bool {
	return !c.insecure
}

// store implements backend.Store on a Firestore client.
type store struct {
	client *firestore.Client
}

func (s *store) Get(ctx context.Context, collection, id string) (*backend.Document, error) {
	snap, err := s.client.Collection(collection).Doc(id).Get(ctx)
	if err != nil {
		return nil, firestoreError(err)
	}
	return &backend.Document{ID: snap.Ref.ID, Data: normalizeMap(snap.Data())}, nil
}

func (s *store) Set(ctx context.Context, collection, id string, data map[string]any, merge bool) error {
	ref := s.client.Collection(collection).Doc(id)

	var err error
	if merge {
		_, err = ref.Set(ctx, data, firestore.MergeAll)
	} else {
		_, err = ref.Set(ctx, data)
	}
	return firestoreError(err)
}

func (s *store) Add(ctx context.Context, collection string, data map[string]any) (string, error) {
	ref, _, err := s.client.Collection(collection).Add(ctx, data)
	if err != nil {
		return "", firestoreError(err)
	}
	return ref.ID, nil
}

func (s *store) Update(ctx context.Context, collection, id string, data map[string]any) error {
	updates := make([]firestore.Update, 0, len(data))
	for path, v := range data {
		updates = append(updates, firestore.Update{Path: path, Value: v})
	}
	_, err := s.client.Collection(collection).Doc(id).Update(ctx, updates)
	return firestoreError(err)
}

func (s *store) Delete(ctx context.Context, collection, id string) error {
	_, err := s.client.Collection(collection).Doc(id).Delete(ctx)
	return firestoreError(err)
}

func (s *store) Query(ctx context.Context, q backend.Query) ([]*backend.Document, error) {
	query := s.client.Collection(q.Collection).Query
	if q.Filter != nil {
		query = query.Where(q.Filter.Field, q.Filter.Op, q.Filter.Value)
	}
	if q.OrderBy != "" {
		dir := firestore.Asc
		if q.Direction == backend.Desc {
			dir = firestore.Desc
		}
		query = query.OrderBy(q.OrderBy, dir)
	}
	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var docs []*backend.Document
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, firestoreError(err)
		}
		docs = append(docs, &backend.Document{ID: snap.Ref.ID, Data: normalizeMap(snap.Data())})
	}
	return docs, nil
}

// grpcCodes maps gRPC status codes to the lower-case codes the client SDKs
// report.
var grpcCodes = map[codes.Code]string{
	codes.NotFound:           backend.CodeNotFound,
	codes.FailedPrecondition: backend.CodeFailedPrecondition,
	codes.PermissionDenied:   backend.CodePermissionDenied,
	codes.Unauthenticated:    backend.CodeUnauthenticated,
	codes.InvalidArgument:    backend.CodeInvalidArgument,
	codes.Internal:           backend.CodeInternal,
	codes.Unavailable:        backend.CodeUnavailable,
	codes.Canceled:           "cancelled",
	codes.DeadlineExceeded:   "deadline-exceeded",
	codes.AlreadyExists:      "already-exists",
	codes.ResourceExhausted:  "resource-exhausted",
	codes.Aborted:            "aborted",
	codes.OutOfRange:         "out-of-range",
	codes.Unimplemented:      "unimplemented",
	codes.DataLoss:           "data-loss",
}

func firestoreError(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return &backend.Error{Code: backend.CodeUnknown, Message: err.Error(), Err: err}
	}
	code, ok := grpcCodes[st.Code()]
	if !ok {
		code = backend.CodeUnknown
	}
	return &backend.Error{Code: code, Message: st.Message(), Err: err}
}

// normalizeMap converts Firestore values into JSON-compatible ones.
func normalizeMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return normalizeMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalizeValue(e)
		}
		return out
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case *firestore.DocumentRef:
		if t == nil {
			return nil
		}
		return t.Path
	case []byte:
		return base64.StdEncoding.EncodeToString(t)
	}
	return v
}
