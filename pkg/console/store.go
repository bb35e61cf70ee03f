package console

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/firepwn/firepwn/internal/jsonlit"
	"github.com/firepwn/firepwn/pkg/backend"
)

// StoreAction is a structured-store operation.
type StoreAction string

const (
	StoreGet    StoreAction = "get"
	StoreSet    StoreAction = "set"
	StoreUpdate StoreAction = "update"
	StoreDelete StoreAction = "delete"
)

// StoreRequest is one structured-store operation as typed by the user.
type StoreRequest struct {
	Collection string
	Action     StoreAction
	DocumentID string
	// Body is a JSON-like object literal for set and update.
	Body string
	// Limit caps query results; 0 means no limit.
	Limit int

	SortField     string
	SortDirection backend.Direction

	FilterField    string
	FilterOperator string
	FilterValue    string

	// Merge makes set merge into the existing document.
	Merge bool
}

var fieldNameRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_.]*$`)

// validate checks r in a fixed order; the first failure wins.
func (r StoreRequest) validate() string {
	hasSort := r.SortField != ""
	hasFilter := r.FilterField != "" || r.FilterOperator != "" || r.FilterValue != ""

	switch r.Action {
	case StoreGet, StoreSet, StoreUpdate, StoreDelete:
	default:
		return "Invalid Firestore operation"
	}

	if (hasSort || hasFilter) && r.Action != StoreGet {
		return "Sorting and filtering are only available for GET operations"
	}
	if (hasSort || hasFilter) && r.DocumentID != "" {
		return "Sorting and filtering cannot be used when querying a specific document ID"
	}
	if hasSort && !fieldNameRe.MatchString(r.SortField) {
		return "Invalid sort field name"
	}
	if r.FilterField != "" && !fieldNameRe.MatchString(r.FilterField) {
		return "Invalid filter field name"
	}
	if hasFilter && (r.FilterField == "" || r.FilterOperator == "" || r.FilterValue == "") {
		return "When using filters, you must specify field, operator, and value"
	}
	if hasFilter && !slices.Contains(backend.FilterOperators, r.FilterOperator) {
		return "Invalid filter operator"
	}
	if hasSort && r.SortDirection != "" && r.SortDirection != backend.Asc && r.SortDirection != backend.Desc {
		return "Invalid sort direction"
	}
	if r.Limit < 0 {
		return "Limit must not be negative"
	}

	switch {
	case r.Action == StoreUpdate && r.DocumentID == "":
		return "Document ID field is mandatory when trying to update a record"
	case r.Action == StoreDelete && r.DocumentID == "":
		return "Document ID field is mandatory when trying to delete a record"
	}

	if strings.TrimSpace(r.Collection) == "" {
		return "Please enter a collection name"
	}
	return ""
}

// Store runs one structured-store operation.
func (c *Console) Store(ctx context.Context, req StoreRequest) error {
	action := string(req.Action)
	sess := c.session()
	if !sess.initialized {
		return c.reject(SubsystemStore, action, "Firestore not initialized", ErrNotInitialized)
	}

	req.DocumentID = strings.TrimSpace(req.DocumentID)
	req.Collection = strings.TrimSpace(req.Collection)
	if msg := req.validate(); msg != "" {
		return c.invalid(SubsystemStore, action, msg)
	}

	var body map[string]any
	if req.Action == StoreSet || req.Action == StoreUpdate {
		obj, err := jsonlit.ParseObject(req.Body)
		if err != nil {
			msg := "Please enter a valid JSON object"
			return c.reject(SubsystemStore, action, msg, &ValidationError{Message: msg, Err: err})
		}
		body = obj
	}

	store := sess.store
	switch req.Action {
	case StoreSet:
		if req.DocumentID == "" {
			c.dispatch(ctx, SubsystemStore, "add", func(ctx context.Context) error {
				return c.add(ctx, store, req, body)
			})
			return nil
		}
		c.dispatch(ctx, SubsystemStore, action, func(ctx context.Context) error {
			return c.set(ctx, store, req, body)
		})
	case StoreUpdate:
		c.dispatch(ctx, SubsystemStore, action, func(ctx context.Context) error {
			return c.update(ctx, store, req, body)
		})
	case StoreDelete:
		c.dispatch(ctx, SubsystemStore, action, func(ctx context.Context) error {
			return c.deleteDoc(ctx, store, req)
		})
	case StoreGet:
		if req.DocumentID != "" {
			c.dispatch(ctx, SubsystemStore, action, func(ctx context.Context) error {
				return c.getDoc(ctx, store, req)
			})
			return nil
		}
		c.dispatch(ctx, SubsystemStore, "query", func(ctx context.Context) error {
			return c.query(ctx, store, req)
		})
	}
	return nil
}

func (c *Console) set(ctx context.Context, store backend.Store, req StoreRequest, body map[string]any) error {
	if err := store.Set(ctx, req.Collection, req.DocumentID, body, req.Merge); err != nil {
		c.log.Error("Error: " + err.Error())
		return err
	}

	header := fmt.Sprintf("Document overwritten/created (ID: %s)", req.DocumentID)
	if req.Merge {
		header = fmt.Sprintf("Document merged (ID: %s) (with merge: true)", req.DocumentID)
	}
	c.log.Success(header + "\nResult: " + prettyJSON(body))
	return nil
}

func (c *Console) add(ctx context.Context, store backend.Store, req StoreRequest, body map[string]any) error {
	id, err := store.Add(ctx, req.Collection, body)
	if err != nil {
		c.log.Error("Error: " + err.Error())
		return err
	}
	c.log.Success(fmt.Sprintf("Document added (ID: %s)", id))
	return nil
}

func (c *Console) update(ctx context.Context, store backend.Store, req StoreRequest, body map[string]any) error {
	if err := store.Update(ctx, req.Collection, req.DocumentID, body); err != nil {
		c.log.Error("Error: " + err.Error())
		return err
	}
	c.log.Success(fmt.Sprintf("Updated fields (Doc ID: %s)\n%s", req.DocumentID, prettyJSON(body)))
	return nil
}

func (c *Console) deleteDoc(ctx context.Context, store backend.Store, req StoreRequest) error {
	if err := store.Delete(ctx, req.Collection, req.DocumentID); err != nil {
		c.log.Error("Error: " + err.Error())
		return err
	}
	c.log.Success(fmt.Sprintf("Deleted (Doc ID: %s)", req.DocumentID))
	return nil
}

func (c *Console) getDoc(ctx context.Context, store backend.Store, req StoreRequest) error {
	doc, err := store.Get(ctx, req.Collection, req.DocumentID)
	switch {
	case errors.Is(err, backend.ErrNotFound):
		c.log.Error(fmt.Sprintf("Document %s not found", req.DocumentID))
		return err
	case err != nil:
		c.log.Error("Error: " + err.Error())
		return err
	}
	c.log.Success(fmt.Sprintf("Getting %s from %s\nResponse:\n%s", req.DocumentID, req.Collection, prettyJSON(doc.Data)))
	return nil
}

func (c *Console) query(ctx context.Context, store backend.Store, req StoreRequest) error {
	q := backend.Query{
		Collection: req.Collection,
		Limit:      req.Limit,
	}
	if req.FilterField != "" {
		q.Filter = &backend.Filter{
			Field: req.FilterField,
			Op:    req.FilterOperator,
			Value: coerceFilterValue(req.FilterValue),
		}
	}
	if req.SortField != "" {
		q.OrderBy = req.SortField
		q.Direction = req.SortDirection
		if q.Direction == "" {
			q.Direction = backend.Asc
		}
	}

	docs, err := store.Query(ctx, q)
	if err != nil {
		msg := err.Error()
		if backend.CodeOf(err) == backend.CodeFailedPrecondition {
			switch {
			case req.SortField != "":
				msg = fmt.Sprintf("Cannot sort by '%s': This field may not be indexed.", req.SortField)
			case req.FilterField != "":
				msg = fmt.Sprintf("Cannot filter by '%s': This field may not be indexed.", req.FilterField)
			}
		}
		c.log.Error("Error: " + msg)
		return err
	}

	var b strings.Builder
	b.WriteString("Getting documents from " + req.Collection)
	if req.Limit > 0 {
		fmt.Fprintf(&b, " (limit: %d)", req.Limit)
	} else {
		b.WriteString(" (no limit)")
	}
	if req.FilterField != "" {
		fmt.Fprintf(&b, " (filtered by %s %s %s)", req.FilterField, req.FilterOperator, req.FilterValue)
	}
	if req.SortField != "" {
		fmt.Fprintf(&b, " (sorted by %s %s)", req.SortField, q.Direction)
	}
	fmt.Fprintf(&b, "\nResponse (%d documents):\n", len(docs))

	if len(docs) == 0 {
		c.log.Info(b.String() + "Empty response")
		return nil
	}
	for _, doc := range docs {
		fmt.Fprintf(&b, "Document ID: %s\n%s\n", doc.ID, prettyJSON(doc.Data))
	}
	c.log.Success(b.String())
	return nil
}

// coerceFilterValue decodes v when it looks like a number, boolean, array or
// object literal and keeps it as a string otherwise.
func coerceFilterValue(v string) any {
	looksLiteral := strings.HasPrefix(v, "[") || strings.HasPrefix(v, "{") ||
		v == "true" || v == "false"
	if !looksLiteral {
		if _, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			looksLiteral = true
		}
	}
	if !looksLiteral {
		return v
	}

	parsed, err := jsonlit.Parse(v)
	if err != nil {
		return v
	}
	return parsed
}
