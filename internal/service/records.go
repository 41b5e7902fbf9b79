package service

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strconv"

	"github.com/porticoapi/portico/internal/model"
	"github.com/porticoapi/portico/internal/query"
	"github.com/porticoapi/portico/internal/recordstore"
)

// IdentitiesCollection is the collection backed by the identity directory.
// Creates and writes on it go through IdentityService.
const IdentitiesCollection = "identities"

// Paging defaults.
const (
	DefaultLimit = 10
	MaxLimit     = 1000
)

// Page is a validated limit/offset pair.
type Page struct {
	Limit  int
	Offset int
}

// SearchResult is one page of a generic search.
type SearchResult struct {
	Records    []recordstore.Record `json:"records"`
	Count      int                  `json:"count"`
	Total      int64                `json:"total"`
	Limit      int                  `json:"limit"`
	Offset     int                  `json:"offset"`
	Collection string               `json:"collection"`
	Fields     []string             `json:"fields"`
}

// Created describes a newly created record. Record and Credentials are set
// for identities only.
type Created struct {
	ID          int64                  `json:"id"`
	Collection  string                 `json:"collection"`
	Record      map[string]interface{} `json:"record,omitempty"`
	Credentials *GeneratedSecrets      `json:"credentials,omitempty"`
}

// Written describes a successful write.
type Written struct {
	IDs           []int64  `json:"ids"`
	Collection    string   `json:"collection"`
	UpdatedFields []string `json:"updated_fields"`
}

// RecordService is the record facade: it runs authorized generic CRUD
// against the record store as the requesting identity.
type RecordService struct {
	records      recordstore.Store
	access       *AccessEvaluator
	identities   *IdentityService
	logger       *slog.Logger
	defaultLimit int
	maxLimit     int
}

// RecordOption configures a RecordService.
type RecordOption func(*RecordService)

// WithLimits sets the default and maximum page size.
func WithLimits(defaultLimit, maxLimit int) RecordOption {
	return func(s *RecordService) {
		if defaultLimit > 0 {
			s.defaultLimit = defaultLimit
		}
		if maxLimit > 0 {
			s.maxLimit = maxLimit
		}
	}
}

// NewRecordService creates a RecordService.
func NewRecordService(records recordstore.Store, access *AccessEvaluator, identities *IdentityService, logger *slog.Logger, opts ...RecordOption) *RecordService {
	s := &RecordService{
		records:      records,
		access:       access,
		identities:   identities,
		logger:       logger,
		defaultLimit: DefaultLimit,
		maxLimit:     MaxLimit,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ParsePage reads limit and offset. A missing limit is the default; limits
// above the maximum are capped.
func (s *RecordService) ParsePage(params url.Values) (Page, error) {
	page := Page{Limit: s.defaultLimit}
	if raw := params.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return Page{}, newError(KindValidation, CodeInvalidPagination, "limit must be a positive integer")
		}
		page.Limit = min(n, s.maxLimit)
	}
	if raw := params.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return Page{}, newError(KindValidation, CodeInvalidPagination, "offset must be a non-negative integer")
		}
		page.Offset = n
	}
	return page, nil
}

// collection resolves a collection the principal may perform op on.
func (s *RecordService) collection(ctx context.Context, p *Principal, name string, op model.Operation) (*model.FieldSet, error) {
	if !s.records.Exists(name) {
		return nil, newError(KindNotFound, CodeModelNotFound, "collection '"+name+"' not found")
	}
	if !s.access.Allowed(ctx, p.Actor(), name, op) {
		return nil, newError(KindAccessDenied, CodeAccessDenied, "access denied to '"+name+"' ("+op.String()+")")
	}
	fields, err := s.records.FieldsOf(name)
	if err != nil {
		return nil, mapStoreErr("fields", err)
	}
	return fields, nil
}

// Collections lists the collections the principal may read.
func (s *RecordService) Collections(ctx context.Context, p *Principal) ([]string, error) {
	names, err := s.records.Collections(ctx, p.Actor())
	if err != nil {
		return nil, mapStoreErr("collections", err)
	}
	return names, nil
}

// Fields describes a readable collection.
func (s *RecordService) Fields(ctx context.Context, p *Principal, name string) ([]model.Field, error) {
	fields, err := s.collection(ctx, p, name, model.OpRead)
	if err != nil {
		return nil, err
	}
	return fields.Fields, nil
}

// Search runs a filtered, ordered, paginated search and reads the masked
// fields of the matching records along with the total match count.
func (s *RecordService) Search(ctx context.Context, p *Principal, name string, params url.Values) (*SearchResult, error) {
	fields, err := s.collection(ctx, p, name, model.OpRead)
	if err != nil {
		return nil, err
	}
	mask, err := s.access.FieldMask(fields, params.Get("fields"))
	if err != nil {
		return nil, err
	}
	where, err := s.access.Filters(fields, params)
	if err != nil {
		return nil, err
	}
	order, err := query.ParseOrderClause(params.Get("order"))
	if err != nil {
		return nil, newError(KindValidation, CodeInvalidOrder, err.Error())
	}
	for _, o := range order {
		if !fields.Has(o.Column) {
			return nil, newError(KindValidation, CodeInvalidOrder, "cannot order by unknown field '"+o.Column+"'")
		}
	}
	page, err := s.ParsePage(params)
	if err != nil {
		return nil, err
	}

	actor := p.Actor()
	ids, err := s.records.Search(ctx, actor, name, recordstore.Query{
		Where:  where,
		Order:  order,
		Limit:  page.Limit,
		Offset: page.Offset,
	})
	if err != nil {
		return nil, mapStoreErr("search", err)
	}
	total, err := s.records.Count(ctx, actor, name, where)
	if err != nil {
		return nil, mapStoreErr("count", err)
	}
	records, err := s.records.Read(ctx, actor, name, ids, mask)
	if err != nil {
		return nil, mapStoreErr("read", err)
	}
	return &SearchResult{
		Records:    records,
		Count:      len(records),
		Total:      total,
		Limit:      page.Limit,
		Offset:     page.Offset,
		Collection: name,
		Fields:     mask,
	}, nil
}

// Read returns the masked fields of the records named by the ids parameter,
// in that order.
func (s *RecordService) Read(ctx context.Context, p *Principal, name string, params url.Values) ([]recordstore.Record, error) {
	fields, err := s.collection(ctx, p, name, model.OpRead)
	if err != nil {
		return nil, err
	}
	ids, err := query.ParseIDList(params.Get("ids"))
	if err != nil {
		return nil, newError(KindValidation, CodeInvalidIDs, err.Error())
	}
	mask, err := s.access.FieldMask(fields, params.Get("fields"))
	if err != nil {
		return nil, err
	}
	records, err := s.records.Read(ctx, p.Actor(), name, ids, mask)
	if err != nil {
		return nil, mapStoreErr("read", err)
	}
	return records, nil
}

// Create inserts one record. Identities run the identity creation workflow.
func (s *RecordService) Create(ctx context.Context, p *Principal, name string, values map[string]interface{}) (*Created, error) {
	if name == IdentitiesCollection {
		ident, secrets, err := s.identities.Create(ctx, p, values)
		if err != nil {
			return nil, err
		}
		return &Created{ID: ident.ID, Collection: name, Record: IdentitySummary(ident), Credentials: secrets}, nil
	}
	if _, err := s.collection(ctx, p, name, model.OpCreate); err != nil {
		return nil, err
	}
	id, err := s.records.Create(ctx, p.Actor(), name, values)
	if err != nil {
		return nil, mapStoreErr("create", err)
	}
	s.logger.Info("record created", "collection", name, "id", id, "identity_id", p.Identity.ID)
	return &Created{ID: id, Collection: name}, nil
}

// Write updates the records named by ids. On identities every id is
// checked under the three-tier write policy before any is written.
func (s *RecordService) Write(ctx context.Context, p *Principal, name string, ids []int64, values map[string]interface{}) (*Written, error) {
	if len(ids) == 0 {
		return nil, newError(KindValidation, CodeInvalidIDs, "no ids given")
	}
	if name == IdentitiesCollection {
		updated, err := s.identities.UpdateMany(ctx, p, ids, values)
		if err != nil {
			return nil, err
		}
		return &Written{IDs: ids, Collection: name, UpdatedFields: updated}, nil
	}
	if _, err := s.collection(ctx, p, name, model.OpWrite); err != nil {
		return nil, err
	}
	if err := s.records.Write(ctx, p.Actor(), name, ids, values); err != nil {
		return nil, mapStoreErr("write", err)
	}
	return &Written{IDs: ids, Collection: name, UpdatedFields: sortedKeys(values)}, nil
}

// mapStoreErr converts record store failures to service errors.
func mapStoreErr(op string, err error) error {
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return err
	}
	switch {
	case errors.Is(err, recordstore.ErrUnknownCollection):
		return &Error{Kind: KindNotFound, Code: CodeModelNotFound, Message: err.Error()}
	case errors.Is(err, recordstore.ErrAccess):
		return &Error{Kind: KindAccessDenied, Code: CodeAccessDenied, Message: "access denied"}
	case errors.Is(err, recordstore.ErrRecordNotFound):
		return &Error{Kind: KindNotFound, Code: CodeRecordNotFound, Message: err.Error()}
	case errors.Is(err, recordstore.ErrReadOnly), errors.Is(err, query.ErrWriteUnsupported):
		return &Error{Kind: KindValidation, Code: CodeReadOnlySource, Message: err.Error()}
	case errors.Is(err, recordstore.ErrUnknownField):
		return &Error{Kind: KindValidation, Code: CodeUnknownField, Message: err.Error()}
	case errors.Is(err, recordstore.ErrReadonlyField):
		return &Error{Kind: KindValidation, Code: CodeReadonlyField, Message: err.Error()}
	case errors.Is(err, recordstore.ErrMissingRequired):
		return &Error{Kind: KindValidation, Code: CodeMissingRequired, Message: err.Error()}
	case errors.Is(err, recordstore.ErrNoData):
		return &Error{Kind: KindValidation, Code: CodeNoData, Message: "no data provided"}
	case errors.Is(err, recordstore.ErrInvalidValue):
		return &Error{Kind: KindValidation, Code: CodeInvalidValue, Message: err.Error()}
	}
	return internal(op, err)
}
