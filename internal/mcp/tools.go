package mcp

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/porticoapi/portico/internal/service"
)

func (s *Server) registerTools(srv *server.MCPServer) {
	srv.AddTool(
		mcp.NewTool("whoami",
			mcp.WithDescription(
				"Return the identity these tools run as, with its groups and "+
					"permissions.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
		),
		s.handleWhoami,
	)

	srv.AddTool(
		mcp.NewTool("list_collections",
			mcp.WithDescription(
				"List the record collections the current identity may read. "+
					"Use this first to discover what data is available.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
		),
		s.handleListCollections,
	)

	srv.AddTool(
		mcp.NewTool("describe_collection",
			mcp.WithDescription(
				"Describe the fields of a collection: name, type, whether it is "+
					"required or readonly, and the collection it relates to.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("collection",
				mcp.Required(),
				mcp.Description("Name of the collection to describe"),
			),
		),
		s.handleDescribeCollection,
	)

	srv.AddTool(
		mcp.NewTool("search_records",
			mcp.WithDescription(
				"Search a collection. Filters are exact-match field values. "+
					"Inactive records are hidden unless include_inactive is true "+
					"or a filter is given.\n\n"+
					"Order syntax: 'field asc' or 'field desc'.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("collection",
				mcp.Required(),
				mcp.Description("Name of the collection to search"),
			),
			mcp.WithObject("filters",
				mcp.Description("Field values to match, e.g. {\"city\": \"Springfield\"}"),
			),
			mcp.WithArray("fields",
				mcp.Description("Fields to return. Omit for every readable field."),
				mcp.WithStringItems(),
			),
			mcp.WithString("order",
				mcp.Description("Order clause, e.g. \"name desc\""),
			),
			mcp.WithNumber("limit",
				mcp.Description("Maximum number of records to return (default 10, max 1000)"),
			),
			mcp.WithNumber("offset",
				mcp.Description("Number of records to skip"),
			),
			mcp.WithBoolean("include_inactive",
				mcp.Description("Return inactive records too"),
			),
		),
		s.handleSearchRecords,
	)
}

func (s *Server) handleWhoami(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, err := s.principal(ctx)
	if err != nil {
		return s.serviceError(err)
	}
	return successJSON(service.Profile(p))
}

func (s *Server) handleListCollections(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, err := s.principal(ctx)
	if err != nil {
		return s.serviceError(err)
	}
	names, err := s.records.Collections(ctx, p)
	if err != nil {
		return s.serviceError(err)
	}
	return successJSON(map[string]interface{}{
		"collections": names,
		"count":       len(names),
	})
}

func (s *Server) handleDescribeCollection(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := requireString(request, "collection")
	if err != nil {
		return toolError("%v", err)
	}
	p, err := s.principal(ctx)
	if err != nil {
		return s.serviceError(err)
	}
	fields, err := s.records.Fields(ctx, p, name)
	if err != nil {
		return s.serviceError(err)
	}
	return successJSON(map[string]interface{}{
		"collection":  name,
		"fields":      fields,
		"field_count": len(fields),
	})
}

func (s *Server) handleSearchRecords(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := requireString(request, "collection")
	if err != nil {
		return toolError("%v", err)
	}
	p, err := s.principal(ctx)
	if err != nil {
		return s.serviceError(err)
	}
	params, err := searchParams(request)
	if err != nil {
		return toolError("%v", err)
	}
	res, err := s.records.Search(ctx, p, name, params)
	if err != nil {
		return s.serviceError(err)
	}
	cleanRecords(res.Records)
	return successJSON(res)
}

// searchParams turns tool arguments into the query parameters accepted by
// RecordService.Search.
func searchParams(request mcp.CallToolRequest) (url.Values, error) {
	params := url.Values{}
	for field, v := range getObjectArg(request, "filters") {
		value, err := filterValue(field, v)
		if err != nil {
			return nil, err
		}
		params.Set(field, value)
	}
	if fields := optionalStringSlice(request, "fields"); len(fields) > 0 {
		params.Set("fields", strings.Join(fields, ","))
	}
	if order := optionalString(request, "order"); order != "" {
		params.Set("order", order)
	}
	if limit := optionalInt(request, "limit", 0); limit > 0 {
		params.Set("limit", strconv.Itoa(clamp(limit, 1, service.MaxLimit)))
	}
	if offset := optionalInt(request, "offset", 0); offset > 0 {
		params.Set("offset", strconv.Itoa(offset))
	}
	if request.GetBool("include_inactive", false) {
		params.Set("include_inactive", "true")
	}
	return params, nil
}
