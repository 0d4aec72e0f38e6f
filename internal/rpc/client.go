package rpc

import (
	"context"
	"strings"

	"connectrpc.com/connect"
)

// Client calls the code service over connect with the JSON codec.
type Client struct {
	generate   *connect.Client[GenerateRequest, GenerateResponse]
	upload     *connect.Client[UploadRequest, UploadResponse]
	delete     *connect.Client[DeleteRequest, DeleteResponse]
	claim      *connect.Client[ClaimRequest, ClaimResponse]
	lookup     *connect.Client[LookupRequest, LookupResponse]
	mostRecent *connect.Client[MostRecentRequest, MostRecentResponse]
	stats      *connect.Client[StatsRequest, StatsResponse]
	export     *connect.Client[ExportRequest, ExportResponse]
}

// NewClient creates a client for the service at baseURL, e.g. http://localhost:8080
func NewClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{connect.WithCodec(jsonCodec{})}, opts...)

	return &Client{
		generate:   connect.NewClient[GenerateRequest, GenerateResponse](httpClient, baseURL+GenerateProcedure, opts...),
		upload:     connect.NewClient[UploadRequest, UploadResponse](httpClient, baseURL+UploadProcedure, opts...),
		delete:     connect.NewClient[DeleteRequest, DeleteResponse](httpClient, baseURL+DeleteProcedure, opts...),
		claim:      connect.NewClient[ClaimRequest, ClaimResponse](httpClient, baseURL+ClaimProcedure, opts...),
		lookup:     connect.NewClient[LookupRequest, LookupResponse](httpClient, baseURL+LookupProcedure, opts...),
		mostRecent: connect.NewClient[MostRecentRequest, MostRecentResponse](httpClient, baseURL+MostRecentProcedure, opts...),
		stats:      connect.NewClient[StatsRequest, StatsResponse](httpClient, baseURL+StatsProcedure, opts...),
		export:     connect.NewClient[ExportRequest, ExportResponse](httpClient, baseURL+ExportProcedure, opts...),
	}
}

func (c *Client) Generate(ctx context.Context, req *connect.Request[GenerateRequest]) (*connect.Response[GenerateResponse], error) {
	return c.generate.CallUnary(ctx, req)
}

func (c *Client) Upload(ctx context.Context, req *connect.Request[UploadRequest]) (*connect.Response[UploadResponse], error) {
	return c.upload.CallUnary(ctx, req)
}

func (c *Client) Delete(ctx context.Context, req *connect.Request[DeleteRequest]) (*connect.Response[DeleteResponse], error) {
	return c.delete.CallUnary(ctx, req)
}

func (c *Client) Claim(ctx context.Context, req *connect.Request[ClaimRequest]) (*connect.Response[ClaimResponse], error) {
	return c.claim.CallUnary(ctx, req)
}

func (c *Client) Lookup(ctx context.Context, req *connect.Request[LookupRequest]) (*connect.Response[LookupResponse], error) {
	return c.lookup.CallUnary(ctx, req)
}

func (c *Client) MostRecent(ctx context.Context, req *connect.Request[MostRecentRequest]) (*connect.Response[MostRecentResponse], error) {
	return c.mostRecent.CallUnary(ctx, req)
}

func (c *Client) Stats(ctx context.Context, req *connect.Request[StatsRequest]) (*connect.Response[StatsResponse], error) {
	return c.stats.CallUnary(ctx, req)
}

func (c *Client) Export(ctx context.Context, req *connect.Request[ExportRequest]) (*connect.Response[ExportResponse], error) {
	return c.export.CallUnary(ctx, req)
}
