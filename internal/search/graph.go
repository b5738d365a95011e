package search

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	apperrors "github.com/MakingThingsWorkToronto/pnp-modern-search/internal/errors"
	"github.com/MakingThingsWorkToronto/pnp-modern-search/internal/extension"
)

// DefaultGraphEndpoint is the Microsoft Search query endpoint.
const DefaultGraphEndpoint = "https://graph.microsoft.com/beta/search/query"

// Entity types Microsoft Search can return.
const (
	EntityMessage      = "message"
	EntityEvent        = "event"
	EntityDrive        = "drive"
	EntityDriveItem    = "driveItem"
	EntityList         = "list"
	EntityListItem     = "listItem"
	EntitySite         = "site"
	EntityExternalItem = "externalItem"
)

var (
	graphSortableProperties  = []string{"PersonalScore"}
	graphRefinableProperties = []extension.ManagedPropertyInfo{
		{Name: "LastModifiedTime", Sortable: false},
	}
)

// GraphService queries Microsoft Search through the Graph API. It does not
// support suggestions, vertical counts or query languages.
type GraphService struct {
	base
	// Endpoint overrides DefaultGraphEndpoint.
	Endpoint string
}

// NewGraphService creates an unconfigured GraphService.
func NewGraphService() *GraphService {
	return &GraphService{Endpoint: DefaultGraphEndpoint}
}

// EntityTypes returns the entity types the service can search.
func (g *GraphService) EntityTypes() []string {
	return []string{
		EntityMessage, EntityEvent, EntityDrive, EntityDriveItem,
		EntityList, EntityListItem, EntitySite, EntityExternalItem,
	}
}

// GraphRequest is the body of a Microsoft Search query.
type GraphRequest struct {
	Requests []GraphSearchRequest `json:"requests"`
}

type GraphSearchRequest struct {
	ContentSources []string           `json:"contentSources,omitempty"`
	EntityTypes    []string           `json:"entityTypes"`
	Query          GraphQuery         `json:"query"`
	Aggregations   []GraphAggregation `json:"aggregations"`
	From           int                `json:"from"`
	Size           int                `json:"size"`
	StoredFields   []string           `json:"stored_fields"`
}

type GraphQuery struct {
	QueryString string `json:"query_string"`
}

type GraphAggregation struct {
	Field            string                `json:"field"`
	Size             int                   `json:"size"`
	BucketDefinition GraphBucketDefinition `json:"bucketDefinition"`
}

type GraphBucketDefinition struct {
	SortBy       string `json:"sortBy"`
	IsDescending string `json:"isDescending"`
	MinimumCount int    `json:"minimumCount"`
}

// BuildRequest translates the configuration and params into a request.
func (g *GraphService) BuildRequest(queryText string, params extension.SearchParams) GraphRequest {
	cfg := g.Configuration()
	rows := resultsCount(cfg)
	page := params.PageNumber
	if page < 1 {
		page = 1
	}

	aggregations := make([]GraphAggregation, 0, len(cfg.Refiners))
	for _, r := range cfg.Refiners {
		sortBy := "keyAsString"
		if r.SortType == extension.RefinerSortByNumberOfResults {
			sortBy = "count"
		}
		aggregations = append(aggregations, GraphAggregation{
			Field: r.RefinerName,
			Size:  100,
			BucketDefinition: GraphBucketDefinition{
				SortBy:       sortBy,
				IsDescending: fmt.Sprint(r.SortDescending),
			},
		})
	}

	entityTypes := cfg.EntityTypes
	if len(entityTypes) == 0 {
		entityTypes = []string{EntityDriveItem}
	}

	return GraphRequest{Requests: []GraphSearchRequest{{
		ContentSources: contentSources(cfg),
		EntityTypes:    entityTypes,
		Query:          GraphQuery{QueryString: strings.TrimSpace(queryText + " " + cfg.Config.QueryTemplate)},
		Aggregations:   aggregations,
		From:           (page - 1) * rows,
		Size:           rows,
		StoredFields:   storedFields(cfg, entityTypes),
	}}}
}

func contentSources(cfg extension.SearchConfiguration) []string {
	switch {
	case cfg.ResultSourceID != "":
		var out []string
		for _, id := range strings.Split(cfg.ResultSourceID, ",") {
			if id = strings.TrimSpace(id); id != "" {
				out = append(out, id)
			}
		}
		return out
	case cfg.IncludeOneDrive:
		return []string{"SharePoint", "Exchange", "OneDriveBusiness", "PowerBI"}
	default:
		return []string{"SharePoint", "Exchange", "PowerBI"}
	}
}

// Stored fields are only honored for external items.
func storedFields(cfg extension.SearchConfiguration, entityTypes []string) []string {
	for _, t := range entityTypes {
		if t == EntityExternalItem {
			return cfg.Config.SelectedProperties
		}
	}
	return []string{}
}

// Search implements extension.SearchService.
func (g *GraphService) Search(ctx context.Context, params extension.SearchParams) (*extension.SearchResults, error) {
	queryText, err := g.modifyQuery(ctx, params.QueryText)
	if err != nil {
		return nil, fmt.Errorf("query modifier failed: %w", err)
	}
	req := g.BuildRequest(queryText, params)

	endpoint := g.Endpoint
	if endpoint == "" {
		endpoint = DefaultGraphEndpoint
	}
	var resp graphResponse
	headers := map[string]string{"Accept": "application/json", "Content-Type": "application/json"}
	if err := doJSON(ctx, g.environment(), http.MethodPost, endpoint, headers, req, &resp); err != nil {
		return nil, err
	}

	results := resp.results()
	results.QueryKeywords = queryText
	results.PaginationInformation.CurrentPage = req.Requests[0].From/req.Requests[0].Size + 1
	results.PaginationInformation.MaxResultsPerPage = req.Requests[0].Size
	return results, nil
}

// Suggest is not supported by Microsoft Search.
func (g *GraphService) Suggest(context.Context, string) ([]string, error) {
	return nil, apperrors.NotImplemented("suggest")
}

// ManagedProperties implements extension.SearchService.
func (g *GraphService) ManagedProperties(context.Context) ([]extension.ManagedPropertyInfo, error) {
	out := make([]extension.ManagedPropertyInfo, len(graphRefinableProperties))
	copy(out, graphRefinableProperties)
	return out, nil
}

// ValidateSortableProperty implements extension.SearchService.
func (g *GraphService) ValidateSortableProperty(_ context.Context, property string) (bool, error) {
	for _, p := range graphSortableProperties {
		if p == property {
			return true, nil
		}
	}
	return false, nil
}

// VerticalCounts is not supported by Microsoft Search.
func (g *GraphService) VerticalCounts(context.Context, string, []extension.Vertical) ([]extension.VerticalInformation, error) {
	return nil, apperrors.NotImplemented("vertical counts")
}

// QueryLanguages is not supported by Microsoft Search.
func (g *GraphService) QueryLanguages(context.Context) ([]extension.QueryLanguage, error) {
	return nil, apperrors.NotImplemented("query languages")
}

// HashKey implements extension.SearchService.
func (g *GraphService) HashKey() string {
	return g.hashKey(GraphDatasourceName)
}

type graphResponse struct {
	Value []struct {
		HitsContainers []struct {
			Total        int              `json:"total"`
			Hits         []map[string]any `json:"hits"`
			Aggregations []struct {
				Field   string `json:"field"`
				Buckets []struct {
					Key                    string `json:"key"`
					Count                  int    `json:"count"`
					AggregationFilterToken string `json:"aggregationFilterToken"`
				} `json:"buckets"`
			} `json:"aggregations"`
		} `json:"hitsContainers"`
	} `json:"value"`
}

func (r graphResponse) results() *extension.SearchResults {
	results := &extension.SearchResults{
		RelevantResults:   []map[string]any{},
		RefinementResults: []extension.RefinementResult{},
	}
	if len(r.Value) == 0 || len(r.Value[0].HitsContainers) == 0 {
		return results
	}
	container := r.Value[0].HitsContainers[0]
	results.PaginationInformation.TotalRows = container.Total

	for _, hit := range container.Hits {
		item := make(map[string]any, len(hit)+2)
		for key, value := range hit {
			item[strings.TrimPrefix(key, "_")] = value
		}
		if source, ok := hit["_source"].(map[string]any); ok {
			if link, ok := source["webLink"].(string); ok && link != "" {
				item["link"] = link
			}
			if link, ok := source["webUrl"].(string); ok && link != "" {
				item["link"] = link
			}
			if typ, ok := source["@odata.type"].(string); ok {
				item["type"] = typ
			}
		}
		results.RelevantResults = append(results.RelevantResults, item)
	}

	for _, agg := range container.Aggregations {
		refinement := extension.RefinementResult{FilterName: agg.Field}
		for _, b := range agg.Buckets {
			refinement.Values = append(refinement.Values, extension.RefinementValue{
				RefinementCount: b.Count,
				RefinementName:  b.Key,
				RefinementToken: b.AggregationFilterToken,
				RefinementValue: b.Key,
			})
		}
		results.RefinementResults = append(results.RefinementResults, refinement)
	}
	return results
}
