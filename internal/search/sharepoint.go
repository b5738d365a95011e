package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"github.com/MakingThingsWorkToronto/pnp-modern-search/internal/extension"
)

var nometadata = map[string]string{
	"Accept":       "application/json;odata=nometadata",
	"Content-Type": "application/json;odata=nometadata",
}

// Query languages offered when the page does not restrict them.
var queryLanguageTags = []struct {
	lcid int
	tag  string
}{
	{1033, "en-US"},
	{1036, "fr-FR"},
	{1031, "de-DE"},
	{3082, "es-ES"},
	{1040, "it-IT"},
	{1043, "nl-NL"},
	{1046, "pt-BR"},
	{1049, "ru-RU"},
	{1041, "ja-JP"},
	{2052, "zh-CN"},
}

// SharePointService queries the SharePoint search REST API.
type SharePointService struct {
	base
}

// NewSharePointService creates an unconfigured SharePointService.
func NewSharePointService() *SharePointService {
	return &SharePointService{}
}

// Query is the body of a SharePoint postquery request.
type Query struct {
	Querytext         string   `json:"Querytext"`
	QueryTemplate     string   `json:"QueryTemplate,omitempty"`
	RowLimit          int      `json:"RowLimit"`
	StartRow          int      `json:"StartRow"`
	SelectProperties  []string `json:"SelectProperties,omitempty"`
	SortList          []Sort   `json:"SortList,omitempty"`
	Refiners          string   `json:"Refiners,omitempty"`
	RefinementFilters []string `json:"RefinementFilters,omitempty"`
	EnableQueryRules  bool     `json:"EnableQueryRules"`
	SourceID          string   `json:"SourceId,omitempty"`
	Culture           int      `json:"Culture,omitempty"`
	TimeZoneID        int      `json:"TimeZoneId,omitempty"`
	TrimDuplicates    bool     `json:"TrimDuplicates"`
	ClientType        string   `json:"ClientType"`
}

// Sort is a sort clause of a SharePoint query.
type Sort struct {
	Property  string `json:"Property"`
	Direction int    `json:"Direction"`
}

// BuildQuery translates the configuration and params into a query.
func (s *SharePointService) BuildQuery(queryText string, params extension.SearchParams) Query {
	cfg := s.Configuration()
	rows := resultsCount(cfg)
	page := params.PageNumber
	if page < 1 {
		page = 1
	}

	if strings.TrimSpace(queryText) == "" && cfg.Config.UseDefaultSearchQuery {
		queryText = cfg.Config.DefaultSearchQuery
	}
	template := cfg.Config.QueryTemplate
	if template == "" {
		template = "{searchTerms}"
	}

	q := Query{
		Querytext:         queryText,
		QueryTemplate:     template,
		RowLimit:          rows,
		StartRow:          (page - 1) * rows,
		SelectProperties:  cfg.Config.SelectedProperties,
		RefinementFilters: cfg.RefinementFilters,
		EnableQueryRules:  cfg.EnableQueryRules,
		SourceID:          cfg.ResultSourceID,
		Culture:           cfg.QueryCulture,
		TimeZoneID:        cfg.TimeZoneID,
		ClientType:        "ContentSearchRegular",
	}
	for _, sort := range cfg.Config.SortList {
		q.SortList = append(q.SortList, Sort{Property: sort.Property, Direction: int(sort.Direction)})
	}
	names := make([]string, 0, len(cfg.Refiners))
	for _, r := range cfg.Refiners {
		names = append(names, r.RefinerName)
	}
	q.Refiners = strings.Join(names, ",")
	return q
}

func (s *SharePointService) endpoint(path string) (string, error) {
	site := strings.TrimRight(s.environment().SiteURL, "/")
	if site == "" {
		return "", fmt.Errorf("no site url configured")
	}
	return site + path, nil
}

func (s *SharePointService) post(ctx context.Context, q Query) (*spResponse, error) {
	u, err := s.endpoint("/_api/search/postquery")
	if err != nil {
		return nil, err
	}
	var resp spResponse
	if err := doJSON(ctx, s.environment(), http.MethodPost, u, nometadata, map[string]any{"request": q}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Search implements extension.SearchService.
func (s *SharePointService) Search(ctx context.Context, params extension.SearchParams) (*extension.SearchResults, error) {
	queryText, err := s.modifyQuery(ctx, params.QueryText)
	if err != nil {
		return nil, fmt.Errorf("query modifier failed: %w", err)
	}
	q := s.BuildQuery(queryText, params)
	resp, err := s.post(ctx, q)
	if err != nil {
		return nil, err
	}

	results := &extension.SearchResults{
		QueryKeywords:     queryText,
		RelevantResults:   resp.Primary.RelevantResults.items(),
		RefinementResults: resp.Primary.RefinementResults.results(),
		PaginationInformation: extension.PaginationInformation{
			CurrentPage:       q.StartRow/q.RowLimit + 1,
			MaxResultsPerPage: q.RowLimit,
			TotalRows:         int(resp.Primary.RelevantResults.TotalRows),
		},
	}
	for _, secondary := range resp.Secondary {
		results.SecondaryResults = append(results.SecondaryResults, secondary.RelevantResults.items()...)
	}
	return results, nil
}

// Suggest implements extension.SearchService.
func (s *SharePointService) Suggest(ctx context.Context, query string) ([]string, error) {
	u, err := s.endpoint("/_api/search/suggest")
	if err != nil {
		return nil, err
	}
	u += "?querytext=" + url.QueryEscape("'"+strings.ReplaceAll(query, "'", "''")+"'")

	var resp struct {
		Queries []struct {
			Query string `json:"Query"`
		} `json:"Queries"`
	}
	if err := doJSON(ctx, s.environment(), http.MethodGet, u, nometadata, nil, &resp); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(resp.Queries))
	for _, q := range resp.Queries {
		out = append(out, q.Query)
	}
	return out, nil
}

// ManagedProperties lists the managed properties found on indexed items.
func (s *SharePointService) ManagedProperties(ctx context.Context) ([]extension.ManagedPropertyInfo, error) {
	resp, err := s.post(ctx, Query{
		Querytext:  "*",
		RowLimit:   0,
		Refiners:   "ManagedProperties(filter=600/0/*)",
		ClientType: "ContentSearchRegular",
	})
	if err != nil {
		return nil, err
	}
	var props []extension.ManagedPropertyInfo
	for _, refiner := range resp.Primary.RefinementResults.Refiners {
		if refiner.Name != "ManagedProperties" {
			continue
		}
		for _, entry := range refiner.Entries {
			props = append(props, extension.ManagedPropertyInfo{Name: entry.RefinementName})
		}
	}
	return props, nil
}

// ValidateSortableProperty runs a one row query sorted on property.
func (s *SharePointService) ValidateSortableProperty(ctx context.Context, property string) (bool, error) {
	_, err := s.post(ctx, Query{
		Querytext:  "*",
		RowLimit:   1,
		SortList:   []Sort{{Property: property}},
		ClientType: "ContentSearchRegular",
	})
	return err == nil, nil
}

// VerticalCounts counts the results of each vertical. Link verticals are
// skipped.
func (s *SharePointService) VerticalCounts(ctx context.Context, queryText string, verticals []extension.Vertical) ([]extension.VerticalInformation, error) {
	cfg := s.Configuration()
	counts := make([]extension.VerticalInformation, len(verticals))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, v := range verticals {
		counts[i].VerticalKey = v.Key
		if v.IsLink {
			continue
		}
		template := v.Configuration.QueryTemplate
		if template == "" {
			template = cfg.Config.QueryTemplate
		}
		q := Query{
			Querytext:        queryText,
			QueryTemplate:    template,
			RowLimit:         0,
			EnableQueryRules: cfg.EnableQueryRules,
			SourceID:         cfg.ResultSourceID,
			ClientType:       "ContentSearchRegular",
		}
		g.Go(func() error {
			resp, err := s.post(ctx, q)
			if err != nil {
				return fmt.Errorf("vertical %s: %w", v.Key, err)
			}
			counts[i].Count = int(resp.Primary.RelevantResults.TotalRows)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return counts, nil
}

// QueryLanguages implements extension.SearchService.
func (s *SharePointService) QueryLanguages(context.Context) ([]extension.QueryLanguage, error) {
	namer := display.Tags(language.English)
	out := make([]extension.QueryLanguage, 0, len(queryLanguageTags))
	for _, l := range queryLanguageTags {
		out = append(out, extension.QueryLanguage{
			Name: namer.Name(language.MustParse(l.tag)),
			LCID: l.lcid,
		})
	}
	return out, nil
}

// HashKey implements extension.SearchService.
func (s *SharePointService) HashKey() string {
	return s.hashKey(SharePointDatasourceName)
}

type spResponse struct {
	Primary   spQueryResult   `json:"PrimaryQueryResult"`
	Secondary []spQueryResult `json:"SecondaryQueryResults"`
}

type spQueryResult struct {
	RelevantResults   spRelevantResults   `json:"RelevantResults"`
	RefinementResults spRefinementResults `json:"RefinementResults"`
}

type spRelevantResults struct {
	TotalRows flexInt `json:"TotalRows"`
	Table     struct {
		Rows []struct {
			Cells []struct {
				Key   string `json:"Key"`
				Value any    `json:"Value"`
			} `json:"Cells"`
		} `json:"Rows"`
	} `json:"Table"`
}

func (r spRelevantResults) items() []map[string]any {
	out := make([]map[string]any, 0, len(r.Table.Rows))
	for _, row := range r.Table.Rows {
		item := make(map[string]any, len(row.Cells))
		for _, cell := range row.Cells {
			item[cell.Key] = cell.Value
		}
		out = append(out, item)
	}
	return out
}

type spRefinementResults struct {
	Refiners []struct {
		Name    string `json:"Name"`
		Entries []struct {
			RefinementCount flexInt `json:"RefinementCount"`
			RefinementName  string  `json:"RefinementName"`
			RefinementToken string  `json:"RefinementToken"`
			RefinementValue string  `json:"RefinementValue"`
		} `json:"Entries"`
	} `json:"Refiners"`
}

func (r spRefinementResults) results() []extension.RefinementResult {
	out := make([]extension.RefinementResult, 0, len(r.Refiners))
	for _, refiner := range r.Refiners {
		res := extension.RefinementResult{FilterName: refiner.Name}
		for _, e := range refiner.Entries {
			res.Values = append(res.Values, extension.RefinementValue{
				RefinementCount: int(e.RefinementCount),
				RefinementName:  e.RefinementName,
				RefinementToken: e.RefinementToken,
				RefinementValue: e.RefinementValue,
			})
		}
		out = append(out, res)
	}
	return out
}

// flexInt decodes numbers sent either as JSON numbers or as strings.
type flexInt int64

func (f *flexInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid number %s: %w", data, err)
	}
	*f = flexInt(n)
	return nil
}

var _ json.Unmarshaler = (*flexInt)(nil)
