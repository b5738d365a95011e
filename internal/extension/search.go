package extension

import "context"

// SearchService is the contract every data source satisfies, the built-in
// ones included.
type SearchService interface {
	Search(ctx context.Context, params SearchParams) (*SearchResults, error)
	Suggest(ctx context.Context, query string) ([]string, error)
	Configuration() SearchConfiguration
	ManagedProperties(ctx context.Context) ([]ManagedPropertyInfo, error)
	ValidateSortableProperty(ctx context.Context, property string) (bool, error)
	VerticalCounts(ctx context.Context, queryText string, verticals []Vertical) ([]VerticalInformation, error)
	QueryLanguages(ctx context.Context) ([]QueryLanguage, error)
	HashKey() string

	UseOldIcons() bool
	SetUseOldIcons(v bool)
}

// CommonSearchProps are shared by all data sources.
type CommonSearchProps struct {
	QueryKeywords         string         `json:"queryKeywords" yaml:"queryKeywords"`
	QueryTemplate         string         `json:"queryTemplate" yaml:"queryTemplate"`
	DefaultSearchQuery    string         `json:"defaultSearchQuery" yaml:"defaultSearchQuery"`
	UseDefaultSearchQuery bool           `json:"useDefaultSearchQuery" yaml:"useDefaultSearchQuery"`
	SearchQueryLanguage   int            `json:"searchQueryLanguage" yaml:"searchQueryLanguage"`
	SelectedProperties    []string       `json:"selectedProperties" yaml:"selectedProperties"`
	SortList              []Sort         `json:"sortList" yaml:"sortList"`
	Name                  string         `json:"name,omitempty" yaml:"name,omitempty"`
	Params                map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

// SortDirection orders a sort field.
type SortDirection int

const (
	SortAscending SortDirection = iota
	SortDescending
)

type Sort struct {
	Property  string        `json:"property" yaml:"property"`
	Direction SortDirection `json:"direction" yaml:"direction"`
}

// RefinerSortOption selects how refiner buckets are ordered.
type RefinerSortOption int

const (
	RefinerSortByNumberOfResults RefinerSortOption = iota
	RefinerSortAlphabetical
)

type RefinerConfiguration struct {
	RefinerName    string            `json:"refinerName" yaml:"refinerName"`
	DisplayValue   string            `json:"displayValue" yaml:"displayValue"`
	SortType       RefinerSortOption `json:"refinerSortType" yaml:"refinerSortType"`
	SortDescending bool              `json:"refinerSortDescending" yaml:"refinerSortDescending"`
}

// SearchConfiguration is the data source's configuration contract.
type SearchConfiguration struct {
	ResultsCount      int                    `json:"resultsCount" yaml:"resultsCount"`
	Config            CommonSearchProps      `json:"config" yaml:"config"`
	Refiners          []RefinerConfiguration `json:"refiners,omitempty" yaml:"refiners,omitempty"`
	RefinementFilters []string               `json:"refinementFilters,omitempty" yaml:"refinementFilters,omitempty"`
	SynonymTable      map[string][]string    `json:"synonymTable,omitempty" yaml:"synonymTable,omitempty"`
	QueryCulture      int                    `json:"queryCulture" yaml:"queryCulture"`
	TimeZoneID        int                    `json:"timeZoneId,omitempty" yaml:"timeZoneId,omitempty"`
	ResultSourceID    string                 `json:"resultSourceId,omitempty" yaml:"resultSourceId,omitempty"`
	EnableQueryRules  bool                   `json:"enableQueryRules,omitempty" yaml:"enableQueryRules,omitempty"`
	IncludeOneDrive   bool                   `json:"includeOneDriveResults,omitempty" yaml:"includeOneDriveResults,omitempty"`
	EntityTypes       []string               `json:"entityTypes,omitempty" yaml:"entityTypes,omitempty"`
	QueryModifier     QueryModifierInstance  `json:"-" yaml:"-"`
}

type SearchParams struct {
	QueryText  string `json:"queryText"`
	PageNumber int    `json:"pageNumber"`
}

type RefinementValue struct {
	RefinementCount int    `json:"RefinementCount"`
	RefinementName  string `json:"RefinementName"`
	RefinementToken string `json:"RefinementToken"`
	RefinementValue string `json:"RefinementValue"`
}

type RefinementResult struct {
	FilterName string            `json:"FilterName"`
	Values     []RefinementValue `json:"Values"`
}

type PaginationInformation struct {
	CurrentPage       int `json:"CurrentPage"`
	MaxResultsPerPage int `json:"MaxResultsPerPage"`
	TotalRows         int `json:"TotalRows"`
}

type SearchResults struct {
	QueryKeywords         string                `json:"QueryKeywords"`
	RelevantResults       []map[string]any      `json:"RelevantResults"`
	SecondaryResults      []map[string]any      `json:"SecondaryResults"`
	RefinementResults     []RefinementResult    `json:"RefinementResults"`
	PaginationInformation PaginationInformation `json:"PaginationInformation"`
}

type ManagedPropertyInfo struct {
	Name     string `json:"name"`
	Sortable bool   `json:"sortable"`
}

type Vertical struct {
	Key           string            `json:"key"`
	TabName       string            `json:"tabName"`
	IconName      string            `json:"iconName,omitempty"`
	Count         int               `json:"count,omitempty"`
	IsLink        bool              `json:"isLink"`
	LinkURL       string            `json:"linkUrl"`
	Configuration CommonSearchProps `json:"configuration"`
}

type VerticalInformation struct {
	VerticalKey string `json:"VerticalKey"`
	Count       int    `json:"Count"`
}

type QueryLanguage struct {
	Name string `json:"name"`
	LCID int    `json:"lcid"`
}
