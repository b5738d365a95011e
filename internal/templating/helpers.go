package templating

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/aymerick/raymond"
	"github.com/davecgh/go-spew/spew"
)

// Count messages rendered by getCountMessage.
const (
	CountMessageLong  = "<b>%s</b> results for '<em>%s</em>'"
	CountMessageShort = "<b>%s</b> results"
)

var officeExtensions = setOf("doc", "docm", "docx", "dotx", "odp", "ods", "odt", "pot", "potm", "potx",
	"pps", "ppsx", "ppt", "pptm", "pptx", "rtf", "xls", "xlsb", "xlsm", "xlsx", "eml", "msg", "pdf", "vsd", "vsdx")

// File types the thumbnail service renders previews for.
var thumbnailExtensions = setOf("doc", "docm", "docx", "dotm", "dotx", "pot", "potm", "potx", "pps",
	"ppsm", "ppsx", "ppt", "pptm", "pptx", "xls", "xlsb", "xlsx", "3g2", "3gp", "3mf", "ai", "arw", "asf",
	"bas", "bmp", "cr2", "crw", "cur", "dcm", "dng", "dwg", "eml", "epub", "erf", "gif", "glb", "gltf",
	"hcp", "htm", "html", "ico", "icon", "jpg", "key", "log", "m", "m2ts", "m4v", "markdown", "md", "mef",
	"mov", "movie", "mp4", "mp4v", "mrw", "msg", "mts", "nef", "nrw", "odp", "ods", "odt", "orf", "pages",
	"pano", "pdf", "pef", "pict", "ply", "png", "psb", "psd", "rtf", "sketch", "stl", "svg", "tif", "tiff",
	"ts", "wmv", "xbm", "xcf", "xd", "xpm", "gitconfig", "abap", "ada", "adp", "ahk", "as", "as3", "asc",
	"ascx", "asm", "asp", "awk", "bash", "bash_login", "bash_logout", "bash_profile", "bashrc", "bat",
	"bib", "bsh", "build", "builder", "c", "capfile", "cbl", "cc", "cfc", "cfm", "cfml", "cl", "clj",
	"cls", "cmake", "cmd", "coffee", "cpp", "cpt", "cpy", "cs", "cshtml", "cson", "csproj", "css", "ctp",
	"cxx", "d", "ddl", "di.dif", "diff", "disco", "dml", "dtd", "dtml", "el", "emakefile", "erb", "erl",
	"f", "f90", "f95", "fs", "fsi", "fsscript", "fsx", "gemfile", "gemspec", "go", "groovy", "gvy", "h",
	"h++", "haml", "handlebars", "hh", "hpp", "hrl", "hs", "htc", "hxx", "idl", "iim", "inc", "inf",
	"ini", "inl", "ipp", "irbrc", "jade", "jav", "java", "js", "json", "jsp", "jsx", "l", "less", "lhs",
	"lisp", "lst", "ltx", "lua", "make", "markdn", "mdown", "mkdn", "ml", "mli", "mll", "mly", "mm", "mud",
	"nfo", "opml", "osascript", "out", "p", "pas", "patch", "php", "php2", "php3", "php4", "php5", "pl",
	"plist", "pm", "pod", "pp", "profile", "properties", "ps1", "pt", "py", "pyw", "r", "rake", "rb",
	"rbx", "rc", "re", "reg", "rest", "resw", "resx", "rhtml", "rjs", "rprofile", "rpy", "rss", "rst",
	"rxml", "s", "sass", "scala", "scm", "sconscript", "sconstruct", "script", "scss", "sgml", "sh",
	"shtml", "sml", "sql", "sty", "tcl", "tex", "text", "tld", "tli", "tmpl", "tpl", "txt", "vb", "vi",
	"vim", "wsdl", "xaml", "xhtml", "xoml", "xml", "xsd", "xsl", "xslt", "yaml", "yaws", "yml", "zs",
	"mp3", "fbx", "heic", "jpeg", "hbs", "textile", "c++")

var odspURL = regexp.MustCompile(`^(https?://[^/]*)(.+)/(.+)$`)

var summaryReplacer = strings.NewReplacer("<c0>", "<strong>", "</c0>", "</strong>", "<ddd/>", "&#8230;")

func setOf(values ...string) map[string]bool {
	m := make(map[string]bool, len(values))
	for _, v := range values {
		m[v] = true
	}
	return m
}

// builtinHelpers returns the helpers every template can use.
func (e *Engine) builtinHelpers() map[string]any {
	return map[string]any{
		"isFilterSelected": isFilterSelected,
		"getUrl":           getURL,
		"getPageContext":   e.getPageContext,
		"getAttachments":   getAttachments,
		"getCountMessage":  getCountMessage,
		"getPreviewSrc":    e.getPreviewSrc,
		"getSummary":       getSummary,
		"getDate":          e.getDate,
		"getUrlField":      getURLField,
		"getUniqueCount":   getUniqueCount,
		"getUnique":        getUnique,
		"times":            times,
		"regex":            regex,
		"group":            group,
		"debug":            debugDump,
		"resultTypes":      e.resultTypesHelper,

		"eq":         operator(func(a, b any) bool { return strictEqual(a, b) }),
		"ne":         operator(func(a, b any) bool { return !strictEqual(a, b) }),
		"contains":   operator(containsValue),
		"startsWith": operator(func(prefix, s any) bool { return strings.HasPrefix(str(s), str(prefix)) }),
		"gt":         operator(func(a, b any) bool { return compare(a, b) > 0 }),
		"gte":        operator(func(a, b any) bool { return compare(a, b) >= 0 }),
		"lt":         operator(func(a, b any) bool { return compare(a, b) < 0 }),
		"lte":        operator(func(a, b any) bool { return compare(a, b) <= 0 }),
	}
}

// operator turns a predicate into a block helper rendering its body when
// the predicate holds and its else branch otherwise.
func operator(pred func(a, b any) bool) func(a, b any, options *raymond.Options) raymond.SafeString {
	return func(a, b any, options *raymond.Options) raymond.SafeString {
		if pred(a, b) {
			return raymond.SafeString(options.Fn())
		}
		return raymond.SafeString(options.Inverse())
	}
}

func containsValue(collection, value any) bool {
	if items, ok := toSlice(collection); ok {
		for _, item := range items {
			if strictEqual(item, value) {
				return true
			}
		}
		return false
	}
	if collection == nil {
		return false
	}
	return strings.Contains(str(collection), str(value))
}

// isFilterSelected reports whether filter is among the selected refinement
// values. Usage: {{#if (isFilterSelected this ../selectedValues)}}
func isFilterSelected(filter, selected any) bool {
	values, ok := toSlice(selected)
	if !ok || filter == nil {
		return false
	}
	name := field(filter, "RefinementName")
	value := field(filter, "RefinementValue")
	for _, v := range values {
		if strictEqual(field(v, "RefinementName"), name) && strictEqual(field(v, "RefinementValue"), value) {
			return true
		}
	}
	return false
}

// getURL returns the link of a search result. Usage:
//
//	<a href="{{getUrl item}}">
//	<a href="{{getUrl item forceDirectLink=true}}">
func getURL(item any, options *raymond.Options) raymond.SafeString {
	force := raymond.IsTrue(options.HashProp("forceDirectLink"))
	return raymond.SafeString(strings.ReplaceAll(ResultURL(item, force), "+", "%2B"))
}

// ResultURL picks the link to open for a search result item.
func ResultURL(item any, forceDirectLink bool) string {
	if isEmptyValue(item) {
		return ""
	}
	fileType := strings.ToLower(fieldStr(item, "FileType"))
	defaultURL := fieldStr(item, "DefaultEncodingURL")
	isOfficeDoc := officeExtensions[fileType]
	isLibItem := strings.Contains(fieldStr(item, "contentclass"), "Library")

	switch {
	case fileType == "url" && fieldStr(item, "ShortcutUrl") != "":
		return fieldStr(item, "ShortcutUrl")
	case !forceDirectLink && defaultURL != "" && isLibItem && !isOfficeDoc:
		return odspPreviewURL(defaultURL)
	case defaultURL != "" && isLibItem && !forceDirectLink:
		return defaultURL + "?web=1"
	case fieldStr(item, "ServerRedirectedURL") != "" && !forceDirectLink:
		return fieldStr(item, "ServerRedirectedURL")
	case defaultURL != "" && isLibItem:
		return defaultURL
	case fieldStr(item, "OriginalPath") != "":
		return fieldStr(item, "OriginalPath")
	}
	return fieldStr(item, "Path")
}

// odspPreviewURL builds the document viewer link for a file URL.
func odspPreviewURL(defaultEncodingURL string) string {
	m := odspURL.FindStringSubmatch(defaultEncodingURL)
	if m == nil {
		return ""
	}
	host, path, file := m[1], m[2], m[3]
	return fmt.Sprintf("%s%s/?id=%s/%s&parent=%s", host, path, path, file, path)
}

// getPageContext reads a dotted path from the host page properties.
// Usage: {{getPageContext "user.displayName"}}
func (e *Engine) getPageContext(name string) any {
	if name == "" {
		return ""
	}
	value := lookupPath(e.opts.Host.Properties, name)
	if isEmptyValue(value) {
		return ""
	}
	return value
}

// getAttachments renders its block once per attachment line. Usage:
//
//	{{#getAttachments LinkOfficeChild}}<a href="{{url}}">{{fileName}}</a>{{/getAttachments}}
func getAttachments(value any, options *raymond.Options) raymond.SafeString {
	var b strings.Builder
	for _, line := range strings.Split(str(value), "\n") {
		if line == "" {
			continue
		}
		pos := strings.LastIndex(line, "/")
		if pos == -1 {
			continue
		}
		b.WriteString(options.FnWith(map[string]any{
			"url":      line,
			"fileName": line[pos+1:],
		}))
	}
	return raymond.SafeString(b.String())
}

// getCountMessage renders the result count. Usage:
// {{getCountMessage totalRows keywords}}
func getCountMessage(totalRows, inputQuery any) raymond.SafeString {
	rows := raymond.Escape(str(totalRows))
	if query := str(inputQuery); query != "" {
		return raymond.SafeString(fmt.Sprintf(CountMessageLong, rows, raymond.Escape(query)))
	}
	return raymond.SafeString(fmt.Sprintf(CountMessageShort, rows))
}

// getPreviewSrc returns the preview image of a result. Usage:
// <img src="{{getPreviewSrc item}}"/>
func (e *Engine) getPreviewSrc(item any) raymond.SafeString {
	if isEmptyValue(item) {
		return ""
	}
	fileType := strings.ToLower(fieldStr(item, "FileType"))
	siteID, webID := fieldStr(item, "NormSiteID"), fieldStr(item, "NormWebID")
	listID, uniqueID := fieldStr(item, "NormListID"), fieldStr(item, "NormUniqueID")

	switch {
	case fieldStr(item, "SiteLogo") != "":
		return raymond.SafeString(fieldStr(item, "SiteLogo"))
	case thumbnailExtensions[fileType] && siteID != "" && webID != "" && listID != "" && uniqueID != "":
		return raymond.SafeString(fmt.Sprintf(
			"%s/_api/v2.0/sites/%s,%s/lists/%s/items/%s/driveItem/thumbnails/0/large/content?preferNoRedirect=true",
			e.opts.Host.SiteURL, siteID, webID, listID, uniqueID))
	case fieldStr(item, "PreviewUrl") != "":
		return raymond.SafeString(fieldStr(item, "PreviewUrl"))
	case fieldStr(item, "PictureThumbnailURL") != "":
		return raymond.SafeString(fieldStr(item, "PictureThumbnailURL"))
	}
	return raymond.SafeString(fieldStr(item, "ServerRedirectedPreviewURL"))
}

// getSummary turns hit highlighting markers into markup. Usage:
// <p>{{getSummary HitHighlightedSummary}}</p>
func getSummary(summary any) raymond.SafeString {
	return raymond.SafeString(summaryReplacer.Replace(str(summary)))
}

// getURLField returns the URL or the Title part of a "url, title" value.
// Usage: {{getUrlField MyLinkOWSURLH "Title"}}
func getURLField(urlField any, part string) any {
	value := str(urlField)
	if value == "" {
		return raymond.SafeString("")
	}
	sep := strings.Index(value, ",")
	if sep == -1 {
		return value
	}
	if part == "URL" {
		return value[:sep]
	}
	return strings.TrimSpace(value[sep+1:])
}

// getUniqueCount counts distinct elements, or distinct values of property.
// Usage: {{getUniqueCount items "Title"}}
func getUniqueCount(array any, property string) int {
	items, ok := toSlice(array)
	if !ok || len(items) == 0 {
		return 0
	}
	return len(uniqueBy(items, property))
}

// getUnique returns the distinct elements. Usage:
// {{#each (getUnique items "NewsCategory")}}
func getUnique(array any, property string) any {
	items, ok := toSlice(array)
	if !ok || len(items) == 0 {
		return 0
	}
	return uniqueBy(items, property)
}

// times renders its block n times with the iteration index as context.
// Usage: {{#times 10}}{{this}}{{/times}}
func times(n any, options *raymond.Options) raymond.SafeString {
	count, _ := toNumber(n)
	var b strings.Builder
	for i := 0; i < int(count); i++ {
		b.WriteString(options.FnWith(i))
	}
	return raymond.SafeString(b.String())
}

// regex returns the first match of pattern in s, or "-".
// Usage: {{regex "\d+" Title}}
func regex(pattern string, s any) string {
	rx, err := regexp.Compile(pattern)
	if err != nil {
		return "-"
	}
	m := rx.FindString(str(s))
	if m == "" {
		return "-"
	}
	return m
}

// group renders its block once per distinct value of the "by" property,
// in order of first appearance, with {value, items} as context. Usage:
//
//	{{#group items by="Category"}}<h2>{{value}}</h2>{{#each items}}...{{/each}}{{/group}}
func group(list any, options *raymond.Options) raymond.SafeString {
	items, ok := toSlice(list)
	if !ok {
		return raymond.SafeString(options.Inverse())
	}
	by := options.HashStr("by")

	var order []string
	groups := make(map[string]map[string]any)
	for _, item := range items {
		value := lookupPath(item, by)
		key := str(value)
		g, exists := groups[key]
		if !exists {
			g = map[string]any{"value": value, "items": []any{}}
			groups[key] = g
			order = append(order, key)
		}
		g["items"] = append(g["items"].([]any), item)
	}

	var b strings.Builder
	for _, key := range order {
		b.WriteString(options.FnWith(groups[key]))
	}
	return raymond.SafeString(b.String())
}

var spewConfig = spew.ConfigState{Indent: "  ", DisablePointerAddresses: true, DisableCapacities: true, SortKeys: true}

// debugDump renders a value's structure for template authors.
// Usage: {{debug this}}
func debugDump(value any) raymond.SafeString {
	return raymond.SafeString("<pre>" + raymond.Escape(spewConfig.Sdump(value)) + "</pre>")
}

// logHelperFailure reports a helper failure through the engine logger.
func (e *Engine) logHelperFailure(helper string, err error) {
	e.logger.Warn(context.Background(), err, "Template helper failed", "helper", helper)
}
