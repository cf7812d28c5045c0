package http

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"runtime"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
)

// RouteInfo holds information about a registered route.
type RouteInfo struct {
	Method  string `json:"method"`
	Path    string `json:"path"`
	Handler string `json:"handler"`
}

// RouteStats holds route statistics.
type RouteStats struct {
	Total   int            `json:"total"`
	Methods map[string]int `json:"methods"`
	Routes  []RouteInfo    `json:"routes"`
}

// RouteFilters contains filter options for route listing.
type RouteFilters struct {
	Method string
	Path   string
	SortBy string // path, method or handler
}

// CollectRoutes walks the router and collects all registered routes.
func CollectRoutes(router Router) RouteStats {
	stats := RouteStats{Methods: make(map[string]int)}

	_ = router.Walk(func(method, path string, handler http.Handler) error {
		stats.Routes = append(stats.Routes, RouteInfo{
			Method:  method,
			Path:    path,
			Handler: handlerName(handler),
		})
		stats.Methods[method]++
		stats.Total++
		return nil
	})

	return stats
}

// handlerName returns the short function name of a handler, e.g.
// "handler.(*WorkflowHandler).Get".
func handlerName(handler http.Handler) string {
	v := reflect.ValueOf(handler)
	if v.Kind() == reflect.Func {
		if fn := runtime.FuncForPC(v.Pointer()); fn != nil {
			name := fn.Name()
			if i := strings.LastIndex(name, "/"); i >= 0 {
				name = name[i+1:]
			}
			return strings.TrimSuffix(name, "-fm")
		}
	}
	return fmt.Sprintf("%T", handler)
}

// PrintRoutes prints routes to w as a table, json, csv or simple list.
func PrintRoutes(w io.Writer, stats RouteStats, format string, filters RouteFilters) error {
	routes := filterRoutes(stats.Routes, filters)
	sortRoutes(routes, filters.SortBy)

	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(RouteStats{Total: stats.Total, Methods: stats.Methods, Routes: routes})
	case "simple":
		for _, r := range routes {
			if _, err := fmt.Fprintf(w, "%-8s %s\n", r.Method, r.Path); err != nil {
				return err
			}
		}
		return nil
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Method", "Path", "Handler"})
	for _, r := range routes {
		tw.AppendRow(table.Row{r.Method, r.Path, r.Handler})
	}
	if format == "csv" {
		tw.RenderCSV()
		return nil
	}
	tw.SetStyle(table.StyleRounded)
	tw.AppendFooter(table.Row{"", fmt.Sprintf("%d of %d routes", len(routes), stats.Total), ""})
	tw.Render()
	return nil
}

func filterRoutes(routes []RouteInfo, filters RouteFilters) []RouteInfo {
	filtered := make([]RouteInfo, 0, len(routes))
	for _, r := range routes {
		if filters.Method != "" && !strings.EqualFold(r.Method, filters.Method) {
			continue
		}
		if filters.Path != "" && !strings.Contains(r.Path, filters.Path) {
			continue
		}
		filtered = append(filtered, r)
	}
	return filtered
}

func sortRoutes(routes []RouteInfo, by string) {
	sort.SliceStable(routes, func(i, j int) bool {
		a, b := routes[i], routes[j]
		switch by {
		case "method":
			if a.Method != b.Method {
				return a.Method < b.Method
			}
		case "handler":
			if a.Handler != b.Handler {
				return a.Handler < b.Handler
			}
		}
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		return a.Method < b.Method
	})
}
