package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// ============================================================
// PostgREST helpers
// ============================================================

// selectRows runs a GET on a table and decodes the JSON array into out.
// When count is true, the total row count is read from Content-Range.
func (c *Client) selectRows(ctx context.Context, table string, q url.Values, count bool, out any) (int, error) {
	req := request{method: http.MethodGet, api: "rest/v1", path: table, query: q}
	if count {
		req.headers = map[string]string{"Prefer": "count=exact"}
	}
	resp, err := c.execute(ctx, "supabase/"+table, req)
	if err != nil {
		return 0, err
	}
	if len(resp.body) > 0 {
		if err := json.Unmarshal(resp.body, out); err != nil {
			return 0, fmt.Errorf("decode %s: %w", table, err)
		}
	}
	if !count {
		return 0, nil
	}
	return parseContentRange(resp.header.Get("Content-Range")), nil
}

// fetchPageSize is requested per round trip. The project may cap it lower
// (PostgREST max-rows), so selectAll pages by what actually came back.
const fetchPageSize = 1000

// selectAll reads every row matched by q, one page at a time, until the
// exact count is reached or an empty page comes back.
func selectAll[T any](ctx context.Context, c *Client, table string, q url.Values) ([]T, error) {
	order := q.Get("order")
	switch {
	case order == "":
		q.Set("order", "id.asc")
	case !strings.Contains(order, "id."):
		q.Set("order", order+",id.asc")
	}

	var all []T
	for {
		q.Set("limit", strconv.Itoa(fetchPageSize))
		q.Set("offset", strconv.Itoa(len(all)))

		var page []T
		total, err := c.selectRows(ctx, table, q, true, &page)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) == 0 || (total > 0 && len(all) >= total) {
			return all, nil
		}
	}
}

// insertRow posts a row and decodes the returned representation into out.
func (c *Client) insertRow(ctx context.Context, table string, row any, out any) error {
	return c.writeRows(ctx, http.MethodPost, table, nil, row, out, nil)
}

// updateRows patches the rows matched by q and decodes the result into out.
func (c *Client) updateRows(ctx context.Context, table string, q url.Values, updates map[string]any, out any) error {
	return c.writeRows(ctx, http.MethodPatch, table, q, updates, out, nil)
}

// upsertRow inserts or merges a row on its primary key.
func (c *Client) upsertRow(ctx context.Context, table string, row any) error {
	return c.writeRows(ctx, http.MethodPost, table, nil, row, nil, map[string]string{
		"Prefer": "resolution=merge-duplicates,return=minimal",
	})
}

func (c *Client) writeRows(ctx context.Context, method, table string, q url.Values, data any, out any, headers map[string]string) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if headers == nil {
		headers = map[string]string{"Prefer": "return=representation"}
	}
	resp, err := c.execute(ctx, "supabase/"+table, request{
		method:  method,
		api:     "rest/v1",
		path:    table,
		query:   q,
		body:    payload,
		headers: headers,
	})
	if err != nil {
		return err
	}
	if out == nil || len(resp.body) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.body, out); err != nil {
		return fmt.Errorf("decode %s: %w", table, err)
	}
	return nil
}

// deleteRows removes the rows matched by q.
func (c *Client) deleteRows(ctx context.Context, table string, q url.Values) error {
	_, err := c.execute(ctx, "supabase/"+table, request{
		method: http.MethodDelete,
		api:    "rest/v1",
		path:   table,
		query:  q,
	})
	return err
}

// Ping checks that PostgREST answers with the configured keys.
func (c *Client) Ping(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Supabase.Ping")
	defer span.End()

	var rows []map[string]any
	_, err := c.selectRows(ctx, "profiles", url.Values{"select": {"id"}, "limit": {"1"}}, false, &rows)
	return err
}

// parseContentRange reads the total from a PostgREST "0-19/57" header.
func parseContentRange(h string) int {
	i := strings.LastIndex(h, "/")
	if i < 0 {
		return 0
	}
	n, err := strconv.Atoi(h[i+1:])
	if err != nil {
		return 0
	}
	return n
}

// pageQuery adds limit/offset for a 1-based page.
func pageQuery(q url.Values, page, pageSize int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	q.Set("limit", strconv.Itoa(pageSize))
	q.Set("offset", strconv.Itoa((page-1)*pageSize))
}

// ilikePattern wraps a search term in ilike wildcards for a plain filter
// parameter, where reserved characters need no escaping.
func ilikePattern(term string) string {
	return "*" + strings.TrimSpace(term) + "*"
}

// quoteValue renders v as a double-quoted PostgREST value so commas,
// parentheses and quotes survive inside or=(...) and and(...) trees.
func quoteValue(v string) string {
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(v) + `"`
}

// nullable maps empty strings to SQL NULL so date and unique columns accept them.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func joinConds(conds []string) string {
	return strings.Join(conds, ",")
}

// nullableMap applies nullable to every string value of an update set.
func nullableMap(updates map[string]any) map[string]any {
	out := make(map[string]any, len(updates))
	for k, v := range updates {
		if s, ok := v.(string); ok {
			out[k] = nullable(s)
			continue
		}
		out[k] = v
	}
	return out
}
