package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// SearchRequest selects one page of search results
type SearchRequest struct {
	Text string
	From int
	Size int
}

// SearchPage is one page of search results
type SearchPage struct {
	// Total is the number of results the registry reports for the query.
	// It may change between pages.
	Total int
	Names []string
}

type searchResponse struct {
	Total   *int `json:"total"`
	Objects *[]struct {
		Package struct {
			Name string `json:"name"`
		} `json:"package"`
	} `json:"objects"`
}

// Search fetches a page of results for req.Text starting at req.From
func (c *Client) Search(ctx context.Context, req SearchRequest) (*SearchPage, error) {
	var page *SearchPage
	err := c.call(ctx, c.timeout, func(ctx context.Context) error {
		started := time.Now()
		resp, err := c.request(ctx, c.searchURL).
			SetHeader("Accept", "application/json").
			SetQueryParams(map[string]string{
				"text": req.Text,
				"size": strconv.Itoa(req.Size),
				"from": strconv.Itoa(req.From),
			}).
			Get(c.searchURL)
		c.logRequest("GET", c.searchURL, resp, started)
		if err != nil {
			return transportError("search", req.Text, err)
		}
		if err := statusError("search", req.Text, resp.StatusCode(), resp.Body()); err != nil {
			return err
		}

		page, err = decodeSearch(resp.Body())
		if err != nil {
			return decodeError("search", req.Text, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

func decodeSearch(body []byte) (*SearchPage, error) {
	var sr searchResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return nil, err
	}
	if sr.Total == nil {
		return nil, fmt.Errorf("%w: total", errMissingField)
	}
	if sr.Objects == nil {
		return nil, fmt.Errorf("%w: objects", errMissingField)
	}

	page := &SearchPage{Total: *sr.Total, Names: make([]string, 0, len(*sr.Objects))}
	for _, obj := range *sr.Objects {
		if obj.Package.Name == "" {
			continue
		}
		page.Names = append(page.Names, obj.Package.Name)
	}
	return page, nil
}

// Count returns the total number of results for text
func (c *Client) Count(ctx context.Context, text string) (int, error) {
	page, err := c.Search(ctx, SearchRequest{Text: text, From: 0, Size: 1})
	if err != nil {
		return 0, err
	}
	return page.Total, nil
}

