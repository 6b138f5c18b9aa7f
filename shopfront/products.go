package shopfront

import (
	"context"
	"fmt"
)

const productsQuery = `
query products($first: Int!, $after: String) {
  products(first: $first, after: $after) {
    pageInfo { hasNextPage endCursor }
    edges {
      node {
        id
        title
        handle
        onlineStoreUrl
        images(first: 1) { edges { node { url } } }
      }
    }
  }
}`

type productsPage struct {
	Products struct {
		PageInfo struct {
			HasNextPage bool   `json:"hasNextPage"`
			EndCursor   string `json:"endCursor"`
		} `json:"pageInfo"`
		Edges []struct {
			Node struct {
				ID             string `json:"id"`
				Title          string `json:"title"`
				Handle         string `json:"handle"`
				OnlineStoreURL string `json:"onlineStoreUrl"`
				Images         struct {
					Edges []struct {
						Node struct {
							URL string `json:"url"`
						} `json:"node"`
					} `json:"edges"`
				} `json:"images"`
			} `json:"node"`
		} `json:"edges"`
	} `json:"products"`
}

// Products pages through the catalog, 50 per page, and returns two lookups
// keyed by product title: canonical URL and first image URL. A product with
// no public URL gets the reconstructed /products/{handle} path.
func (c *Client) Products(ctx context.Context) (urls, images map[string]string, err error) {
	urls = make(map[string]string)
	images = make(map[string]string)

	var cursor string
	for {
		vars := map[string]any{"first": pageSize}
		if cursor != "" {
			vars["after"] = cursor
		}
		var page productsPage
		if err := c.do(ctx, productsQuery, vars, &page); err != nil {
			return nil, nil, err
		}

		for _, e := range page.Products.Edges {
			n := e.Node
			url := n.OnlineStoreURL
			if url == "" {
				url = fmt.Sprintf("/products/%s", n.Handle)
			}
			urls[n.Title] = url
			if len(n.Images.Edges) > 0 {
				images[n.Title] = n.Images.Edges[0].Node.URL
			}
		}

		if !page.Products.PageInfo.HasNextPage {
			break
		}
		cursor = page.Products.PageInfo.EndCursor
	}
	return urls, images, nil
}
