package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// GetProfile returns the authenticated user's profile.
func (c *Client) GetProfile(ctx context.Context) (*Profile, error) {
	body, err := c.get(ctx, "/me")
	if err != nil {
		return nil, err
	}

	var pr profileResponse
	if err := json.Unmarshal(body, &pr); err != nil {
		return nil, fmt.Errorf("failed to decode profile: %w", err)
	}

	return &Profile{
		ID:                pr.ID,
		DisplayName:       pr.DisplayName,
		UserPrincipalName: pr.UserPrincipalName,
		Mail:              pr.Mail,
	}, nil
}

// GetDrive checks that OneDrive for Business is provisioned for the user.
// A 403 mentioning the personal site gets a friendlier message, since newly
// licensed tenants hit it until provisioning finishes.
func (c *Client) GetDrive(ctx context.Context) (*Drive, error) {
	body, err := c.get(ctx, "/me/drive")
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusForbidden &&
			strings.Contains(strings.ToLower(apiErr.Message), "personal site") {
			return nil, &APIError{
				StatusCode: apiErr.StatusCode,
				Message: "OneDrive for Business not provisioned. Visit office.com, " +
					"open OneDrive once, and wait 10-15 minutes for provisioning",
			}
		}
		return nil, err
	}

	var dr driveResponse
	if err := json.Unmarshal(body, &dr); err != nil {
		return nil, fmt.Errorf("failed to decode drive: %w", err)
	}

	return &Drive{ID: dr.ID, DriveType: dr.DriveType}, nil
}

// ListRoot lists the items in the OneDrive root folder.
func (c *Client) ListRoot(ctx context.Context) ([]Item, error) {
	if _, err := c.GetDrive(ctx); err != nil {
		return nil, err
	}
	return c.listAll(ctx, "/me/drive/root/children")
}

// ListFolder lists the items in a folder addressed by path. An empty path
// means the drive root.
func (c *Client) ListFolder(ctx context.Context, folderPath string) ([]Item, error) {
	trimmed := strings.Trim(folderPath, "/")
	if trimmed == "" {
		return c.listAll(ctx, "/me/drive/root/children")
	}
	return c.listAll(ctx, fmt.Sprintf("/me/drive/root:/%s:/children", encodePathSegments(trimmed)))
}

// ListFolderByID lists the items in a folder addressed by item ID.
func (c *Client) ListFolderByID(ctx context.Context, folderID string) ([]Item, error) {
	return c.listAll(ctx, fmt.Sprintf("/me/drive/items/%s/children", url.PathEscape(folderID)))
}

// GetItem retrieves a single item's metadata by ID.
func (c *Client) GetItem(ctx context.Context, itemID string) (*Item, error) {
	body, err := c.get(ctx, fmt.Sprintf("/me/drive/items/%s", url.PathEscape(itemID)))
	if err != nil {
		return nil, err
	}

	var dir driveItemResponse
	if err := json.Unmarshal(body, &dir); err != nil {
		return nil, fmt.Errorf("failed to decode item: %w", err)
	}

	item := dir.toItem()
	return &item, nil
}

// Download fetches file content by item ID. Uses the long-timeout client.
func (c *Client) Download(ctx context.Context, itemID string) ([]byte, error) {
	return c.do(ctx, c.downloadClient,
		fmt.Sprintf("/me/drive/items/%s/content", url.PathEscape(itemID)))
}

// Search finds files matching a query string.
func (c *Client) Search(ctx context.Context, query string) ([]Item, error) {
	escaped := strings.ReplaceAll(query, "'", "''")
	return c.listAll(ctx, fmt.Sprintf("/me/drive/root/search(q='%s')", url.PathEscape(escaped)))
}

// listAll pages through a collection endpoint, following @odata.nextLink.
func (c *Client) listAll(ctx context.Context, path string) ([]Item, error) {
	var items []Item

	for path != "" {
		body, err := c.get(ctx, path)
		if err != nil {
			return nil, err
		}

		var lr listResponse
		if err := json.Unmarshal(body, &lr); err != nil {
			return nil, fmt.Errorf("failed to decode listing: %w", err)
		}

		for i := range lr.Value {
			items = append(items, lr.Value[i].toItem())
		}

		path = strings.TrimPrefix(lr.NextLink, c.baseURL)
		if path == lr.NextLink {
			// nextLink pointing outside our base URL; stop rather than loop
			path = ""
		}
	}

	return items, nil
}

// encodePathSegments URL-encodes each segment of a slash-separated path so
// names with spaces or reserved characters survive interpolation.
func encodePathSegments(path string) string {
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return strings.Join(segments, "/")
}
