package graph

import (
	"context"
	"strings"
)

// EnumerateAll walks the given folder paths depth-first and collects every
// file. A listing failure in one folder skips that branch only — siblings
// and remaining roots still enumerate (partial results are expected).
func (c *Client) EnumerateAll(ctx context.Context, folderPaths []string, recursive bool) ([]File, error) {
	var files []File

	for _, folderPath := range folderPaths {
		branch, err := c.enumerateFolder(ctx, folderPath, recursive)
		if err != nil {
			logListFailure(folderPath, err)
			continue
		}
		files = append(files, branch...)
	}

	return files, nil
}

// enumerateFolder lists one folder and recurses into subfolders, building
// compound paths parent + "/" + name.
func (c *Client) enumerateFolder(ctx context.Context, folderPath string, recursive bool) ([]File, error) {
	items, err := c.ListFolder(ctx, folderPath)
	if err != nil {
		return nil, err
	}

	base := strings.TrimSuffix(folderPath, "/")

	var files []File
	for _, item := range items {
		childPath := base + "/" + item.Name

		if item.IsFolder {
			if !recursive {
				continue
			}
			branch, err := c.enumerateFolder(ctx, childPath, recursive)
			if err != nil {
				logListFailure(childPath, err)
				continue
			}
			files = append(files, branch...)
			continue
		}

		files = append(files, File{
			ID:       item.ID,
			Name:     item.Name,
			Path:     childPath,
			Size:     item.Size,
			MimeType: item.MimeType,
			ETag:     item.ETag,
		})
	}

	return files, nil
}
