package graph

import "time"

// Profile is the authenticated Microsoft user.
type Profile struct {
	ID                string
	DisplayName       string
	UserPrincipalName string
	Mail              string
}

// Drive is the user's OneDrive metadata, used as a provisioning check.
type Drive struct {
	ID        string
	DriveType string
}

// Item is a normalized drive item (file or folder). Raw Graph JSON never
// leaves this package.
type Item struct {
	ID         string
	Name       string
	Size       int64
	ETag       string
	MimeType   string
	IsFolder   bool
	CreatedAt  time.Time
	ModifiedAt time.Time
}

// File is a file discovered by recursive enumeration, with its compound
// path relative to the drive root.
type File struct {
	ID       string
	Name     string
	Path     string
	Size     int64
	MimeType string
	ETag     string
}

// Raw response structures mirroring the Graph API JSON.

type profileResponse struct {
	ID                string `json:"id"`
	DisplayName       string `json:"displayName"`
	UserPrincipalName string `json:"userPrincipalName"`
	Mail              string `json:"mail"`
}

type driveResponse struct {
	ID        string `json:"id"`
	DriveType string `json:"driveType"`
}

type driveItemResponse struct {
	ID                   string       `json:"id"`
	Name                 string       `json:"name"`
	Size                 int64        `json:"size"`
	ETag                 string       `json:"eTag"`
	CreatedDateTime      string       `json:"createdDateTime"`
	LastModifiedDateTime string       `json:"lastModifiedDateTime"`
	File                 *fileFacet   `json:"file"`
	Folder               *folderFacet `json:"folder"`
}

type fileFacet struct {
	MimeType string `json:"mimeType"`
}

type folderFacet struct {
	ChildCount int `json:"childCount"`
}

type listResponse struct {
	Value    []driveItemResponse `json:"value"`
	NextLink string              `json:"@odata.nextLink"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// toItem normalizes a raw drive item.
func (d *driveItemResponse) toItem() Item {
	item := Item{
		ID:       d.ID,
		Name:     d.Name,
		Size:     d.Size,
		ETag:     d.ETag,
		IsFolder: d.Folder != nil,
	}
	if d.File != nil {
		item.MimeType = d.File.MimeType
	}
	// Timestamps are best-effort; a zero time means the API omitted or
	// mangled the field.
	if t, err := time.Parse(time.RFC3339, d.CreatedDateTime); err == nil {
		item.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, d.LastModifiedDateTime); err == nil {
		item.ModifiedAt = t
	}
	return item
}
