// Package google implements the drive ports on top of the Google Drive v3 API.
package google

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	drivev3 "google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"expensia/internal/drive"
)

const (
	jsonMIME = "application/json"

	// Backups are small JSON documents; anything larger is not ours.
	maxDownloadBytes = 32 << 20
)

type Client struct {
	svc *drivev3.Service
}

var (
	_ drive.FileStore = (*Client)(nil)
	_ drive.Prober    = (*Client)(nil)
)

// New builds a client that authorizes every call with a bearer token from ts.
// The token is fetched per request rather than cached by the transport, so a
// cleared or replaced credential takes effect immediately. Extra options are
// appended, which lets tests point at a local endpoint.
func New(ctx context.Context, ts oauth2.TokenSource, opts ...option.ClientOption) (*Client, error) {
	hc := &http.Client{Transport: &oauth2.Transport{Source: ts, Base: http.DefaultTransport}}
	all := append([]option.ClientOption{option.WithHTTPClient(hc)}, opts...)
	svc, err := drivev3.NewService(ctx, all...)
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}
	return &Client{svc: svc}, nil
}

// List pages through all matching, non-trashed files ordered by creation
// time, newest first.
func (c *Client) List(ctx context.Context, nameContains string) ([]drive.File, error) {
	q := fmt.Sprintf("name contains '%s' and trashed = false", escapeQuery(nameContains))

	var out []drive.File
	err := c.svc.Files.List().
		Q(q).
		OrderBy("createdTime desc").
		Fields("nextPageToken", "files(id,name,createdTime,size)").
		PageSize(100).
		Pages(ctx, func(page *drivev3.FileList) error {
			for _, f := range page.Files {
				out = append(out, toFile(f))
			}
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	return out, nil
}

// Upload creates the file in a single multipart request so the remote never
// holds a partial object.
func (c *Client) Upload(ctx context.Context, name string, content []byte) (drive.File, error) {
	meta := &drivev3.File{Name: name, MimeType: jsonMIME}
	created, err := c.svc.Files.Create(meta).
		Media(bytes.NewReader(content), googleapi.ContentType(jsonMIME), googleapi.ChunkSize(0)).
		Fields("id", "name", "createdTime", "size").
		Context(ctx).
		Do()
	if err != nil {
		return drive.File{}, fmt.Errorf("upload %s: %w", name, err)
	}

	slog.InfoContext(ctx, "Uploaded file to Google Drive",
		"file_id", created.Id,
		"name", created.Name,
		"bytes", len(content))

	return toFile(created), nil
}

func (c *Client) Download(ctx context.Context, id string) ([]byte, error) {
	resp, err := c.svc.Files.Get(id).Context(ctx).Download()
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", id, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", id, err)
	}
	if len(body) > maxDownloadBytes {
		return nil, fmt.Errorf("download %s: file exceeds %d bytes", id, maxDownloadBytes)
	}
	return body, nil
}

func (c *Client) Delete(ctx context.Context, id string) error {
	if err := c.svc.Files.Delete(id).Context(ctx).Do(); err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	return nil
}

// Probe fetches the account owner, the cheapest authorized call.
func (c *Client) Probe(ctx context.Context) error {
	about, err := c.svc.About.Get().Fields("user").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("probe credential: %w", err)
	}
	if about.User != nil {
		slog.DebugContext(ctx, "Credential probe succeeded", "user", about.User.EmailAddress)
	}
	return nil
}

func toFile(f *drivev3.File) drive.File {
	out := drive.File{ID: f.Id, Name: f.Name, Size: f.Size}
	if t, err := time.Parse(time.RFC3339, f.CreatedTime); err == nil {
		out.CreatedTime = t
	}
	return out
}

func escapeQuery(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}
