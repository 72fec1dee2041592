// Package bindings exposes the analysis service endpoints as plain,
// stateless functions on a Client.
package bindings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"net/url"

	"github.com/julianshen/coverclient/internal/routes"
	"github.com/julianshen/coverclient/internal/transport"
	"github.com/julianshen/coverclient/pkg/cover"
)

// Options configures the underlying transport.
type Options = transport.Options

// Client calls the analysis service. It holds no per-analysis state, so one
// Client can serve any number of analyses.
type Client struct {
	transport *transport.Client
}

// New creates a Client.
func New(opts Options) *Client {
	return &Client{transport: transport.New(opts)}
}

// GetAPIVersion returns the version reported by the service.
func (c *Client) GetAPIVersion(ctx context.Context, apiURL string) (*cover.VersionResponse, error) {
	u, err := routes.Version(apiURL)
	if err != nil {
		return nil, err
	}
	var out cover.VersionResponse
	if err := c.transport.Get(ctx, u, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetDefaultSettings returns the settings the service applies when none
// are supplied.
func (c *Client) GetDefaultSettings(ctx context.Context, apiURL string) (*cover.Settings, error) {
	u, err := routes.DefaultSettings(apiURL)
	if err != nil {
		return nil, err
	}
	var out cover.Settings
	if err := c.transport.Get(ctx, u, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StartAnalysis uploads the build artifacts and settings as a multipart
// form and returns the new analysis id.
func (c *Client) StartAnalysis(ctx context.Context, apiURL string, files cover.Files, settings *cover.Settings) (*cover.StartResponse, error) {
	if files.Build == nil {
		return nil, &cover.BindingsError{Code: cover.CodeBuildMissing, Message: "the required build JAR file was not supplied"}
	}
	if settings == nil {
		return nil, &cover.BindingsError{Code: cover.CodeSettingsMissing, Message: "the required settings were not supplied"}
	}
	settingsJSON, err := json.Marshal(settings)
	if err != nil {
		return nil, &cover.BindingsError{Code: cover.CodeSettingsInvalid, Message: "encode settings", Err: err}
	}

	u, err := routes.Start(apiURL)
	if err != nil {
		return nil, err
	}

	parts := []formPart{
		{field: "build", filename: "build.jar", contentType: "application/java-archive", body: files.Build},
		{field: "settings", filename: "settings.json", contentType: "application/json", body: bytes.NewReader(settingsJSON)},
	}
	if files.BaseBuild != nil {
		parts = append(parts, formPart{field: "baseBuild", filename: "baseBuild.jar", contentType: "application/java-archive", body: files.BaseBuild})
	}
	if files.DependenciesBuild != nil {
		parts = append(parts, formPart{field: "dependenciesBuild", filename: "dependenciesBuild.jar", contentType: "application/java-archive", body: files.DependenciesBuild})
	}

	body, contentType := streamForm(parts)
	defer body.Close()

	var out cover.StartResponse
	if err := c.transport.Post(ctx, u, contentType, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetAnalysisResults fetches results produced since cursor. An empty cursor
// fetches from the beginning.
func (c *Client) GetAnalysisResults(ctx context.Context, apiURL, id string, cursor cover.Cursor) (*cover.ResultsResponse, error) {
	u, err := routes.Results(apiURL, id)
	if err != nil {
		return nil, err
	}
	var query url.Values
	if cursor != "" {
		query = url.Values{"cursor": {string(cursor)}}
	}
	var out cover.ResultsResponse
	if err := c.transport.Get(ctx, u, query, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetAnalysisStatus fetches the status of an analysis.
func (c *Client) GetAnalysisStatus(ctx context.Context, apiURL, id string) (*cover.StatusResponse, error) {
	u, err := routes.Status(apiURL, id)
	if err != nil {
		return nil, err
	}
	var out cover.StatusResponse
	if err := c.transport.Get(ctx, u, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CancelAnalysis asks the service to stop an analysis.
func (c *Client) CancelAnalysis(ctx context.Context, apiURL, id string) (*cover.CancelResponse, error) {
	u, err := routes.Cancel(apiURL, id)
	if err != nil {
		return nil, err
	}
	var out cover.CancelResponse
	if err := c.transport.Post(ctx, u, "", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type formPart struct {
	field       string
	filename    string
	contentType string
	body        io.Reader
}

// streamForm writes parts to a pipe in the background so large builds are
// never held in memory.
func streamForm(parts []formPart) (io.ReadCloser, string) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		for _, p := range parts {
			h := make(textproto.MIMEHeader)
			h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, p.field, p.filename))
			h.Set("Content-Type", p.contentType)
			w, err := mw.CreatePart(h)
			if err != nil {
				pw.CloseWithError(err)
				return
			}
			if _, err := io.Copy(w, p.body); err != nil {
				pw.CloseWithError(fmt.Errorf("write %s: %w", p.field, err))
				return
			}
		}
		pw.CloseWithError(mw.Close())
	}()

	return pr, mw.FormDataContentType()
}
