package client

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"danmuget/internal/domain"
	errpkg "danmuget/internal/errors"
)

// Fetch retrieves the comment payload for a resolved target in the
// requested encoding. The payload is returned verbatim; an empty body
// is a valid result (an episode with zero comments). A response that
// declares a content type other than the requested one is a permanent
// failure.
func (c *Client) Fetch(ctx context.Context, target domain.ResolvedTarget, format domain.Format) ([]byte, error) {
	query := url.Values{}
	query.Set("format", string(format))

	accept := "application/json"
	if format == domain.FormatXML {
		accept = "application/xml, text/xml"
	}

	path := fmt.Sprintf("/api/v2/comment/%d", target.CommentID)
	data, header, err := c.do(ctx, http.MethodGet, path, query, nil, accept)
	if err != nil {
		return nil, err
	}

	if err := checkContentType(header.Get("Content-Type"), format); err != nil {
		return nil, errpkg.Permanent(err)
	}
	return data, nil
}

func checkContentType(contentType string, format domain.Format) error {
	if contentType == "" {
		// Upstream declared nothing; take the payload as-is.
		return nil
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return fmt.Errorf("unparseable content type %q", contentType)
	}

	want := "json"
	if format == domain.FormatXML {
		want = "xml"
	}
	if !strings.Contains(mediaType, want) {
		return fmt.Errorf("requested %s but upstream responded with %q", format, mediaType)
	}
	return nil
}
