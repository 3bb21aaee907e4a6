package registry

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"time"

	errs "pkgmirror/pkg/errors"
)

// ArtifactRequest identifies one tarball to download
type ArtifactRequest struct {
	Name    string
	Version string
	Tarball string
	Shasum  string
}

// Download streams the tarball into w and returns the number of bytes
// written. A checksum mismatch is fatal for the artifact.
func (c *Client) Download(ctx context.Context, req ArtifactRequest, w io.Writer) (int64, error) {
	target := req.Tarball
	if target == "" {
		target = c.TarballURL(req.Name, req.Version)
	}
	item := req.Name + "@" + req.Version

	var written int64
	err := c.call(ctx, c.dlTimeout, func(ctx context.Context) error {
		started := time.Now()
		resp, err := c.request(ctx, target).
			SetDoNotParseResponse(true).
			Get(target)
		c.logRequest("GET", target, resp, started)
		if err != nil {
			return transportError("download", item, err)
		}
		body := resp.RawBody()
		defer body.Close()

		if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
			return statusError("download", item, resp.StatusCode(), readSnippet(body))
		}

		dst := &trackingWriter{w: w}
		var sum hash.Hash
		if req.Shasum != "" {
			sum = sha1.New()
			dst.h = sum
		}

		written, err = io.Copy(dst, body)
		if err != nil {
			if dst.err != nil {
				return &errs.Error{Type: errs.ErrorTypeFatal, Op: "download", Item: item, Message: "writing artifact", Err: dst.err}
			}
			return transportError("download", item, err)
		}
		if sum != nil {
			if got := hex.EncodeToString(sum.Sum(nil)); got != req.Shasum {
				return &errs.Error{
					Type:    errs.ErrorTypeFatal,
					Op:      "download",
					Item:    item,
					Message: fmt.Sprintf("shasum mismatch: expected %s, got %s", req.Shasum, got),
				}
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return written, nil
}

// trackingWriter remembers write errors so they can be told apart from
// network read errors, and feeds the optional hash
type trackingWriter struct {
	w   io.Writer
	h   hash.Hash
	err error
}

func (t *trackingWriter) Write(p []byte) (int, error) {
	n, err := t.w.Write(p)
	if err != nil {
		t.err = err
		return n, err
	}
	if t.h != nil {
		t.h.Write(p[:n])
	}
	return n, nil
}
