package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// PackageRequest identifies a package
type PackageRequest struct {
	Name string
}

// Version is one published version of a package
type Version struct {
	Version string
	Tarball string
	// Shasum is the hex SHA-1 of the tarball, when the registry provides it
	Shasum string
}

type packument struct {
	Versions *map[string]struct {
		Dist struct {
			Tarball string `json:"tarball"`
			Shasum  string `json:"shasum"`
		} `json:"dist"`
	} `json:"versions"`
}

// abbreviated metadata is much smaller than the full document
const installAccept = "application/vnd.npm.install-v1+json; q=1.0, application/json; q=0.8"

// Versions lists every published version of a package. The order is
// unspecified.
func (c *Client) Versions(ctx context.Context, req PackageRequest) ([]Version, error) {
	target := c.registryURL + "/" + escapeName(req.Name)

	var versions []Version
	err := c.call(ctx, c.timeout, func(ctx context.Context) error {
		started := time.Now()
		resp, err := c.request(ctx, target).
			SetHeader("Accept", installAccept).
			Get(target)
		c.logRequest("GET", target, resp, started)
		if err != nil {
			return transportError("versions", req.Name, err)
		}
		if err := statusError("versions", req.Name, resp.StatusCode(), resp.Body()); err != nil {
			return err
		}

		versions, err = c.decodeVersions(req.Name, resp.Body())
		if err != nil {
			return decodeError("versions", req.Name, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return versions, nil
}

func (c *Client) decodeVersions(name string, body []byte) ([]Version, error) {
	var doc packument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, err
	}
	if doc.Versions == nil {
		return nil, fmt.Errorf("%w: versions", errMissingField)
	}

	out := make([]Version, 0, len(*doc.Versions))
	for v, meta := range *doc.Versions {
		tarball := meta.Dist.Tarball
		if tarball == "" {
			tarball = c.TarballURL(name, v)
		}
		out = append(out, Version{Version: v, Tarball: tarball, Shasum: meta.Dist.Shasum})
	}
	return out, nil
}

// TarballURL is the conventional tarball location of name@version
func (c *Client) TarballURL(name, version string) string {
	base := name
	if i := strings.LastIndex(name, "/"); i >= 0 {
		base = name[i+1:]
	}
	return fmt.Sprintf("%s/%s/-/%s-%s.tgz", c.registryURL, name, base, version)
}

// escapeName encodes the slash of a scoped name, which the registry expects
// as %2f in document URLs
func escapeName(name string) string {
	if strings.HasPrefix(name, "@") {
		return "@" + url.PathEscape(name[1:])
	}
	return url.PathEscape(name)
}
