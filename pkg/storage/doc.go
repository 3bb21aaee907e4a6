// Package storage persists harvest results and mirrored artifacts.
//
// Every write goes through a temporary file that is synced and renamed into
// place, so a crash leaves either the previous content or the new one and
// never a truncated file. ResultStore holds one JSON array per search query;
// ArtifactStore holds tarballs, where the existence of the final file is the
// only completion marker.
package storage
