// Package publish implements the album publish workflow: session acquisition,
// upload target resolution, title and tag entry, batch upload, and publish
// verification against the media-hosting site, plus the shared job and error
// types used by the job source, asset fetchers, and runner.
package publish
