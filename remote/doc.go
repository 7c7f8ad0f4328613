// Package remote synchronizes repositories between catalogs.
//
// A Remote is a catalog plus an object cache, in memory or on disk (Open).
// Push sends the images a remote lacks together with their objects and tags;
// Pull and Clone do the reverse. Payloads travel through an objects.Handler:
// the default copies them into the remote's cache, while FILE, S3 and HTTP
// handlers store them externally and record the location on both sides.
//
// Pull and Clone transfer metadata only unless Options.DownloadAll is set.
// The remote's store is registered as an upstream of the local one, so a
// later checkout fetches missing payloads on first access.
//
//	origin, err := remote.Open("origin", "/srv/layerdb/origin")
//	stats, err := remote.Push(ctx, repo, origin, core.RepositoryName{}, remote.Options{})
//	...
//	stats, err = remote.Clone(ctx, other, origin, repo.Name, remote.Options{})
package remote
