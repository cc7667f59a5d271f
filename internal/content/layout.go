package content

import "path/filepath"

// SiteUUIDFile is the marker file holding a site's UUID.
const SiteUUIDFile = "SITE_UUID"

// Layout resolves on-disk repository locations:
//
//	<RepoBase>/<SitesRepos>/<siteId>/<Sandbox>
//	<RepoBase>/<SitesRepos>/<siteId>/<Published>
//	<RepoBase>/<SitesRepos>/<siteId>/SITE_UUID
type Layout struct {
	RepoBase   string
	SitesRepos string
	Sandbox    string
	Published  string
}

func (l Layout) SiteDir(siteID string) string {
	return filepath.Join(l.RepoBase, l.SitesRepos, siteID)
}

func (l Layout) SandboxDir(siteID string) string {
	return filepath.Join(l.SiteDir(siteID), l.Sandbox)
}

func (l Layout) PublishedDir(siteID string) string {
	return filepath.Join(l.SiteDir(siteID), l.Published)
}

func (l Layout) UUIDFile(siteID string) string {
	return filepath.Join(l.SiteDir(siteID), SiteUUIDFile)
}
