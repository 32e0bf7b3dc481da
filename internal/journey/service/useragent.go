package service

import (
	"strings"

	"github.com/mssola/useragent"

	"submit/internal/journey/models"
)

// DescribeUserAgent returns the raw user agent with its parsed browser, OS and
// bot flag, ready to merge into event metadata.
func DescribeUserAgent(raw string) models.Metadata {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	ua := useragent.New(raw)
	browser, version := ua.Browser()
	if version != "" {
		browser += " " + version
	}
	return models.Metadata{
		models.MetaUserAgent: raw,
		models.MetaBrowser:   browser,
		models.MetaOS:        ua.OS(),
		models.MetaBot:       ua.Bot(),
	}
}
