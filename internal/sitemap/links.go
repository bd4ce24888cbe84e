package sitemap

import (
	"context"
	"net/http"

	serrors "github.com/PentesterFlow/sitesurvey/internal/errors"
	"github.com/PentesterFlow/sitesurvey/internal/parser"
)

// HomepageLinks fetches siteURL and returns siteURL followed by the
// same-host links found on it. It is the fallback source for sites that
// publish no sitemap. Failures yield nil.
func (r *Resolver) HomepageLinks(ctx context.Context, siteURL string) []string {
	body, status, err := r.get(ctx, siteURL)
	if err == nil && status != http.StatusOK {
		err = serrors.CategorizeHTTPStatus(status, siteURL)
	}
	if err != nil {
		r.log.ErrorEvent(err, siteURL, "fetch_homepage")
		return nil
	}

	p, err := parser.NewHTMLParser(siteURL)
	if err != nil {
		r.log.ErrorEvent(serrors.NewParseError(siteURL, "parse_homepage", err), siteURL, "parse_homepage")
		return nil
	}
	links, err := p.Links(string(body))
	if err != nil {
		r.log.ErrorEvent(serrors.NewParseError(siteURL, "parse_homepage", err), siteURL, "parse_homepage")
		return nil
	}

	out := make([]string, 0, len(links)+1)
	out = append(out, siteURL)
	for _, l := range links {
		if l != siteURL {
			out = append(out, l)
		}
	}
	r.log.Infof("Homepage fallback found %d links", len(out)-1)
	return out
}
